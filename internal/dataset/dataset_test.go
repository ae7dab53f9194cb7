package dataset

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismcast/prismcast-go/internal/models"
)

var datasetStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func gridStamp(i int) string {
	return datasetStart.Add(time.Duration(i) * models.DefaultResolution).Format(time.RFC3339)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const validConfig = "timezone: UTC\nuse_case: wind_power\nresource: North Ridge\n"

// writeDataset builds a loadable directory: days of 15-minute data for the
// given forecast columns, every value derived from the row index so tests
// can predict any point.
func writeDataset(t *testing.T, days int, columns []string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", validConfig)

	points := days * 96

	var measurements strings.Builder
	measurements.WriteString("datetime,target\n")
	for i := 0; i < points; i++ {
		fmt.Fprintf(&measurements, "%s,%.1f\n", gridStamp(i), float64(i%96))
	}
	writeFile(t, dir, "measurements.csv", measurements.String())

	var forecasts strings.Builder
	forecasts.WriteString("datetime," + strings.Join(columns, ",") + "\n")
	for i := 0; i < points; i++ {
		forecasts.WriteString(gridStamp(i))
		for c := range columns {
			fmt.Fprintf(&forecasts, ",%.1f", float64(i%96+c))
		}
		forecasts.WriteString("\n")
	}
	writeFile(t, dir, "forecasts.csv", forecasts.String())

	return dir
}

// TestLoad_Valid tests that a well-formed directory loads with every column
// mapped to its forecaster and quantile.
func TestLoad_Valid(t *testing.T) {
	dir := writeDataset(t, 9, []string{"alpha_q10", "alpha_q50", "alpha_q90", "beta_fc_q50"})

	ds, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta_fc"}, ds.Forecasters())
	assert.Equal(t, 9*96, ds.Measurements.Len())
	assert.True(t, ds.Measurements.Start.Equal(datasetStart))
	assert.True(t, ds.Span().End.Equal(datasetStart.AddDate(0, 0, 9)))

	assert.Len(t, ds.Forecasts["alpha"], 3)
	assert.Len(t, ds.Forecasts["beta_fc"], 1, "quantile after the last underscore")

	assert.Equal(t, 5.0, ds.Measurements.Values[5])
	assert.Equal(t, 6.0, ds.Forecasts["alpha"][models.VariableQ50].Values[5])
	assert.Equal(t, 8.0, ds.Forecasts["beta_fc"][models.VariableQ50].Values[5])

	rec := ds.ResourceRecord("res-sim")
	assert.Equal(t, "res-sim", rec.ID)
	assert.Equal(t, "North Ridge", rec.Name)
	assert.Equal(t, models.UseCaseWindPower, rec.UseCase)
	assert.Equal(t, "UTC", ds.Location().String())
}

// TestLoad_NaiveStamps tests that offset-free datetimes are read in the
// dataset timezone.
func TestLoad_NaiveStamps(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	localStart := time.Date(2025, 6, 1, 0, 0, 0, 0, madrid)

	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "timezone: Europe/Madrid\nuse_case: solar_power\nresource: Sunfield\n")

	var measurements, forecasts strings.Builder
	measurements.WriteString("datetime,target\n")
	forecasts.WriteString("datetime,alpha_q50\n")
	for i := 0; i < 9*96; i++ {
		stamp := localStart.Add(time.Duration(i) * models.DefaultResolution).Format("2006-01-02 15:04")
		fmt.Fprintf(&measurements, "%s,%d\n", stamp, i)
		fmt.Fprintf(&forecasts, "%s,%d\n", stamp, i)
	}
	writeFile(t, dir, "measurements.csv", measurements.String())
	writeFile(t, dir, "forecasts.csv", forecasts.String())

	ds, err := Load(dir)
	require.NoError(t, err)

	// Madrid is UTC+2 in June: local midnight is 22:00 the previous day.
	want := time.Date(2025, 5, 31, 22, 0, 0, 0, time.UTC)
	assert.True(t, ds.Measurements.Start.Equal(want), "got %s", ds.Measurements.Start)
}

// TestLoad_BlankCellIsMissing tests that an empty cell loads as NaN.
func TestLoad_BlankCellIsMissing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", validConfig)

	var measurements, forecasts strings.Builder
	measurements.WriteString("datetime,target\n")
	forecasts.WriteString("datetime,alpha_q50\n")
	for i := 0; i < 9*96; i++ {
		if i == 10 {
			fmt.Fprintf(&measurements, "%s,\n", gridStamp(i))
		} else {
			fmt.Fprintf(&measurements, "%s,%d\n", gridStamp(i), i)
		}
		fmt.Fprintf(&forecasts, "%s,%d\n", gridStamp(i), i)
	}
	writeFile(t, dir, "measurements.csv", measurements.String())
	writeFile(t, dir, "forecasts.csv", forecasts.String())

	ds, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(ds.Measurements.Values[10]))
	assert.Equal(t, 11.0, ds.Measurements.Values[11])
}

// TestLoad_ShortSpan tests the 9-day minimum.
func TestLoad_ShortSpan(t *testing.T) {
	dir := writeDataset(t, 8, []string{"alpha_q50"})

	_, err := Load(dir)
	assert.ErrorContains(t, err, "need at least 864")
}

// TestLoad_MisalignedGrids tests that the two tables must share one grid.
func TestLoad_MisalignedGrids(t *testing.T) {
	dir := writeDataset(t, 9, []string{"alpha_q50"})

	f, err := os.OpenFile(filepath.Join(dir, "forecasts.csv"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fmt.Fprintf(f, "%s,1.0\n", gridStamp(9*96))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Load(dir)
	assert.ErrorContains(t, err, "not aligned")
}

// TestLoad_GapInGrid tests that a skipped interval is rejected.
func TestLoad_GapInGrid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", validConfig)
	writeFile(t, dir, "measurements.csv", strings.Join([]string{
		"datetime,target",
		gridStamp(0) + ",1",
		gridStamp(1) + ",2",
		gridStamp(3) + ",3", // 30 minutes after the previous row
		"",
	}, "\n"))

	_, err := Load(dir)
	assert.ErrorContains(t, err, "15-minute grid")
}

// TestLoad_BadColumns tests forecast header validation.
func TestLoad_BadColumns(t *testing.T) {
	_, err := Load(writeDataset(t, 9, []string{"alpha_q55"}))
	assert.ErrorContains(t, err, "unknown quantile variable")

	_, err = Load(writeDataset(t, 9, []string{"alpha_q50", "alpha_q50"}))
	assert.ErrorContains(t, err, "duplicate column")
}

// TestLoad_ConfigValidation tests the descriptor checks.
func TestLoad_ConfigValidation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "timezone: UTC\nuse_case: horoscopes\nresource: X\n")
	_, err := Load(dir)
	assert.ErrorContains(t, err, "unknown use_case")

	dir = t.TempDir()
	writeFile(t, dir, "config.yaml", "use_case: wind_power\nresource: X\n")
	_, err = Load(dir)
	assert.ErrorContains(t, err, "missing timezone")

	_, err = Load(t.TempDir())
	assert.Error(t, err, "missing config.yaml")
}
