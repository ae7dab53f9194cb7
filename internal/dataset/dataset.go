// Package dataset loads the offline evaluation directory format: a
// config.yaml descriptor next to measurements.csv and forecasts.csv on one
// aligned 15-minute grid. It is the canonical way to exercise the engine
// without a live API or database.
package dataset

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/prismcast/prismcast-go/internal/models"
)

// MinSpanDays is the shortest dataset the harness accepts: eight days of
// training history plus one forecast target day.
const MinSpanDays = 9

// Config is the dataset descriptor read from config.yaml.
type Config struct {
	Timezone string `mapstructure:"timezone"`
	UseCase  string `mapstructure:"use_case"`
	Resource string `mapstructure:"resource"`
}

// Dataset is one offline evaluation directory loaded into memory.
// Measurements and every forecast column share the same grid.
type Dataset struct {
	Config       Config
	Measurements models.Series
	Forecasts    map[string]map[models.Variable]models.Series
}

// Load reads and validates the dataset directory.
func Load(dir string) (*Dataset, error) {
	cfg, err := loadConfig(filepath.Join(dir, "config.yaml"))
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset timezone %q: %w", cfg.Timezone, err)
	}

	measurements, err := loadMeasurements(filepath.Join(dir, "measurements.csv"), loc)
	if err != nil {
		return nil, err
	}

	forecasts, forecastGrid, err := loadForecasts(filepath.Join(dir, "forecasts.csv"), loc)
	if err != nil {
		return nil, err
	}

	if !measurements.Start.Equal(forecastGrid.Start) || measurements.Len() != forecastGrid.Len() {
		return nil, fmt.Errorf("measurements grid %s x%d and forecasts grid %s x%d are not aligned",
			measurements.Start.Format(time.RFC3339), measurements.Len(),
			forecastGrid.Start.Format(time.RFC3339), forecastGrid.Len())
	}

	minPoints := MinSpanDays * int(24*time.Hour/models.DefaultResolution)
	if measurements.Len() < minPoints {
		return nil, fmt.Errorf("dataset spans %d points, need at least %d (%d days)",
			measurements.Len(), minPoints, MinSpanDays)
	}

	return &Dataset{
		Config:       *cfg,
		Measurements: measurements,
		Forecasts:    forecasts,
	}, nil
}

// Span returns the period the dataset covers.
func (d *Dataset) Span() models.Period {
	return d.Measurements.Period()
}

// Forecasters returns the forecaster ids present in the forecasts table,
// sorted for deterministic iteration.
func (d *Dataset) Forecasters() []string {
	ids := make([]string, 0, len(d.Forecasts))
	for id := range d.Forecasts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Location resolves the dataset timezone. Load already proved it parses.
func (d *Dataset) Location() *time.Location {
	loc, err := time.LoadLocation(d.Config.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResourceRecord materializes the dataset's resource under the given id.
func (d *Dataset) ResourceRecord(id string) models.Resource {
	return models.Resource{
		ID:       id,
		Name:     d.Config.Resource,
		UseCase:  models.UseCase(d.Config.UseCase),
		Timezone: d.Config.Timezone,
	}
}

func loadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read dataset config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse dataset config: %w", err)
	}

	if cfg.Timezone == "" {
		return nil, fmt.Errorf("dataset config is missing timezone")
	}
	if !models.UseCase(cfg.UseCase).Valid() {
		return nil, fmt.Errorf("dataset config has unknown use_case %q", cfg.UseCase)
	}
	if cfg.Resource == "" {
		return nil, fmt.Errorf("dataset config is missing resource")
	}
	return &cfg, nil
}

func loadMeasurements(path string, loc *time.Location) (models.Series, error) {
	tbl, err := readTable(path, loc)
	if err != nil {
		return models.Series{}, err
	}
	if len(tbl.header) != 2 || tbl.header[1] != "target" {
		return models.Series{}, fmt.Errorf("%s: header must be datetime,target, got %s",
			filepath.Base(path), strings.Join(tbl.header, ","))
	}
	return models.NewSeries(tbl.start, models.DefaultResolution, tbl.cols[0]), nil
}

func loadForecasts(path string, loc *time.Location) (map[string]map[models.Variable]models.Series, models.Series, error) {
	tbl, err := readTable(path, loc)
	if err != nil {
		return nil, models.Series{}, err
	}

	forecasts := make(map[string]map[models.Variable]models.Series)
	for i, name := range tbl.header[1:] {
		forecaster, variable, err := splitColumn(name)
		if err != nil {
			return nil, models.Series{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if _, ok := forecasts[forecaster][variable]; ok {
			return nil, models.Series{}, fmt.Errorf("%s: duplicate column %s", filepath.Base(path), name)
		}
		if forecasts[forecaster] == nil {
			forecasts[forecaster] = make(map[models.Variable]models.Series)
		}
		forecasts[forecaster][variable] = models.NewSeries(tbl.start, models.DefaultResolution, tbl.cols[i])
	}

	grid := models.NewSeries(tbl.start, models.DefaultResolution, tbl.cols[0])
	return forecasts, grid, nil
}

// splitColumn parses a forecasts header cell of the form
// {forecaster}_{quantile}. Forecaster ids may themselves contain
// underscores, so the quantile is whatever follows the last one.
func splitColumn(name string) (string, models.Variable, error) {
	i := strings.LastIndex(name, "_")
	if i <= 0 || i == len(name)-1 {
		return "", "", fmt.Errorf("column %q is not of the form {forecaster}_{quantile}", name)
	}
	variable, err := models.ParseVariable(name[i+1:])
	if err != nil {
		return "", "", fmt.Errorf("column %q: %w", name, err)
	}
	return name[:i], variable, nil
}
