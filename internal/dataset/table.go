package dataset

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prismcast/prismcast-go/internal/models"
)

// table is one parsed CSV: a datetime column proven contiguous on the
// 15-minute grid plus the remaining columns as floats, NaN for blanks.
type table struct {
	header []string
	start  time.Time
	cols   [][]float64
}

// naiveLayouts are accepted datetime forms without a UTC offset; they are
// interpreted in the dataset timezone.
var naiveLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func readTable(path string, loc *time.Location) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s has no data rows", filepath.Base(path))
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	if len(header) < 2 || header[0] != "datetime" {
		return nil, fmt.Errorf("%s: first column must be datetime", filepath.Base(path))
	}

	rows := records[1:]
	cols := make([][]float64, len(header)-1)
	for i := range cols {
		cols[i] = make([]float64, len(rows))
	}

	var start, prev time.Time
	for n, row := range rows {
		stamp, err := parseStamp(row[0], loc)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", filepath.Base(path), n+2, err)
		}
		if n == 0 {
			start = stamp
		} else if stamp.Sub(prev) != models.DefaultResolution {
			return nil, fmt.Errorf("%s row %d: %s does not follow %s on the 15-minute grid",
				filepath.Base(path), n+2, stamp.Format(time.RFC3339), prev.Format(time.RFC3339))
		}
		prev = stamp

		for c := 1; c < len(row); c++ {
			v, err := parseValue(row[c])
			if err != nil {
				return nil, fmt.Errorf("%s row %d column %s: %w", filepath.Base(path), n+2, header[c], err)
			}
			cols[c-1][n] = v
		}
	}

	return &table{header: header, start: start.UTC(), cols: cols}, nil
}

func parseStamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse datetime %q", s)
}

// parseValue treats a blank cell as a missing point. NaN spellings parse
// through strconv; infinities are data corruption, not gaps.
func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if math.IsInf(v, 0) {
		return 0, fmt.Errorf("infinite value %q", s)
	}
	return v, nil
}
