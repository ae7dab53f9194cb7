package models

import (
	"fmt"
	"math"
	"time"
)

// DefaultResolution is the fixed market resolution: 96 points per regular day.
const DefaultResolution = 15 * time.Minute

// Period is a half-open time range [Start, End) in UTC.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the total length of the period.
func (p Period) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// PointCount returns the number of resolution steps inside the period.
func (p Period) PointCount(resolution time.Duration) int {
	if resolution <= 0 {
		return 0
	}
	return int(p.End.Sub(p.Start) / resolution)
}

// Contains reports whether t falls inside [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// DayPeriod returns the UTC period covering one calendar day in the given
// location. Daylight-saving transition days yield 23h or 25h periods, which
// is how challenge series end up with 92 or 100 points instead of 96.
func DayPeriod(day time.Time, loc *time.Location) Period {
	y, m, d := day.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return Period{Start: start.UTC(), End: end.UTC()}
}

// TrailingWindow returns the period of n whole days ending at end.
func TrailingWindow(end time.Time, days int) Period {
	return Period{Start: end.UTC().Add(-time.Duration(days) * 24 * time.Hour), End: end.UTC()}
}

// Series is a gap-free, fixed-resolution forecast or measurement sequence.
// Timestamps are implicit: point i sits at Start + i*Resolution. A NaN value
// marks a point missing at the source; the sequence itself never has holes.
type Series struct {
	Start      time.Time     `json:"start"`
	Resolution time.Duration `json:"resolution"`
	Values     []float64     `json:"values"`
}

// NewSeries builds a series with its start normalized to UTC.
func NewSeries(start time.Time, resolution time.Duration, values []float64) Series {
	return Series{Start: start.UTC(), Resolution: resolution, Values: values}
}

// Len returns the number of points.
func (s Series) Len() int {
	return len(s.Values)
}

// End returns the exclusive end timestamp of the series.
func (s Series) End() time.Time {
	return s.Start.Add(time.Duration(len(s.Values)) * s.Resolution)
}

// Period returns the half-open range the series covers.
func (s Series) Period() Period {
	return Period{Start: s.Start, End: s.End()}
}

// Index maps a timestamp to its point index. The second return is false when
// t is outside the series or not aligned to the resolution grid.
func (s Series) Index(t time.Time) (int, bool) {
	if s.Resolution <= 0 {
		return 0, false
	}
	offset := t.Sub(s.Start)
	if offset < 0 || offset%s.Resolution != 0 {
		return 0, false
	}
	i := int(offset / s.Resolution)
	if i >= len(s.Values) {
		return 0, false
	}
	return i, true
}

// At returns the value at timestamp t.
func (s Series) At(t time.Time) (float64, bool) {
	i, ok := s.Index(t)
	if !ok {
		return 0, false
	}
	return s.Values[i], true
}

// Timestamps materializes the implicit timestamp grid.
func (s Series) Timestamps() []time.Time {
	ts := make([]time.Time, len(s.Values))
	for i := range s.Values {
		ts[i] = s.Start.Add(time.Duration(i) * s.Resolution)
	}
	return ts
}

// Covers reports whether the series spans the whole period on an aligned grid.
func (s Series) Covers(p Period) bool {
	if s.Resolution <= 0 || len(s.Values) == 0 {
		return false
	}
	if s.Start.After(p.Start) || s.End().Before(p.End) {
		return false
	}
	return p.Start.Sub(s.Start)%s.Resolution == 0
}

// Slice extracts the sub-series covering exactly the given period.
func (s Series) Slice(p Period) (Series, error) {
	if !s.Covers(p) {
		return Series{}, fmt.Errorf("series %s..%s does not cover period %s..%s",
			s.Start.Format(time.RFC3339), s.End().Format(time.RFC3339),
			p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
	}
	from := int(p.Start.Sub(s.Start) / s.Resolution)
	n := p.PointCount(s.Resolution)
	return Series{Start: p.Start, Resolution: s.Resolution, Values: s.Values[from : from+n]}, nil
}

// HasNaN reports whether any point is missing.
func (s Series) HasNaN() bool {
	for _, v := range s.Values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// Complete reports whether the series fully covers the period with no missing
// values inside it. This is the eligibility test the weighting policy uses: a
// forecaster missing any point in the window is dropped from the quantile.
func (s Series) Complete(p Period) bool {
	sub, err := s.Slice(p)
	if err != nil {
		return false
	}
	return !sub.HasNaN()
}

// Clip returns a copy with every value raised to at least floor.
func (s Series) Clip(floor float64) Series {
	out := Series{Start: s.Start, Resolution: s.Resolution, Values: make([]float64, len(s.Values))}
	for i, v := range s.Values {
		if v < floor {
			v = floor
		}
		out.Values[i] = v
	}
	return out
}

// Validate checks the structural invariants every stored series must hold.
func (s Series) Validate() error {
	if s.Resolution <= 0 {
		return fmt.Errorf("resolution must be positive, got %s", s.Resolution)
	}
	if len(s.Values) == 0 {
		return fmt.Errorf("series has no values")
	}
	if !s.Start.Equal(s.Start.Truncate(time.Minute)) {
		return fmt.Errorf("series start %s is not minute-aligned", s.Start.Format(time.RFC3339Nano))
	}
	return nil
}
