package ensemble

import (
	"context"
	"fmt"
	"sort"

	"github.com/prismcast/prismcast-go/internal/models"
)

// MedianStrategy combines forecasts by per-timestamp median, which shrugs
// off a single wild forecaster without any outlier machinery.
type MedianStrategy struct{}

// Name returns the registry key.
func (s *MedianStrategy) Name() string { return StrategyMedian }

// Combine takes the median of every eligible forecaster's value at each
// timestamp.
func (s *MedianStrategy) Combine(_ context.Context, variable models.Variable, in Input) (models.Series, map[string]float64, error) {
	ids, values := eligibleForecasts(in)
	if len(ids) == 0 {
		return models.Series{}, nil, fmt.Errorf("no eligible forecasters for %s", variable)
	}

	n := in.Period.PointCount(in.Resolution)
	out := make([]float64, n)
	column := make([]float64, len(ids))
	for i := 0; i < n; i++ {
		for j, id := range ids {
			column[j] = values[id][i]
		}
		out[i] = medianOf(column)
	}

	series := models.NewSeries(in.Period.Start, in.Resolution, out)
	return series, uniformWeights(ids), nil
}

// medianOf returns the median of xs without reordering the caller's slice.
func medianOf(xs []float64) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
