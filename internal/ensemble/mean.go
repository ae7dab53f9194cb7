package ensemble

import (
	"context"
	"fmt"

	"github.com/prismcast/prismcast-go/internal/models"
)

// MeanStrategy combines forecasts by arithmetic mean per timestamp.
type MeanStrategy struct{}

// Name returns the registry key.
func (s *MeanStrategy) Name() string { return StrategyMean }

// Combine averages every eligible forecaster's value at each timestamp.
func (s *MeanStrategy) Combine(_ context.Context, variable models.Variable, in Input) (models.Series, map[string]float64, error) {
	ids, values := eligibleForecasts(in)
	if len(ids) == 0 {
		return models.Series{}, nil, fmt.Errorf("no eligible forecasters for %s", variable)
	}

	n := in.Period.PointCount(in.Resolution)
	out := make([]float64, n)
	for _, id := range ids {
		for i, v := range values[id] {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(len(ids))
	}

	series := models.NewSeries(in.Period.Start, in.Resolution, out)
	return series, uniformWeights(ids), nil
}
