package ensemble

import (
	"context"
	"fmt"

	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/scoring"
)

// BestSingleStrategy picks one forecaster and returns their series
// untouched. Having no history to judge skill by, it takes the forecaster
// closest (by RMSE) to the cross-forecaster median over the challenge
// period; ties go to the lowest forecaster id.
type BestSingleStrategy struct{}

// Name returns the registry key.
func (s *BestSingleStrategy) Name() string { return StrategyBestSingle }

// Combine selects the forecaster nearest the consensus median.
func (s *BestSingleStrategy) Combine(_ context.Context, variable models.Variable, in Input) (models.Series, map[string]float64, error) {
	ids, values := eligibleForecasts(in)
	if len(ids) == 0 {
		return models.Series{}, nil, fmt.Errorf("no eligible forecasters for %s", variable)
	}

	n := in.Period.PointCount(in.Resolution)
	consensus := make([]float64, n)
	column := make([]float64, len(ids))
	for i := 0; i < n; i++ {
		for j, id := range ids {
			column[j] = values[id][i]
		}
		consensus[i] = medianOf(column)
	}

	best := ""
	bestDist := 0.0
	for _, id := range ids {
		dist, err := scoring.RMSE(consensus, values[id])
		if err != nil {
			continue
		}
		if best == "" || dist < bestDist {
			best = id
			bestDist = dist
		}
	}
	if best == "" {
		return models.Series{}, nil, fmt.Errorf("no eligible forecasters for %s", variable)
	}

	out := make([]float64, n)
	copy(out, values[best])
	series := models.NewSeries(in.Period.Start, in.Resolution, out)
	return series, map[string]float64{best: 1.0}, nil
}
