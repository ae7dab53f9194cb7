package ensemble

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/scoring"
)

// WeightedAverageStrategy is the production strategy: per quantile it scores
// each forecaster's trailing-window skill, drops consensus outliers by DTW
// distance, turns scores into exponential weights and predicts the weighted
// sum. Instances are created fresh per challenge and must be Fit before
// Predict.
type WeightedAverageStrategy struct {
	cfg       Config
	fitted    bool
	weights   map[models.Variable]map[string]float64
	summaries map[models.Variable]FitSummary
}

// FitSummary records what training decided for one quantile, for logging
// and inspection. Exclusions here are per-run only; nothing is persisted.
type FitSummary struct {
	Scores              map[string]float64
	Outliers            []string
	InsufficientHistory []string
	EqualWeightFallback bool
}

// NewWeightedAverageStrategy builds an unfitted instance.
func NewWeightedAverageStrategy(cfg Config) *WeightedAverageStrategy {
	return &WeightedAverageStrategy{
		cfg:       cfg,
		weights:   make(map[models.Variable]map[string]float64),
		summaries: make(map[models.Variable]FitSummary),
	}
}

// Name returns the registry key.
func (s *WeightedAverageStrategy) Name() string { return StrategyWeightedAverage }

// Summary returns the fit decisions for one quantile.
func (s *WeightedAverageStrategy) Summary(variable models.Variable) (FitSummary, bool) {
	sum, ok := s.summaries[variable]
	return sum, ok
}

// Weights returns the trained, normalized weights for one quantile.
func (s *WeightedAverageStrategy) Weights(variable models.Variable) map[string]float64 {
	return s.weights[variable]
}

// Fit computes per-quantile weights over the trailing score window. Each
// quantile is handled independently: forecasters without complete window
// coverage are excluded, DTW outliers against the consensus median are
// excluded, and the survivors get exp(-beta*score) weights normalized to
// sum 1. Degenerate cases fall back to equal weighting over whoever still
// has complete data; a quantile nobody covers ends up with no weights and
// becomes unavailable at prediction.
func (s *WeightedAverageStrategy) Fit(_ context.Context, data TrainingData, variables []models.Variable) error {
	if data.Resolution <= 0 {
		return fmt.Errorf("training data resolution must be positive")
	}

	window := models.TrailingWindow(data.Window.End, s.cfg.ScoreDays)

	var actualValues []float64
	actualsOK := data.Actuals.Complete(window)
	if actualsOK {
		sub, err := data.Actuals.Slice(window)
		if err != nil {
			return fmt.Errorf("failed to slice actuals to score window: %w", err)
		}
		actualValues = sub.Values
	}

	for _, variable := range variables {
		s.fitVariable(variable, data.Forecasts[variable], window, actualValues)
	}
	s.fitted = true
	return nil
}

func (s *WeightedAverageStrategy) fitVariable(variable models.Variable, candidates map[string]models.Series, window models.Period, actuals []float64) {
	summary := FitSummary{Scores: make(map[string]float64)}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	complete := make([]string, 0, len(ids))
	values := make(map[string][]float64, len(ids))
	for _, id := range ids {
		series := candidates[id]
		if !series.Complete(window) {
			summary.InsufficientHistory = append(summary.InsufficientHistory, id)
			continue
		}
		sub, err := series.Slice(window)
		if err != nil {
			summary.InsufficientHistory = append(summary.InsufficientHistory, id)
			continue
		}
		complete = append(complete, id)
		values[id] = sub.Values
	}

	if len(complete) == 0 {
		s.weights[variable] = nil
		s.summaries[variable] = summary
		return
	}

	// Consensus median over the window, then DTW distance per forecaster.
	n := len(values[complete[0]])
	consensus := make([]float64, n)
	column := make([]float64, len(complete))
	for i := 0; i < n; i++ {
		for j, id := range complete {
			column[j] = values[id][i]
		}
		consensus[i] = medianOf(column)
	}

	distances := make(map[string]float64, len(complete))
	for _, id := range complete {
		distances[id] = dtwDistance(values[id], consensus)
	}
	outlierSet := detectOutliers(distances, s.cfg.OutlierMADFactor)

	remaining := make([]string, 0, len(complete))
	for _, id := range complete {
		if outlierSet[id] {
			summary.Outliers = append(summary.Outliers, id)
			continue
		}
		remaining = append(remaining, id)
	}
	if len(remaining) == 0 {
		// Everyone flagged: the filter has nothing to compare against, so
		// fall back to equal weighting over the complete set.
		remaining = complete
		summary.EqualWeightFallback = true
	}

	weights := s.transformScores(variable, remaining, values, actuals, &summary)
	s.weights[variable] = weights
	s.summaries[variable] = summary
}

// transformScores turns trailing-window skill into normalized weights.
func (s *WeightedAverageStrategy) transformScores(variable models.Variable, remaining []string, values map[string][]float64, actuals []float64, summary *FitSummary) map[string]float64 {
	scored := make([]string, 0, len(remaining))
	if actuals != nil {
		for _, id := range remaining {
			score, err := scoring.VariableScore(actuals, values[id], variable)
			if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
				continue
			}
			summary.Scores[id] = score
			scored = append(scored, id)
		}
	}

	if len(scored) == 0 {
		// No usable scores at all: equal weighting over whoever remains.
		summary.EqualWeightFallback = true
		w := make(map[string]float64, len(remaining))
		for _, id := range remaining {
			w[id] = 1.0 / float64(len(remaining))
		}
		return w
	}

	weights, degenerate := ExpWeights(summary.Scores, s.cfg.Beta)
	if degenerate {
		summary.EqualWeightFallback = true
	}
	return weights
}

// ExpWeights turns error scores into weights via exp(-beta*score), normalized
// to sum 1; a lower score never gets a smaller weight. The boolean reports
// the degenerate case where every weight collapsed to zero or worse and an
// equal split over the scored ids was used instead. Iteration is in sorted
// id order so identical inputs produce bit-identical sums.
func ExpWeights(scores map[string]float64, beta float64) (map[string]float64, bool) {
	if len(scores) == 0 {
		return nil, false
	}
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	weights := make(map[string]float64, len(ids))
	var sum float64
	for _, id := range ids {
		w := math.Exp(-beta * scores[id])
		weights[id] = w
		sum += w
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		for _, id := range ids {
			weights[id] = 1.0 / float64(len(ids))
		}
		return weights, true
	}
	for _, id := range ids {
		weights[id] /= sum
	}
	return weights, false
}

// Predict combines the quantile's complete challenge submissions using the
// trained weights, renormalized over the forecasters actually present. The
// returned map is the final weighting the ensemble record stores.
func (s *WeightedAverageStrategy) Predict(_ context.Context, variable models.Variable, in Input) (models.Series, map[string]float64, error) {
	if !s.fitted {
		return models.Series{}, nil, fmt.Errorf("weighted_average must be fitted before predicting")
	}
	trained := s.weights[variable]
	if len(trained) == 0 {
		return models.Series{}, nil, fmt.Errorf("no forecasters survived training for %s", variable)
	}

	ids, values := eligibleForecasts(in)
	present := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := trained[id]; ok {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return models.Series{}, nil, fmt.Errorf("no trained forecaster submitted a complete series for %s", variable)
	}

	var denom float64
	for _, id := range present {
		denom += trained[id]
	}
	final := make(map[string]float64, len(present))
	if denom <= 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		for _, id := range present {
			final[id] = 1.0 / float64(len(present))
		}
	} else {
		for _, id := range present {
			final[id] = trained[id] / denom
		}
	}

	n := in.Period.PointCount(in.Resolution)
	out := make([]float64, n)
	for _, id := range present {
		w := final[id]
		for i, v := range values[id] {
			out[i] += w * v
		}
	}

	series := models.NewSeries(in.Period.Start, in.Resolution, out)
	return series, final, nil
}
