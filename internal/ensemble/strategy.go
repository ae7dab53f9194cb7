// Package ensemble implements the combination strategies that turn many
// forecasters' quantile submissions into one ensemble forecast, the registry
// they are selected from, and the engine that drives them per challenge.
package ensemble

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prismcast/prismcast-go/internal/models"
)

// Input carries the effective challenge submissions for one quantile.
type Input struct {
	Period     models.Period
	Resolution time.Duration
	Forecasts  map[string]models.Series
}

// TrainingData is the trailing-window history handed to trainable
// strategies: per-quantile forecaster series plus the measured actuals over
// the same window. Series may cover the window only partially; deciding who
// has enough history is the strategy's job.
type TrainingData struct {
	Window     models.Period
	Resolution time.Duration
	Forecasts  map[models.Variable]map[string]models.Series
	Actuals    models.Series
}

// Strategy is the common surface of every combination strategy.
type Strategy interface {
	Name() string
}

// Combiner is the stateless shape: one call per quantile, no history. The
// returned weight map records each participant's share in the result.
type Combiner interface {
	Strategy
	Combine(ctx context.Context, variable models.Variable, in Input) (models.Series, map[string]float64, error)
}

// Trainable is the stateful shape: Fit once on the trailing window, then
// Predict per quantile. Predict returns the weights actually applied, after
// renormalizing over the forecasters present at prediction time.
type Trainable interface {
	Strategy
	Fit(ctx context.Context, data TrainingData, variables []models.Variable) error
	Predict(ctx context.Context, variable models.Variable, in Input) (models.Series, map[string]float64, error)
}

// Config holds the tunables of ensemble computation.
type Config struct {
	Strategy         string  `json:"strategy"`
	Beta             float64 `json:"beta"`
	ScoreDays        int     `json:"score_days"`
	OutlierMADFactor float64 `json:"outlier_mad_factor"`
	ClipEnabled      bool    `json:"clip_enabled"`
	ClipFloor        float64 `json:"clip_floor"`
}

// DefaultConfig returns the production defaults: exponential weighting with
// beta 1.0 over an 8-day skill window, outliers cut at median + 3*MAD,
// output clipped at zero for physical quantities.
func DefaultConfig() Config {
	return Config{
		Strategy:         StrategyWeightedAverage,
		Beta:             1.0,
		ScoreDays:        8,
		OutlierMADFactor: 3.0,
		ClipEnabled:      true,
		ClipFloor:        0,
	}
}

// Validate checks the tunables an operator can get wrong.
func (c Config) Validate() error {
	if c.Strategy == "" {
		return fmt.Errorf("strategy name must not be empty")
	}
	if c.Beta <= 0 {
		return fmt.Errorf("beta must be positive, got %g", c.Beta)
	}
	if c.ScoreDays < 1 {
		return fmt.Errorf("score_days must be at least 1, got %d", c.ScoreDays)
	}
	if c.OutlierMADFactor < 0 {
		return fmt.Errorf("outlier_mad_factor must not be negative, got %g", c.OutlierMADFactor)
	}
	return nil
}

// eligibleForecasts slices every forecaster's series down to the period and
// keeps only those with complete coverage; any missing point drops the
// forecaster from the whole quantile. Ids come back sorted so every
// downstream float accumulation runs in a fixed order.
func eligibleForecasts(in Input) ([]string, map[string][]float64) {
	ids := make([]string, 0, len(in.Forecasts))
	values := make(map[string][]float64, len(in.Forecasts))
	for id, s := range in.Forecasts {
		if !s.Complete(in.Period) {
			continue
		}
		sub, err := s.Slice(in.Period)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		values[id] = sub.Values
	}
	sort.Strings(ids)
	return ids, values
}

// uniformWeights assigns 1/n to each id.
func uniformWeights(ids []string) map[string]float64 {
	w := make(map[string]float64, len(ids))
	share := 1.0 / float64(len(ids))
	for _, id := range ids {
		w[id] = share
	}
	return w
}
