package ensemble

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Engine drives one strategy through a challenge: a fresh instance comes from
// the registry, gets fitted when trainable, and emits one EnsembleResult per
// quantile. Failures isolate per (challenge, variable); a pair that cannot be
// computed yields an unavailable result and the rest continue.
type Engine struct {
	registry *Registry
	cfg      Config
	logger   *logrus.Logger
}

// ChallengeInput is everything the orchestrator gathered for one challenge
// before invoking the engine: effective submissions per quantile, the
// trailing training window, and whether the resource's clip is disabled.
type ChallengeInput struct {
	Variables   []models.Variable
	Forecasts   map[models.Variable]map[string]models.Series
	Training    TrainingData
	Resolution  time.Duration
	DisableClip bool
}

// NewEngine validates the configuration against the registry. An unknown
// strategy name is fatal here, before any session work starts.
func NewEngine(registry *Registry, cfg Config, logger *logrus.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ensemble config: %w", err)
	}
	if _, err := registry.Create(cfg.Strategy, cfg); err != nil {
		return nil, err
	}
	return &Engine{registry: registry, cfg: cfg, logger: logger}, nil
}

// Config returns the engine's tunables.
func (e *Engine) Config() Config {
	return e.cfg
}

// ComputeChallenge produces the ensemble results for every requested
// quantile of one challenge. The strategy instance is fresh per call, so
// trained state never crosses challenges, and all internal iteration runs
// in sorted forecaster order: identical inputs and config give bit-identical
// series and weights.
func (e *Engine) ComputeChallenge(ctx context.Context, challenge models.Challenge, in ChallengeInput) []models.EnsembleResult {
	now := time.Now().UTC()
	variables := in.Variables
	if len(variables) == 0 {
		variables = models.AllVariables()
	}

	strategy, err := e.registry.Create(e.cfg.Strategy, e.cfg)
	if err != nil {
		// NewEngine verified the name; reaching this means the registry
		// changed underneath us, which the shared-resource policy forbids.
		results := make([]models.EnsembleResult, 0, len(variables))
		for _, v := range variables {
			results = append(results, e.unavailable(challenge, v, err.Error(), now))
		}
		return results
	}

	trainable, isTrainable := strategy.(Trainable)
	if isTrainable {
		if err := trainable.Fit(ctx, in.Training, variables); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"challenge": challenge.ID,
				"strategy":  strategy.Name(),
			}).Warn("Strategy fit failed, marking all variables unavailable")
			results := make([]models.EnsembleResult, 0, len(variables))
			for _, v := range variables {
				results = append(results, e.unavailable(challenge, v, fmt.Sprintf("fit failed: %v", err), now))
			}
			return results
		}
		e.logFitSummaries(challenge, strategy, variables)
	}

	results := make([]models.EnsembleResult, 0, len(variables))
	for _, variable := range variables {
		input := Input{
			Period:     challenge.Period(),
			Resolution: in.Resolution,
			Forecasts:  in.Forecasts[variable],
		}

		var (
			series  models.Series
			weights map[string]float64
			combErr error
		)
		if isTrainable {
			series, weights, combErr = trainable.Predict(ctx, variable, input)
		} else if combiner, ok := strategy.(Combiner); ok {
			series, weights, combErr = combiner.Combine(ctx, variable, input)
		} else {
			combErr = fmt.Errorf("strategy %q implements neither shape", strategy.Name())
		}

		if combErr != nil {
			e.logger.WithFields(logrus.Fields{
				"challenge": challenge.ID,
				"variable":  variable,
				"strategy":  strategy.Name(),
				"reason":    combErr.Error(),
			}).Warn("Ensemble unavailable for challenge variable")
			results = append(results, e.unavailable(challenge, variable, combErr.Error(), now))
			continue
		}

		if got, want := series.Len(), challenge.Period().PointCount(in.Resolution); got != want {
			reason := fmt.Sprintf("strategy output has %d points, challenge period needs %d", got, want)
			results = append(results, e.unavailable(challenge, variable, reason, now))
			continue
		}

		if e.cfg.ClipEnabled && !in.DisableClip {
			series = series.Clip(e.cfg.ClipFloor)
		}

		results = append(results, models.EnsembleResult{
			ID:          uuid.New().String(),
			ChallengeID: challenge.ID,
			Variable:    variable,
			Strategy:    strategy.Name(),
			Series:      series,
			Weights:     weights,
			Available:   true,
			ComputedAt:  now,
		})
	}
	return results
}

func (e *Engine) unavailable(challenge models.Challenge, variable models.Variable, reason string, at time.Time) models.EnsembleResult {
	return models.EnsembleResult{
		ID:          uuid.New().String(),
		ChallengeID: challenge.ID,
		Variable:    variable,
		Strategy:    e.cfg.Strategy,
		Available:   false,
		Reason:      reason,
		ComputedAt:  at,
	}
}

func (e *Engine) logFitSummaries(challenge models.Challenge, strategy Strategy, variables []models.Variable) {
	summarizer, ok := strategy.(interface {
		Summary(models.Variable) (FitSummary, bool)
	})
	if !ok {
		return
	}
	for _, variable := range variables {
		summary, ok := summarizer.Summary(variable)
		if !ok {
			continue
		}
		if len(summary.Outliers) > 0 || len(summary.InsufficientHistory) > 0 || summary.EqualWeightFallback {
			e.logger.WithFields(logrus.Fields{
				"challenge":            challenge.ID,
				"variable":             variable,
				"outliers":             summary.Outliers,
				"insufficient_history": summary.InsufficientHistory,
				"equal_weight":         summary.EqualWeightFallback,
			}).Info("Fit exclusions for challenge variable")
		}
	}
}
