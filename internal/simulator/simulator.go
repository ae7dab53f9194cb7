// Package simulator replays an offline dataset through the real market
// engine: a fresh in-memory store per strategy with the production services
// on top, one session per day, each held-out day verified against the
// measurements the dataset carries.
package simulator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prismcast/prismcast-go/internal/config"
	"github.com/prismcast/prismcast-go/internal/database"
	"github.com/prismcast/prismcast-go/internal/dataset"
	"github.com/prismcast/prismcast-go/internal/ensemble"
	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/scoring"
	"github.com/prismcast/prismcast-go/internal/services"
)

// simResourceID is the id the replayed resource registers under.
const simResourceID = "res-replay"

// Options tunes a replay run.
type Options struct {
	// Strategies to compare; defaults to weighted_average and mean.
	Strategies []string
	// ScoreDays overrides the training window length when positive.
	ScoreDays int
	// Workers fixes the gate-closure pool size; defaults to 4.
	Workers int
	Logger  *logrus.Logger
}

// Simulator replays datasets through the full engine.
type Simulator struct {
	opts   Options
	logger *logrus.Logger
}

// New builds a simulator, filling unset options with defaults.
func New(opts Options) *Simulator {
	if len(opts.Strategies) == 0 {
		opts.Strategies = []string{ensemble.StrategyWeightedAverage, ensemble.StrategyMean}
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Simulator{opts: opts, logger: logger}
}

// DayScore is one held-out day's ensemble accuracy for one strategy. Metric
// fields are NaN when the quantile produced no combined series or the day's
// ground truth has gaps.
type DayScore struct {
	Day        time.Time
	RMSE       float64
	PinballQ10 float64
	PinballQ90 float64
	// Unavailable counts quantiles without a combined series that day.
	Unavailable int
	// Measured is false when the day's ground truth has gaps.
	Measured bool
}

// StrategyOutcome aggregates one strategy's replay.
type StrategyOutcome struct {
	Strategy string
	Days     []DayScore
}

// MeanRMSE averages the q50 accuracy over days that produced one.
func (o StrategyOutcome) MeanRMSE() float64 {
	return meanDayScore(o.Days, func(d DayScore) float64 { return d.RMSE })
}

// MeanPinballQ10 averages the lower-tail pinball loss.
func (o StrategyOutcome) MeanPinballQ10() float64 {
	return meanDayScore(o.Days, func(d DayScore) float64 { return d.PinballQ10 })
}

// MeanPinballQ90 averages the upper-tail pinball loss.
func (o StrategyOutcome) MeanPinballQ90() float64 {
	return meanDayScore(o.Days, func(d DayScore) float64 { return d.PinballQ90 })
}

// UnavailableTotal sums the quantiles that never produced a series.
func (o StrategyOutcome) UnavailableTotal() int {
	total := 0
	for _, d := range o.Days {
		total += d.Unavailable
	}
	return total
}

func meanDayScore(days []DayScore, pick func(DayScore) float64) float64 {
	var sum float64
	var n int
	for _, d := range days {
		v := pick(d)
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Result is a full comparison run over one dataset.
type Result struct {
	Resource    string
	UseCase     models.UseCase
	Forecasters []string
	Days        []time.Time
	Outcomes    []StrategyOutcome
	// Skill maps forecaster id to daily realized q50 RMSE in day order;
	// days a forecaster sat out are absent. Submissions and ground truth
	// are the same for every strategy, so this is collected once.
	Skill map[string][]float64
}

// Outcome returns the outcome for one strategy name.
func (r *Result) Outcome(strategy string) (StrategyOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Strategy == strategy {
			return o, true
		}
	}
	return StrategyOutcome{}, false
}

// Run replays the dataset once per configured strategy.
func (s *Simulator) Run(ctx context.Context, ds *dataset.Dataset) (*Result, error) {
	scoreDays := s.opts.ScoreDays
	if scoreDays <= 0 {
		scoreDays = ensemble.DefaultConfig().ScoreDays
	}

	days := targetDays(ds, scoreDays)
	if len(days) == 0 {
		return nil, fmt.Errorf("dataset leaves no target days after %d training days", scoreDays)
	}

	result := &Result{
		Resource:    ds.Config.Resource,
		UseCase:     models.UseCase(ds.Config.UseCase),
		Forecasters: ds.Forecasters(),
	}
	for _, p := range days {
		result.Days = append(result.Days, p.Start)
	}

	for i, strategy := range s.opts.Strategies {
		s.logger.WithFields(logrus.Fields{
			"strategy": strategy,
			"days":     len(days),
		}).Info("Replaying dataset")

		outcome, skill, err := s.runStrategy(ctx, ds, strategy, scoreDays, days)
		if err != nil {
			return nil, fmt.Errorf("replay with strategy %s: %w", strategy, err)
		}
		result.Outcomes = append(result.Outcomes, outcome)
		if i == 0 {
			result.Skill = skill
		}
	}
	return result, nil
}

// targetDays lists the local calendar days the dataset can both train for
// and verify: a full training window before, a fully covered day inside.
func targetDays(ds *dataset.Dataset, scoreDays int) []models.Period {
	loc := ds.Location()
	span := ds.Span()

	local := span.Start.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if day.Before(span.Start) {
		day = day.AddDate(0, 0, 1)
	}

	var days []models.Period
	for {
		p := models.DayPeriod(day, loc)
		if p.End.After(span.End) {
			break
		}
		if !models.TrailingWindow(p.Start, scoreDays).Start.Before(span.Start) {
			days = append(days, p)
		}
		day = day.AddDate(0, 0, 1)
	}
	return days
}

func (s *Simulator) runStrategy(ctx context.Context, ds *dataset.Dataset, strategy string, scoreDays int, days []models.Period) (StrategyOutcome, map[string][]float64, error) {
	run, err := s.newStrategyRun(ds, strategy, scoreDays)
	if err != nil {
		return StrategyOutcome{}, nil, err
	}
	if err := run.seed(ctx, days[0].Start); err != nil {
		return StrategyOutcome{}, nil, err
	}

	outcome := StrategyOutcome{Strategy: strategy}
	skill := make(map[string][]float64)
	for _, p := range days {
		score, err := run.replayDay(ctx, p, skill)
		if err != nil {
			return StrategyOutcome{}, nil, err
		}
		outcome.Days = append(outcome.Days, score)
	}
	return outcome, skill, nil
}

// strategyRun is one strategy's isolated market: its own store and services.
type strategyRun struct {
	ds          *dataset.Dataset
	store       *database.MemoryStore
	submissions *services.SubmissionService
	sessions    *services.SessionService
	logger      *logrus.Logger
}

func (s *Simulator) newStrategyRun(ds *dataset.Dataset, strategy string, scoreDays int) (*strategyRun, error) {
	store := database.NewMemoryStore()

	cfg := ensemble.DefaultConfig()
	cfg.Strategy = strategy
	cfg.ScoreDays = scoreDays

	engine, err := ensemble.NewEngine(ensemble.DefaultRegistry(), cfg, s.logger)
	if err != nil {
		return nil, err
	}
	scorer := services.NewScoringService(store, cfg.Beta, s.logger)
	optimizer := services.NewResourceOptimizer(services.ResourceOptimizerConfig{FixedWorkers: s.opts.Workers}, s.logger)
	market := config.MarketConfig{
		Timezone:           ds.Config.Timezone,
		OpenTime:           "07:00",
		GateClosureTime:    "10:30",
		LaunchTime:         "12:00",
		FinishPollInterval: "1h",
	}

	return &strategyRun{
		ds:          ds,
		store:       store,
		submissions: services.NewSubmissionService(store, s.logger),
		sessions:    services.NewSessionService(store, engine, scorer, optimizer, market, s.logger),
		logger:      s.logger,
	}, nil
}

// seed registers the resource and forecasters, loads every measurement, and
// files the pre-market span as historical submissions so the first target
// day already has a full training window.
func (r *strategyRun) seed(ctx context.Context, firstTarget time.Time) error {
	resource := r.ds.ResourceRecord(simResourceID)
	resource.CreatedAt = time.Now().UTC()
	if err := r.store.CreateResource(ctx, &resource); err != nil {
		return fmt.Errorf("failed to register resource: %w", err)
	}

	for _, id := range r.ds.Forecasters() {
		forecaster := models.Forecaster{ID: id, DisplayName: id, CreatedAt: time.Now().UTC()}
		if err := r.store.CreateForecaster(ctx, &forecaster); err != nil {
			return fmt.Errorf("failed to register forecaster %s: %w", id, err)
		}
	}

	if err := r.submissions.SubmitMeasurements(ctx, simResourceID, r.ds.Measurements); err != nil {
		return fmt.Errorf("failed to load measurements: %w", err)
	}

	history := models.Period{Start: r.ds.Span().Start, End: firstTarget}
	if history.Duration() <= 0 {
		return nil
	}
	for _, id := range r.ds.Forecasters() {
		for _, variable := range models.AllVariables() {
			series, ok := r.ds.Forecasts[id][variable]
			if !ok {
				continue
			}
			part, err := series.Slice(history)
			if err != nil {
				return fmt.Errorf("failed to slice history for %s %s: %w", id, variable, err)
			}
			if _, err := r.submissions.SubmitHistorical(ctx, services.HistoricalSubmissionRequest{
				ForecasterID: id,
				ResourceID:   simResourceID,
				Variable:     variable,
				LaunchTime:   part.Start.Add(-24 * time.Hour),
				Series:       part,
			}); err != nil {
				return fmt.Errorf("failed to file history for %s %s: %w", id, variable, err)
			}
		}
	}
	return nil
}

// replayDay runs the full session lifecycle targeting period p and measures
// the launched ensemble against the day's ground truth.
func (r *strategyRun) replayDay(ctx context.Context, p models.Period, skill map[string][]float64) (DayScore, error) {
	// The market runs the day before delivery.
	sessionDate := p.Start.In(r.ds.Location()).AddDate(0, 0, -1)
	dayTag := sessionDate.Format("2006-01-02")

	session, err := r.sessions.OpenSession(ctx, sessionDate)
	if err != nil {
		return DayScore{}, fmt.Errorf("failed to open session for %s: %w", dayTag, err)
	}

	challenges, err := r.store.ListChallengesBySession(ctx, session.ID)
	if err != nil {
		return DayScore{}, fmt.Errorf("failed to list challenges for %s: %w", dayTag, err)
	}
	if len(challenges) != 1 {
		return DayScore{}, fmt.Errorf("session %s opened %d challenges, replay expects one", session.ID, len(challenges))
	}
	challenge := challenges[0]
	if !challenge.StartAt.Equal(p.Start) {
		return DayScore{}, fmt.Errorf("challenge %s covers %s, replay targets %s",
			challenge.ID, challenge.StartAt.Format(time.RFC3339), p.Start.Format(time.RFC3339))
	}

	if err := r.submitDay(ctx, &challenge, session.GateClosureAt); err != nil {
		return DayScore{}, err
	}

	if err := r.sessions.CloseSession(ctx, sessionDate); err != nil {
		return DayScore{}, fmt.Errorf("failed to close session for %s: %w", dayTag, err)
	}
	if err := r.sessions.LaunchSession(ctx, sessionDate); err != nil {
		return DayScore{}, fmt.Errorf("failed to launch session for %s: %w", dayTag, err)
	}
	if err := r.sessions.FinishSessions(ctx); err != nil {
		return DayScore{}, fmt.Errorf("failed to finish sessions after %s: %w", dayTag, err)
	}

	return r.scoreDay(ctx, challenge, p, skill)
}

// submitDay files every forecaster's quantile slices for the challenge. A
// forecaster whose slice has gaps sits the day out, same as live.
func (r *strategyRun) submitDay(ctx context.Context, challenge *models.Challenge, gateClosure time.Time) error {
	period := challenge.Period()
	registeredAt := gateClosure.Add(-time.Hour)

	for _, id := range r.ds.Forecasters() {
		for _, variable := range models.AllVariables() {
			series, ok := r.ds.Forecasts[id][variable]
			if !ok {
				continue
			}
			day, err := series.Slice(period)
			if err != nil {
				return fmt.Errorf("forecasts for %s do not cover %s: %w", id, period.Start.Format(time.RFC3339), err)
			}
			if day.HasNaN() {
				continue
			}
			if _, err := r.submissions.SubmitChallenge(ctx, services.ChallengeSubmissionRequest{
				ForecasterID: id,
				ChallengeID:  challenge.ID,
				Variable:     variable,
				Series:       day,
				RegisteredAt: registeredAt,
			}); err != nil {
				return fmt.Errorf("failed to submit %s %s: %w", id, variable, err)
			}
		}
	}
	return nil
}

// scoreDay reads the day's launched results and realized scores back out of
// the store and turns them into the replay's comparison record.
func (r *strategyRun) scoreDay(ctx context.Context, challenge models.Challenge, p models.Period, skill map[string][]float64) (DayScore, error) {
	score := DayScore{
		Day:        p.Start,
		RMSE:       math.NaN(),
		PinballQ10: math.NaN(),
		PinballQ90: math.NaN(),
	}

	actual, err := r.ds.Measurements.Slice(p)
	if err != nil {
		return DayScore{}, fmt.Errorf("measurements do not cover %s: %w", p.Start.Format(time.RFC3339), err)
	}
	score.Measured = !actual.HasNaN()

	results, err := r.store.ListEnsembleResults(ctx, challenge.ID)
	if err != nil {
		return DayScore{}, fmt.Errorf("failed to read results for %s: %w", challenge.ID, err)
	}
	for _, result := range results {
		if !result.Available {
			score.Unavailable++
			continue
		}
		if !score.Measured {
			continue
		}
		switch result.Variable {
		case models.VariableQ50:
			score.RMSE, err = scoring.RMSE(actual.Values, result.Series.Values)
		case models.VariableQ10:
			score.PinballQ10, err = scoring.Pinball(actual.Values, result.Series.Values, models.VariableQ10.Level())
		case models.VariableQ90:
			score.PinballQ90, err = scoring.Pinball(actual.Values, result.Series.Values, models.VariableQ90.Level())
		}
		if err != nil {
			return DayScore{}, fmt.Errorf("failed to score %s %s: %w", challenge.ID, result.Variable, err)
		}
	}

	batchID, err := r.store.LatestScoreBatch(ctx, challenge.ID)
	if err != nil {
		return DayScore{}, fmt.Errorf("failed to read score batch for %s: %w", challenge.ID, err)
	}
	if batchID != "" {
		records, err := r.store.ListScores(ctx, challenge.ID, batchID)
		if err != nil {
			return DayScore{}, fmt.Errorf("failed to read scores for %s: %w", challenge.ID, err)
		}
		for _, record := range records {
			if record.Variable == models.VariableQ50 && record.Metric == models.MetricRMSE {
				skill[record.ForecasterID] = append(skill[record.ForecasterID], record.Value)
			}
		}
	}
	return score, nil
}
