package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/prismcast/prismcast-go/internal/config"
	"github.com/prismcast/prismcast-go/internal/database"
	"github.com/prismcast/prismcast-go/internal/ensemble"
	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/telemetry"
	"github.com/prismcast/prismcast-go/internal/utils"
	"github.com/prismcast/prismcast-go/pkg/interfaces"
)

// ResultPublisher pushes launched results to the read side. The redis
// result cache satisfies it; the simulator runs without one.
type ResultPublisher interface {
	Publish(ctx context.Context, sessionID string, results []models.EnsembleResult) error
}

// Notifier receives session lifecycle events. Implementations must not
// block; failures are theirs to log.
type Notifier interface {
	SessionOpened(ctx context.Context, session *models.MarketSession, challenges []models.Challenge)
	SessionLaunched(ctx context.Context, session *models.MarketSession, results []models.EnsembleResult)
	SessionFinished(ctx context.Context, session *models.MarketSession, scores []models.ScoreRecord)
}

// SessionService drives the daily market lifecycle: open a session and its
// challenges, compute ensembles at gate closure, publish at launch, score
// once ground truth arrives. Every transition is triggered externally and
// safe to retrigger; a session that already moved on is a no-op.
type SessionService struct {
	store     interfaces.MarketStore
	engine    *ensemble.Engine
	scorer    *ScoringService
	optimizer *ResourceOptimizer
	market    config.MarketConfig
	logger    *logrus.Logger
	publisher ResultPublisher
	notifier  Notifier
	tracer    *telemetry.BusinessTracer
	now       func() time.Time
}

// NewSessionService creates the lifecycle orchestrator.
func NewSessionService(store interfaces.MarketStore, engine *ensemble.Engine, scorer *ScoringService, optimizer *ResourceOptimizer, market config.MarketConfig, logger *logrus.Logger) *SessionService {
	return &SessionService{
		store:     store,
		engine:    engine,
		scorer:    scorer,
		optimizer: optimizer,
		market:    market,
		logger:    logger,
		tracer:    telemetry.NewBusinessTracer(),
		now:       time.Now,
	}
}

// SetPublisher attaches the launched-results publisher.
func (s *SessionService) SetPublisher(p ResultPublisher) { s.publisher = p }

// SetNotifier attaches the lifecycle notifier.
func (s *SessionService) SetNotifier(n Notifier) { s.notifier = n }

// sessionDateFor normalizes a trigger time to the market-local calendar day,
// stored as a UTC midnight date.
func (s *SessionService) sessionDateFor(date time.Time) (time.Time, error) {
	loc, err := s.market.Location()
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := date.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// clockOn resolves a configured "HH:MM" market-local clock on the session's
// calendar day to a UTC instant.
func (s *SessionService) clockOn(sessionDate time.Time, clock string) (time.Time, error) {
	loc, err := s.market.Location()
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := config.ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := sessionDate.UTC().Date()
	return time.Date(y, m, d, hour, minute, 0, 0, loc).UTC(), nil
}

// OpenSession creates (if needed) and opens the session for the market day
// containing date, seeding one challenge per registered resource for the
// following local day. Retriggering an opened session is a no-op.
func (s *SessionService) OpenSession(ctx context.Context, date time.Time) (*models.MarketSession, error) {
	sessionDate, err := s.sessionDateFor(date)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve market day: %w", err)
	}

	session, err := s.store.GetSessionByDate(ctx, sessionDate)
	if errors.Is(err, database.ErrNotFound) {
		session, err = s.createScheduledSession(ctx, sessionDate)
	}
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionScheduled {
		s.logger.WithFields(logrus.Fields{
			"session_id": session.ID,
			"status":     session.Status,
		}).Info("Session already opened, skipping")
		return session, nil
	}

	challenges, err := s.store.ListChallengesBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session challenges: %w", err)
	}
	if len(challenges) == 0 {
		challenges, err = s.createChallenges(ctx, session)
		if err != nil {
			return nil, err
		}
	}

	moved, err := s.store.TransitionSession(ctx, session.ID, models.SessionScheduled, models.SessionOpen, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to open session %s: %w", session.ID, err)
	}
	session, err = s.store.GetSession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}
	if moved {
		s.logger.WithFields(logrus.Fields{
			"session_id":   session.ID,
			"session_date": session.SessionDate.Format("2006-01-02"),
			"challenges":   len(challenges),
			"gate_closure": session.GateClosureAt,
		}).Info("Market session opened")
		if s.notifier != nil {
			s.notifier.SessionOpened(ctx, session, challenges)
		}
	}
	return session, nil
}

func (s *SessionService) createScheduledSession(ctx context.Context, sessionDate time.Time) (*models.MarketSession, error) {
	gateClosure, err := s.clockOn(sessionDate, s.market.GateClosureTime)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve gate closure: %w", err)
	}
	session := &models.MarketSession{
		ID:            uuid.New().String(),
		SessionDate:   sessionDate,
		Status:        models.SessionScheduled,
		GateClosureAt: gateClosure,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		// A concurrent trigger may have won the creation race.
		if existing, getErr := s.store.GetSessionByDate(ctx, sessionDate); getErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create session for %s: %w", sessionDate.Format("2006-01-02"), err)
	}
	return session, nil
}

// createChallenges seeds one challenge per registered resource targeting the
// next local calendar day. A day crossing a daylight-saving transition
// naturally yields a 92- or 100-point period.
func (s *SessionService) createChallenges(ctx context.Context, session *models.MarketSession) ([]models.Challenge, error) {
	resources, err := s.store.ListResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	y, m, d := session.SessionDate.UTC().Date()
	challenges := make([]models.Challenge, 0, len(resources))
	for _, resource := range resources {
		loc, err := resource.Location()
		if err != nil {
			s.logger.WithError(err).WithField("resource_id", resource.ID).Error("Skipping resource with unresolvable timezone")
			continue
		}
		period := models.DayPeriod(time.Date(y, m, d+1, 0, 0, 0, 0, loc), loc)
		challenges = append(challenges, models.Challenge{
			ID:         uuid.New().String(),
			SessionID:  session.ID,
			UseCase:    resource.UseCase,
			ResourceID: resource.ID,
			StartAt:    period.Start,
			EndAt:      period.End,
			CreatedAt:  s.now(),
		})
	}
	if len(challenges) == 0 {
		return nil, fmt.Errorf("no resources registered, session %s has nothing to offer", session.ID)
	}
	if err := s.store.CreateChallenges(ctx, challenges); err != nil {
		return nil, fmt.Errorf("failed to create challenges: %w", err)
	}
	return challenges, nil
}

// CloseSession closes the gate for the market day containing date and
// computes every challenge's ensemble. Retriggering recomputes the same
// deterministic results over the same cutoff; a session already launched is
// a no-op.
func (s *SessionService) CloseSession(ctx context.Context, date time.Time) error {
	session, err := s.sessionByDate(ctx, date)
	if err != nil {
		return err
	}
	if session.Status == models.SessionScheduled {
		return fmt.Errorf("session %s was never opened, cannot close", session.ID)
	}
	if session.Status.AtLeast(models.SessionLaunched) {
		s.logger.WithField("session_id", session.ID).Info("Session already launched, skipping close")
		return nil
	}

	if _, err := s.store.TransitionSession(ctx, session.ID, models.SessionOpen, models.SessionClosed, s.now()); err != nil {
		return fmt.Errorf("failed to close session %s: %w", session.ID, err)
	}
	session, err = s.store.GetSession(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to reload session: %w", err)
	}
	cutoff := session.EffectiveCutoff()

	challenges, err := s.store.ListChallengesBySession(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to list session challenges: %w", err)
	}

	workers := 1
	if s.optimizer != nil {
		if s.optimizer.Adaptive() {
			if err := s.optimizer.UpdateSystemMetrics(ctx); err != nil {
				s.logger.WithError(err).Warn("Could not refresh system metrics, sizing from last reading")
			}
		}
		workers = s.optimizer.ClosureWorkers()
	}
	if workers > len(challenges) {
		workers = len(challenges)
	}
	if workers < 1 {
		workers = 1
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"challenges": len(challenges),
		"workers":    workers,
		"cutoff":     cutoff,
	}).Info("Computing ensembles at gate closure")

	jobs := make(chan models.Challenge)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []string
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for challenge := range jobs {
				if err := s.computeChallenge(ctx, challenge, cutoff); err != nil {
					s.logger.WithError(err).WithField("challenge_id", challenge.ID).Error("Failed to store challenge results")
					mu.Lock()
					failed = append(failed, challenge.ID)
					mu.Unlock()
				}
			}
		}()
	}
	for _, challenge := range challenges {
		jobs <- challenge
	}
	close(jobs)
	wg.Wait()

	if len(failed) > 0 {
		return fmt.Errorf("failed to store results for %d of %d challenges", len(failed), len(challenges))
	}
	s.logger.WithField("session_id", session.ID).Info("Gate closure complete")
	return nil
}

// computeChallenge gathers one challenge's inputs, runs the engine and
// stores the per-variable results. Pair-level failures are already inside
// the results; only infrastructure errors surface.
func (s *SessionService) computeChallenge(ctx context.Context, challenge models.Challenge, cutoff time.Time) error {
	ctx, span := s.tracer.TraceEnsembleComputation(ctx, challenge.ID, s.engine.Config().Strategy)
	defer span.End()
	started := time.Now()

	input, err := s.gatherChallengeInput(ctx, &challenge, cutoff)
	if err != nil {
		return err
	}
	results := s.engine.ComputeChallenge(ctx, challenge, input)
	if err := s.store.SaveEnsembleResults(ctx, results); err != nil {
		return fmt.Errorf("failed to save ensemble results: %w", err)
	}

	available := 0
	for _, result := range results {
		if result.Available {
			available++
		}
	}
	s.tracer.RecordEnsembleOutcome(span, telemetry.EnsembleOutcome{
		Available:   available,
		Unavailable: len(results) - available,
		Elapsed:     time.Since(started),
	})
	return nil
}

// gatherChallengeInput collects the effective submissions per quantile plus
// the trailing training history: historical submissions and past challenge
// submissions stitched per forecaster, and the measured actuals when the
// window is fully covered.
func (s *SessionService) gatherChallengeInput(ctx context.Context, challenge *models.Challenge, cutoff time.Time) (ensemble.ChallengeInput, error) {
	period := challenge.Period()
	window := models.TrailingWindow(period.Start, s.engine.Config().ScoreDays)

	resource, err := s.store.GetResource(ctx, challenge.ResourceID)
	if err != nil {
		return ensemble.ChallengeInput{}, fmt.Errorf("failed to look up resource %s: %w", challenge.ResourceID, err)
	}

	pastChallenges, err := s.store.ListChallengesByResource(ctx, challenge.ResourceID, window)
	if err != nil {
		return ensemble.ChallengeInput{}, fmt.Errorf("failed to list past challenges: %w", err)
	}
	cutoffs := map[string]time.Time{challenge.SessionID: cutoff}
	for _, past := range pastChallenges {
		if _, ok := cutoffs[past.SessionID]; ok {
			continue
		}
		pastSession, err := s.store.GetSession(ctx, past.SessionID)
		if err != nil {
			return ensemble.ChallengeInput{}, fmt.Errorf("failed to look up session %s: %w", past.SessionID, err)
		}
		cutoffs[past.SessionID] = pastSession.EffectiveCutoff()
	}

	forecasts := make(map[models.Variable]map[string]models.Series)
	training := make(map[models.Variable]map[string]models.Series)
	for _, variable := range models.AllVariables() {
		effective, err := s.store.ListEffectiveSubmissions(ctx, challenge.ID, variable, cutoff)
		if err != nil {
			return ensemble.ChallengeInput{}, fmt.Errorf("failed to list effective submissions: %w", err)
		}
		current := make(map[string]models.Series, len(effective))
		for _, sub := range effective {
			current[sub.ForecasterID] = sub.Series
		}
		forecasts[variable] = current

		pieces := make(map[string][]models.Series)
		historical, err := s.store.ListHistoricalSubmissions(ctx, challenge.ResourceID, variable, window)
		if err != nil {
			return ensemble.ChallengeInput{}, fmt.Errorf("failed to list historical submissions: %w", err)
		}
		for _, sub := range historical {
			pieces[sub.ForecasterID] = append(pieces[sub.ForecasterID], sub.Series)
		}
		// Past challenge submissions land after historical so the market
		// record wins where both cover a day.
		for _, past := range pastChallenges {
			pastEffective, err := s.store.ListEffectiveSubmissions(ctx, past.ID, variable, cutoffs[past.SessionID])
			if err != nil {
				return ensemble.ChallengeInput{}, fmt.Errorf("failed to list submissions for past challenge %s: %w", past.ID, err)
			}
			for _, sub := range pastEffective {
				pieces[sub.ForecasterID] = append(pieces[sub.ForecasterID], sub.Series)
			}
		}

		history := make(map[string]models.Series, len(pieces))
		for id, parts := range pieces {
			history[id] = stitchWindow(window, models.DefaultResolution, parts)
		}
		training[variable] = history
	}

	var actuals models.Series
	observed, err := s.store.Measurements(ctx, challenge.ResourceID, window)
	switch {
	case err == nil:
		actuals = observed
	case errors.Is(err, utils.ErrGroundTruthUnavailable):
		s.logger.WithFields(logrus.Fields{
			"challenge_id": challenge.ID,
			"window_start": window.Start,
		}).Warn("Training window not fully measured, strategy falls back to equal weights")
	default:
		return ensemble.ChallengeInput{}, fmt.Errorf("failed to read training actuals: %w", err)
	}

	return ensemble.ChallengeInput{
		Variables: models.AllVariables(),
		Forecasts: forecasts,
		Training: ensemble.TrainingData{
			Window:     window,
			Resolution: models.DefaultResolution,
			Forecasts:  training,
			Actuals:    actuals,
		},
		Resolution:  models.DefaultResolution,
		DisableClip: resource.Signed,
	}, nil
}

// stitchWindow lays a forecaster's day pieces onto the window grid. Points
// nothing covers stay NaN; later pieces overwrite earlier ones.
func stitchWindow(window models.Period, resolution time.Duration, pieces []models.Series) models.Series {
	n := window.PointCount(resolution)
	values := make([]float64, n)
	for i := range values {
		values[i] = math.NaN()
	}
	for _, piece := range pieces {
		if piece.Resolution != resolution {
			continue
		}
		offset := piece.Start.Sub(window.Start)
		if offset%resolution != 0 {
			continue
		}
		base := int(offset / resolution)
		for i, v := range piece.Values {
			idx := base + i
			if idx < 0 || idx >= n {
				continue
			}
			values[idx] = v
		}
	}
	return models.NewSeries(window.Start, resolution, values)
}

// LaunchSession publishes the closed session's results. Republishing an
// already-launched session refreshes the cache; only the first launch
// notifies.
func (s *SessionService) LaunchSession(ctx context.Context, date time.Time) error {
	session, err := s.sessionByDate(ctx, date)
	if err != nil {
		return err
	}
	if !session.Status.AtLeast(models.SessionClosed) {
		return fmt.Errorf("session %s is %s, cannot launch before gate closure", session.ID, session.Status)
	}
	if session.Status == models.SessionFinished {
		s.logger.WithField("session_id", session.ID).Info("Session already finished, skipping launch")
		return nil
	}

	moved, err := s.store.TransitionSession(ctx, session.ID, models.SessionClosed, models.SessionLaunched, s.now())
	if err != nil {
		return fmt.Errorf("failed to launch session %s: %w", session.ID, err)
	}
	session, err = s.store.GetSession(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to reload session: %w", err)
	}

	results, err := s.sessionResults(ctx, session.ID)
	if err != nil {
		return err
	}
	if s.publisher != nil && len(results) > 0 {
		if err := s.publisher.Publish(ctx, session.ID, results); err != nil {
			return fmt.Errorf("failed to publish session results: %w", err)
		}
	}

	if moved {
		s.logger.WithFields(logrus.Fields{
			"session_id": session.ID,
			"results":    len(results),
		}).Info("Market session launched")
		if s.notifier != nil {
			s.notifier.SessionLaunched(ctx, session, results)
		}
	}
	return nil
}

func (s *SessionService) sessionResults(ctx context.Context, sessionID string) ([]models.EnsembleResult, error) {
	challenges, err := s.store.ListChallengesBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session challenges: %w", err)
	}
	var results []models.EnsembleResult
	for _, challenge := range challenges {
		challengeResults, err := s.store.ListEnsembleResults(ctx, challenge.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list results for challenge %s: %w", challenge.ID, err)
		}
		results = append(results, challengeResults...)
	}
	return results, nil
}

// FinishSessions scores every launched session whose ground truth has
// arrived and moves it to finished. Sessions with unmeasured challenge
// periods are left for the next poll.
func (s *SessionService) FinishSessions(ctx context.Context) error {
	sessions, err := s.store.ListSessionsByStatus(ctx, models.SessionLaunched)
	if err != nil {
		return fmt.Errorf("failed to list launched sessions: %w", err)
	}
	for _, session := range sessions {
		if err := s.finishSession(ctx, session); err != nil {
			s.logger.WithError(err).WithField("session_id", session.ID).Error("Failed to finish session")
		}
	}
	return nil
}

func (s *SessionService) finishSession(ctx context.Context, session *models.MarketSession) error {
	challenges, err := s.store.ListChallengesBySession(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to list session challenges: %w", err)
	}

	allScored := true
	for i := range challenges {
		challenge := challenges[i]
		batchID, err := s.store.LatestScoreBatch(ctx, challenge.ID)
		if err != nil {
			return fmt.Errorf("failed to check score batch for %s: %w", challenge.ID, err)
		}
		if batchID != "" {
			continue
		}
		if _, err := s.scorer.ScoreChallenge(ctx, &challenge); err != nil {
			if errors.Is(err, utils.ErrGroundTruthUnavailable) {
				s.logger.WithFields(logrus.Fields{
					"session_id":   session.ID,
					"challenge_id": challenge.ID,
				}).Info("Ground truth not complete yet, deferring scoring")
				allScored = false
				continue
			}
			return fmt.Errorf("failed to score challenge %s: %w", challenge.ID, err)
		}
	}
	if !allScored {
		return nil
	}

	moved, err := s.store.TransitionSession(ctx, session.ID, models.SessionLaunched, models.SessionFinished, s.now())
	if err != nil {
		return fmt.Errorf("failed to finish session %s: %w", session.ID, err)
	}
	if !moved {
		return nil
	}
	session, err = s.store.GetSession(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to reload session: %w", err)
	}
	s.logger.WithField("session_id", session.ID).Info("Market session finished")

	if s.notifier != nil {
		scores, err := s.sessionScores(ctx, challenges)
		if err != nil {
			s.logger.WithError(err).Warn("Could not gather scores for finish notification")
		}
		s.notifier.SessionFinished(ctx, session, scores)
	}
	return nil
}

func (s *SessionService) sessionScores(ctx context.Context, challenges []models.Challenge) ([]models.ScoreRecord, error) {
	var scores []models.ScoreRecord
	for _, challenge := range challenges {
		batchID, err := s.store.LatestScoreBatch(ctx, challenge.ID)
		if err != nil {
			return nil, err
		}
		if batchID == "" {
			continue
		}
		records, err := s.store.ListScores(ctx, challenge.ID, batchID)
		if err != nil {
			return nil, err
		}
		scores = append(scores, records...)
	}
	return scores, nil
}

// RecomputeChallenge reruns one challenge's ensemble over the same cutoff
// and replaces the stored results wholesale. Deterministic computation
// makes this idempotent; a launched session gets its cache refreshed.
func (s *SessionService) RecomputeChallenge(ctx context.Context, challengeID string) ([]models.EnsembleResult, error) {
	challenge, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up challenge: %w", err)
	}
	session, err := s.store.GetSession(ctx, challenge.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if !session.Status.AtLeast(models.SessionClosed) {
		return nil, fmt.Errorf("session %s is %s, nothing to recompute before gate closure", session.ID, session.Status)
	}

	if err := s.computeChallenge(ctx, *challenge, session.EffectiveCutoff()); err != nil {
		return nil, err
	}
	results, err := s.store.ListEnsembleResults(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload results: %w", err)
	}
	if s.publisher != nil && session.Status.AtLeast(models.SessionLaunched) {
		if err := s.publisher.Publish(ctx, session.ID, results); err != nil {
			s.logger.WithError(err).Warn("Failed to refresh published results after recompute")
		}
	}
	return results, nil
}

// RescoreChallenge runs a fresh scoring batch for one challenge, used after
// corrected ground truth arrives. The new batch supersedes, never edits.
func (s *SessionService) RescoreChallenge(ctx context.Context, challengeID string) (*ChallengeScores, error) {
	challenge, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up challenge: %w", err)
	}
	return s.scorer.ScoreChallenge(ctx, challenge)
}

func (s *SessionService) sessionByDate(ctx context.Context, date time.Time) (*models.MarketSession, error) {
	sessionDate, err := s.sessionDateFor(date)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve market day: %w", err)
	}
	session, err := s.store.GetSessionByDate(ctx, sessionDate)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session for %s: %w", sessionDate.Format("2006-01-02"), err)
	}
	return session, nil
}
