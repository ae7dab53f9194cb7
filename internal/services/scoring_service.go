package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/prismcast/prismcast-go/internal/ensemble"
	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/scoring"
	"github.com/prismcast/prismcast-go/internal/telemetry"
	"github.com/prismcast/prismcast-go/pkg/interfaces"
)

// ChallengeScores is what one scoring run produced for a challenge: a fresh
// batch of ranked records plus the realized contribution weights per
// variable.
type ChallengeScores struct {
	BatchID       string
	Records       []models.ScoreRecord
	Contributions map[models.Variable]map[string]float64
}

// ScoringService evaluates effective submissions against ground truth once
// a challenge period is fully measured. Every run writes a new superseding
// batch; earlier batches are never edited.
type ScoringService struct {
	store  interfaces.MarketStore
	beta   float64
	logger *logrus.Logger
	tracer *telemetry.BusinessTracer
	now    func() time.Time
}

// NewScoringService creates a scoring service. beta is the same exponential
// weighting parameter the ensemble uses, reused for contribution shares.
func NewScoringService(store interfaces.MarketStore, beta float64, logger *logrus.Logger) *ScoringService {
	return &ScoringService{
		store:  store,
		beta:   beta,
		logger: logger,
		tracer: telemetry.NewBusinessTracer(),
		now:    time.Now,
	}
}

// ScoreChallenge scores one challenge. The returned error wraps
// utils.ErrGroundTruthUnavailable while measurements are incomplete, which
// callers treat as a deferral rather than a failure.
func (s *ScoringService) ScoreChallenge(ctx context.Context, challenge *models.Challenge) (*ChallengeScores, error) {
	ctx, span := s.tracer.TraceScoring(ctx, challenge.ID)
	defer span.End()
	started := time.Now()

	period := challenge.Period()
	observed, err := s.store.Measurements(ctx, challenge.ResourceID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to read measurements for challenge %s: %w", challenge.ID, err)
	}
	session, err := s.store.GetSession(ctx, challenge.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session %s: %w", challenge.SessionID, err)
	}
	cutoff := session.EffectiveCutoff()

	effective := make(map[models.Variable][]models.Submission)
	for _, variable := range models.AllVariables() {
		submissions, err := s.store.ListEffectiveSubmissions(ctx, challenge.ID, variable, cutoff)
		if err != nil {
			return nil, fmt.Errorf("failed to list effective submissions for %s/%s: %w", challenge.ID, variable, err)
		}
		effective[variable] = submissions
	}

	batch := &ChallengeScores{
		BatchID:       uuid.New().String(),
		Contributions: make(map[models.Variable]map[string]float64),
	}
	createdAt := s.now()
	for _, variable := range models.AllVariables() {
		s.scoreVariable(challenge, variable, observed.Values, effective[variable], batch, createdAt)
	}
	s.scoreInterval(challenge, observed.Values, effective[models.VariableQ10], effective[models.VariableQ90], batch, createdAt)

	if len(batch.Records) == 0 {
		s.logger.WithField("challenge_id", challenge.ID).Info("No effective submissions to score")
		s.tracer.RecordScoringMetrics(span, telemetry.ScoringMetrics{BatchID: batch.BatchID, Elapsed: time.Since(started)})
		return batch, nil
	}
	if err := s.store.SaveScores(ctx, batch.Records); err != nil {
		return nil, fmt.Errorf("failed to save score batch %s: %w", batch.BatchID, err)
	}
	if err := s.fillContributions(ctx, challenge.ID, batch); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"challenge_id": challenge.ID,
		"batch_id":     batch.BatchID,
		"records":      len(batch.Records),
	}).Info("Challenge scored")
	s.tracer.RecordScoringMetrics(span, telemetry.ScoringMetrics{
		BatchID: batch.BatchID,
		Records: len(batch.Records),
		Elapsed: time.Since(started),
	})
	return batch, nil
}

// scoreVariable ranks one quantile's effective submissions on every metric
// defined for it and derives the variable's contribution weights.
func (s *ScoringService) scoreVariable(challenge *models.Challenge, variable models.Variable, observed []float64, submissions []models.Submission, batch *ChallengeScores, createdAt time.Time) {
	type candidate struct {
		submissionID string
		forecasterID string
		values       []float64
	}
	period := challenge.Period()
	candidates := make([]candidate, 0, len(submissions))
	for _, sub := range submissions {
		slice, err := sub.Series.Slice(period)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"submission_id": sub.ID,
				"challenge_id":  challenge.ID,
			}).Warn("Skipping submission that does not cover the challenge period")
			continue
		}
		candidates = append(candidates, candidate{sub.ID, sub.ForecasterID, slice.Values})
	}
	if len(candidates) == 0 {
		return
	}

	metrics := []models.Metric{models.MetricPinball}
	if variable == models.VariableQ50 {
		metrics = []models.Metric{models.MetricRMSE, models.MetricMAE, models.MetricPinball}
	}
	for _, metric := range metrics {
		entries := make([]scoring.Entry, 0, len(candidates))
		for _, c := range candidates {
			value, err := metricValue(metric, variable, observed, c.values)
			if err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"submission_id": c.submissionID,
					"metric":        metric,
				}).Warn("Skipping unscorable submission")
				continue
			}
			entries = append(entries, scoring.Entry{SubmissionID: c.submissionID, ForecasterID: c.forecasterID, Value: value})
		}
		for _, ranked := range scoring.Rank(entries) {
			batch.Records = append(batch.Records, models.ScoreRecord{
				ID:                uuid.New().String(),
				BatchID:           batch.BatchID,
				SubmissionID:      ranked.SubmissionID,
				ChallengeID:       challenge.ID,
				ForecasterID:      ranked.ForecasterID,
				Variable:          variable,
				Metric:            metric,
				Value:             ranked.Value,
				Rank:              ranked.Rank,
				TotalParticipants: ranked.TotalParticipants,
				CreatedAt:         createdAt,
			})
		}
	}

	skills := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		score, err := scoring.VariableScore(observed, c.values, variable)
		if err != nil {
			continue
		}
		skills[c.forecasterID] = score
	}
	if weights, _ := ensemble.ExpWeights(skills, s.beta); weights != nil {
		batch.Contributions[variable] = weights
	}
}

// scoreInterval ranks the q10-q90 Winkler score for forecasters holding
// both bounds. The record attaches to the forecaster's q90 submission.
func (s *ScoringService) scoreInterval(challenge *models.Challenge, observed []float64, lowers, uppers []models.Submission, batch *ChallengeScores, createdAt time.Time) {
	period := challenge.Period()
	lowerValues := make(map[string][]float64, len(lowers))
	for _, sub := range lowers {
		slice, err := sub.Series.Slice(period)
		if err != nil {
			continue
		}
		lowerValues[sub.ForecasterID] = slice.Values
	}

	entries := make([]scoring.Entry, 0, len(uppers))
	for _, sub := range uppers {
		lower, ok := lowerValues[sub.ForecasterID]
		if !ok {
			continue
		}
		upper, err := sub.Series.Slice(period)
		if err != nil {
			continue
		}
		value, err := scoring.Winkler(observed, lower, upper.Values, scoring.WinklerAlpha)
		if err != nil {
			s.logger.WithError(err).WithField("submission_id", sub.ID).Warn("Skipping unscorable interval")
			continue
		}
		entries = append(entries, scoring.Entry{SubmissionID: sub.ID, ForecasterID: sub.ForecasterID, Value: value})
	}
	for _, ranked := range scoring.Rank(entries) {
		batch.Records = append(batch.Records, models.ScoreRecord{
			ID:                uuid.New().String(),
			BatchID:           batch.BatchID,
			SubmissionID:      ranked.SubmissionID,
			ChallengeID:       challenge.ID,
			ForecasterID:      ranked.ForecasterID,
			Variable:          models.VariableQ90,
			Metric:            models.MetricWinkler,
			Value:             ranked.Value,
			Rank:              ranked.Rank,
			TotalParticipants: ranked.TotalParticipants,
			CreatedAt:         createdAt,
		})
	}
}

// fillContributions writes the realized contribution weights onto the
// challenge's stored ensemble results.
func (s *ScoringService) fillContributions(ctx context.Context, challengeID string, batch *ChallengeScores) error {
	results, err := s.store.ListEnsembleResults(ctx, challengeID)
	if err != nil {
		return fmt.Errorf("failed to list ensemble results for %s: %w", challengeID, err)
	}
	if len(results) == 0 {
		return nil
	}
	for i := range results {
		if contributions, ok := batch.Contributions[results[i].Variable]; ok {
			results[i].Contributions = contributions
		}
	}
	if err := s.store.SaveEnsembleResults(ctx, results); err != nil {
		return fmt.Errorf("failed to update contribution maps for %s: %w", challengeID, err)
	}
	return nil
}

func metricValue(metric models.Metric, variable models.Variable, observed, forecast []float64) (float64, error) {
	switch metric {
	case models.MetricRMSE:
		return scoring.RMSE(observed, forecast)
	case models.MetricMAE:
		return scoring.MAE(observed, forecast)
	case models.MetricPinball:
		return scoring.Pinball(observed, forecast, variable.Level())
	default:
		return 0, fmt.Errorf("unhandled metric %q", metric)
	}
}
