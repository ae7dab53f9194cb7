package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/prismcast/prismcast-go/internal/database"
	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/utils"
	"github.com/prismcast/prismcast-go/pkg/interfaces"
)

// ChallengeSubmissionRequest carries one quantile forecast for an open
// challenge.
type ChallengeSubmissionRequest struct {
	ForecasterID string          `json:"forecaster_id"`
	ChallengeID  string          `json:"challenge_id"`
	Variable     models.Variable `json:"variable"`
	Series       models.Series   `json:"series"`
	RegisteredAt time.Time       `json:"registered_at"`
}

// HistoricalSubmissionRequest carries one past forecast used only as
// training input. LaunchTime is when the forecast was originally issued.
type HistoricalSubmissionRequest struct {
	ForecasterID string          `json:"forecaster_id"`
	ResourceID   string          `json:"resource_id"`
	Variable     models.Variable `json:"variable"`
	LaunchTime   time.Time       `json:"launch_time"`
	Series       models.Series   `json:"series"`
}

// SubmissionService validates and stores forecaster submissions. Malformed
// input is rejected with a ValidationError and never reaches the engine;
// a submission that arrives after gate closure is stored for audit but
// reported back as late, and the closure query ignores it.
type SubmissionService struct {
	store  interfaces.MarketStore
	logger *logrus.Logger
	now    func() time.Time
}

// NewSubmissionService creates a new submission ingestion service.
func NewSubmissionService(store interfaces.MarketStore, logger *logrus.Logger) *SubmissionService {
	return &SubmissionService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// SubmitChallenge ingests one challenge submission. The returned submission
// is non-nil whenever a row was stored, including the late case.
func (s *SubmissionService) SubmitChallenge(ctx context.Context, req ChallengeSubmissionRequest) (*models.Submission, error) {
	if !req.Variable.Valid() {
		return nil, utils.NewValidationErrorf("unknown variable %q, want one of q10, q50, q90", req.Variable)
	}
	if _, err := s.store.GetForecaster(ctx, req.ForecasterID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, utils.NewValidationErrorf("unknown forecaster %q", req.ForecasterID)
		}
		return nil, fmt.Errorf("failed to look up forecaster: %w", err)
	}
	challenge, err := s.store.GetChallenge(ctx, req.ChallengeID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, utils.NewValidationErrorf("unknown challenge %q", req.ChallengeID)
		}
		return nil, fmt.Errorf("failed to look up challenge: %w", err)
	}
	session, err := s.store.GetSession(ctx, challenge.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session %s: %w", challenge.SessionID, err)
	}
	if session.Status == models.SessionScheduled {
		return nil, utils.NewValidationErrorf("session %s is not open yet", session.ID)
	}

	if err := validateChallengeSeries(req.Series, challenge); err != nil {
		return nil, err
	}

	registeredAt := req.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = s.now()
	}

	submission := &models.Submission{
		ID:           uuid.New().String(),
		ForecasterID: req.ForecasterID,
		ChallengeID:  challenge.ID,
		ResourceID:   challenge.ResourceID,
		Variable:     req.Variable,
		Series:       req.Series,
		RegisteredAt: registeredAt,
	}
	if err := s.store.SaveSubmission(ctx, submission); err != nil {
		return nil, fmt.Errorf("failed to save submission: %w", err)
	}

	logger := s.logger.WithFields(logrus.Fields{
		"submission_id": submission.ID,
		"forecaster_id": submission.ForecasterID,
		"challenge_id":  submission.ChallengeID,
		"variable":      submission.Variable,
	})

	cutoff := session.EffectiveCutoff()
	if registeredAt.After(cutoff) {
		logger.WithField("cutoff", cutoff).Warn("Submission registered after gate closure, stored but ineffective")
		return submission, utils.NewValidationErrorf("registered at %s, after gate closure %s",
			registeredAt.Format(time.RFC3339), cutoff.Format(time.RFC3339))
	}

	logger.Info("Challenge submission accepted")
	return submission, nil
}

// SubmitHistorical ingests one historical forecast. Revisions of the same
// (forecaster, resource, variable, series start) are accepted until the
// forecaster's first challenge submission for the resource; after that the
// training record is frozen.
func (s *SubmissionService) SubmitHistorical(ctx context.Context, req HistoricalSubmissionRequest) (*models.Submission, error) {
	if !req.Variable.Valid() {
		return nil, utils.NewValidationErrorf("unknown variable %q, want one of q10, q50, q90", req.Variable)
	}
	if _, err := s.store.GetForecaster(ctx, req.ForecasterID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, utils.NewValidationErrorf("unknown forecaster %q", req.ForecasterID)
		}
		return nil, fmt.Errorf("failed to look up forecaster: %w", err)
	}
	if _, err := s.store.GetResource(ctx, req.ResourceID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, utils.NewValidationErrorf("unknown resource %q", req.ResourceID)
		}
		return nil, fmt.Errorf("failed to look up resource: %w", err)
	}

	if err := validateHistoricalSeries(req.Series); err != nil {
		return nil, err
	}
	if !req.LaunchTime.Before(req.Series.Start) {
		return nil, utils.NewValidationErrorf("launch_time %s must precede the series start %s",
			req.LaunchTime.Format(time.RFC3339), req.Series.Start.Format(time.RFC3339))
	}

	locked, err := s.store.HasChallengeSubmission(ctx, req.ForecasterID, req.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to check historical lock: %w", err)
	}
	if locked {
		return nil, utils.NewValidationErrorf("historical record for resource %q is locked after the first challenge submission", req.ResourceID)
	}

	launchTime := req.LaunchTime
	submission := &models.Submission{
		ID:           uuid.New().String(),
		ForecasterID: req.ForecasterID,
		ResourceID:   req.ResourceID,
		Variable:     req.Variable,
		Series:       req.Series,
		RegisteredAt: s.now(),
		Historical:   true,
		LaunchTime:   &launchTime,
	}
	if err := s.store.SaveSubmission(ctx, submission); err != nil {
		return nil, fmt.Errorf("failed to save historical submission: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"submission_id": submission.ID,
		"forecaster_id": submission.ForecasterID,
		"resource_id":   submission.ResourceID,
		"variable":      submission.Variable,
		"series_start":  submission.Series.Start,
	}).Info("Historical submission accepted")
	return submission, nil
}

// SubmitMeasurements ingests observed values for a resource. NaN points are
// allowed and mark values still missing at the source.
func (s *SubmissionService) SubmitMeasurements(ctx context.Context, resourceID string, series models.Series) error {
	if _, err := s.store.GetResource(ctx, resourceID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return utils.NewValidationErrorf("unknown resource %q", resourceID)
		}
		return fmt.Errorf("failed to look up resource: %w", err)
	}
	if err := series.Validate(); err != nil {
		return utils.NewValidationErrorf("invalid measurement series: %v", err)
	}
	if series.Resolution != models.DefaultResolution {
		return utils.NewValidationErrorf("wrong resolution %s, want %s", series.Resolution, models.DefaultResolution)
	}
	if err := s.store.SaveMeasurements(ctx, resourceID, series); err != nil {
		return fmt.Errorf("failed to save measurements: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"resource_id": resourceID,
		"points":      series.Len(),
		"start":       series.Start,
	}).Info("Measurements ingested")
	return nil
}

func validateChallengeSeries(series models.Series, challenge *models.Challenge) error {
	if err := series.Validate(); err != nil {
		return utils.NewValidationErrorf("invalid series: %v", err)
	}
	if series.Resolution != models.DefaultResolution {
		return utils.NewValidationErrorf("wrong resolution %s, want %s", series.Resolution, models.DefaultResolution)
	}
	period := challenge.Period()
	if !series.Start.Equal(period.Start) {
		return utils.NewValidationErrorf("series starts at %s, challenge period starts at %s",
			series.Start.Format(time.RFC3339), period.Start.Format(time.RFC3339))
	}
	if want := period.PointCount(models.DefaultResolution); series.Len() != want {
		return utils.NewValidationErrorf("wrong length %d, challenge period needs %d points", series.Len(), want)
	}
	if series.HasNaN() {
		return utils.NewValidationError("series has gaps, challenge submissions must cover every point")
	}
	return nil
}

func validateHistoricalSeries(series models.Series) error {
	if err := series.Validate(); err != nil {
		return utils.NewValidationErrorf("invalid series: %v", err)
	}
	if series.Resolution != models.DefaultResolution {
		return utils.NewValidationErrorf("wrong resolution %s, want %s", series.Resolution, models.DefaultResolution)
	}
	return nil
}
