package interfaces

import (
	"context"
	"time"

	"github.com/prismcast/prismcast-go/internal/models"
)

// SessionStore persists market sessions and their lifecycle timestamps.
type SessionStore interface {
	// CreateSession stores a new session in scheduled state.
	CreateSession(ctx context.Context, session *models.MarketSession) error

	// GetSession retrieves a session by id.
	GetSession(ctx context.Context, id string) (*models.MarketSession, error)

	// GetSessionByDate retrieves the session for one market day, if any.
	GetSessionByDate(ctx context.Context, date time.Time) (*models.MarketSession, error)

	// ListSessionsByStatus retrieves every session currently in the given
	// status, oldest first.
	ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]*models.MarketSession, error)

	// TransitionSession atomically moves a session from one status to the
	// next and stamps the transition time. It returns false without error
	// when the session is no longer in the expected status, which callers
	// treat as the idempotent retry no-op.
	TransitionSession(ctx context.Context, id string, from, to models.SessionStatus, at time.Time) (bool, error)

	// DeleteStaleScheduledSessions removes sessions still scheduled whose
	// market day predates the cutoff, with any challenges they seeded,
	// returning how many sessions were removed.
	DeleteStaleScheduledSessions(ctx context.Context, before time.Time) (int64, error)
}

// ChallengeStore persists the forecasting opportunities a session opens.
type ChallengeStore interface {
	// CreateChallenges stores the challenges created by a session open.
	CreateChallenges(ctx context.Context, challenges []models.Challenge) error

	// GetChallenge retrieves a challenge by id.
	GetChallenge(ctx context.Context, id string) (*models.Challenge, error)

	// ListChallengesBySession retrieves a session's challenges.
	ListChallengesBySession(ctx context.Context, sessionID string) ([]models.Challenge, error)

	// ListChallengesByResource retrieves challenges for one resource whose
	// target period overlaps p, oldest first. Training gathers past
	// challenge submissions through this.
	ListChallengesByResource(ctx context.Context, resourceID string, p models.Period) ([]models.Challenge, error)
}

// SubmissionStore persists challenge and historical submissions. Late or
// superseded submissions are stored like any other; effectiveness is a
// query-time property decided by the cutoff.
type SubmissionStore interface {
	// SaveSubmission stores one submission, challenge or historical.
	SaveSubmission(ctx context.Context, submission *models.Submission) error

	// GetSubmission retrieves a submission by id.
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)

	// ListEffectiveSubmissions retrieves, per forecaster, the latest
	// submission for (challenge, variable) registered at or before cutoff.
	ListEffectiveSubmissions(ctx context.Context, challengeID string, variable models.Variable, cutoff time.Time) ([]models.Submission, error)

	// ListHistoricalSubmissions retrieves every forecaster's historical
	// submissions for (resource, variable) whose series overlaps p.
	ListHistoricalSubmissions(ctx context.Context, resourceID string, variable models.Variable, p models.Period) ([]models.Submission, error)

	// HasChallengeSubmission reports whether the forecaster has ever had a
	// challenge submission accepted for the resource. Once true, their
	// historical series for that resource are locked against revision.
	HasChallengeSubmission(ctx context.Context, forecasterID, resourceID string) (bool, error)

	// DeleteHistoricalBefore removes historical submissions whose series
	// end before the cutoff, returning how many were removed.
	DeleteHistoricalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ResultStore persists ensemble results. Saving is an upsert per
// (challenge, variable): recomputation against corrected inputs replaces
// the previous record.
type ResultStore interface {
	SaveEnsembleResults(ctx context.Context, results []models.EnsembleResult) error
	GetEnsembleResult(ctx context.Context, challengeID string, variable models.Variable) (*models.EnsembleResult, error)
	ListEnsembleResults(ctx context.Context, challengeID string) ([]models.EnsembleResult, error)
}

// ScoreStore persists scoring batches. Batches are append-only; a
// re-evaluation writes a new batch id and readers follow the latest.
type ScoreStore interface {
	SaveScores(ctx context.Context, scores []models.ScoreRecord) error
	ListScores(ctx context.Context, challengeID, batchID string) ([]models.ScoreRecord, error)
	LatestScoreBatch(ctx context.Context, challengeID string) (string, error)
}

// ResourceStore persists the forecastable resources challenges are built
// from.
type ResourceStore interface {
	CreateResource(ctx context.Context, resource *models.Resource) error
	GetResource(ctx context.Context, id string) (*models.Resource, error)
	ListResources(ctx context.Context) ([]models.Resource, error)
}

// ForecasterStore persists market participants.
type ForecasterStore interface {
	CreateForecaster(ctx context.Context, forecaster *models.Forecaster) error
	GetForecaster(ctx context.Context, id string) (*models.Forecaster, error)
	ListForecasters(ctx context.Context) ([]models.Forecaster, error)
}

// MeasurementSource is the ground-truth feed. Implementations return an
// error wrapping utils.ErrGroundTruthUnavailable when the period is not
// fully measured yet; callers defer scoring instead of failing it.
type MeasurementSource interface {
	Measurements(ctx context.Context, resourceID string, p models.Period) (models.Series, error)
}

// MeasurementStore is a MeasurementSource that also accepts writes, used by
// the measurement ingestion path and the simulator.
type MeasurementStore interface {
	MeasurementSource
	SaveMeasurements(ctx context.Context, resourceID string, s models.Series) error
}

// MarketStore aggregates every persistence contract the engine needs. The
// postgres repository and the in-memory store both satisfy it.
type MarketStore interface {
	SessionStore
	ChallengeStore
	SubmissionStore
	ResultStore
	ScoreStore
	ResourceStore
	ForecasterStore
	MeasurementStore
}
