package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/utils"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// DatabasePool defines the interface for database pool operations.
// This interface allows for both real pool and mock pool implementations.
type DatabasePool interface {
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	// Exec executes a query without returning any rows.
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// MarketRepository is the postgres persistence layer for the market engine.
// Forecast series and weight maps are stored as JSONB; submissions and score
// batches are append-only, with effectiveness and batch selection decided at
// query time rather than by destructive updates.
type MarketRepository struct {
	pool DatabasePool
}

// NewMarketRepository creates a repository over a connection pool.
func NewMarketRepository(pool DatabasePool) *MarketRepository {
	return &MarketRepository{pool: pool}
}

func marshalSeries(s models.Series) ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode series: %w", err)
	}
	return payload, nil
}

func unmarshalSeries(payload []byte, s *models.Series) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, s); err != nil {
		return fmt.Errorf("failed to decode series: %w", err)
	}
	return nil
}

func marshalWeights(w map[string]float64) ([]byte, error) {
	if w == nil {
		return nil, nil
	}
	payload, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode weight map: %w", err)
	}
	return payload, nil
}

func unmarshalWeights(payload []byte) (map[string]float64, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var w map[string]float64
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("failed to decode weight map: %w", err)
	}
	return w, nil
}

// CreateSession stores a new market session.
func (r *MarketRepository) CreateSession(ctx context.Context, session *models.MarketSession) error {
	query := `
		INSERT INTO market_sessions (id, session_date, status, gate_closure_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID, session.SessionDate, session.Status, session.GateClosureAt, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create market session: %w", err)
	}
	return nil
}

const sessionColumns = `id, session_date, status, gate_closure_at, opened_at, closed_at, launched_at, finished_at, created_at`

func scanSession(row pgx.Row) (*models.MarketSession, error) {
	var session models.MarketSession
	err := row.Scan(
		&session.ID,
		&session.SessionDate,
		&session.Status,
		&session.GateClosureAt,
		&session.OpenedAt,
		&session.ClosedAt,
		&session.LaunchedAt,
		&session.FinishedAt,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession retrieves a session by id.
func (r *MarketRepository) GetSession(ctx context.Context, id string) (*models.MarketSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM market_sessions WHERE id = $1`

	session, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("market session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get market session: %w", err)
	}
	return session, nil
}

// GetSessionByDate retrieves the session for one market day.
func (r *MarketRepository) GetSessionByDate(ctx context.Context, date time.Time) (*models.MarketSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM market_sessions WHERE session_date = $1`

	session, err := scanSession(r.pool.QueryRow(ctx, query, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("market session for %s: %w", date.Format("2006-01-02"), ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get market session by date: %w", err)
	}
	return session, nil
}

// ListSessionsByStatus retrieves every session in the given status, oldest
// first.
func (r *MarketRepository) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]*models.MarketSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM market_sessions WHERE status = $1 ORDER BY session_date ASC`

	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list market sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.MarketSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating market sessions: %w", err)
	}
	return sessions, nil
}

// TransitionSession moves a session to the next status and stamps the
// matching timestamp, guarded by the expected current status. A false
// return means the guard did not match (already transitioned).
func (r *MarketRepository) TransitionSession(ctx context.Context, id string, from, to models.SessionStatus, at time.Time) (bool, error) {
	var column string
	switch to {
	case models.SessionOpen:
		column = "opened_at"
	case models.SessionClosed:
		column = "closed_at"
	case models.SessionLaunched:
		column = "launched_at"
	case models.SessionFinished:
		column = "finished_at"
	default:
		return false, fmt.Errorf("no transition timestamp for status %q", to)
	}

	query := fmt.Sprintf(`UPDATE market_sessions SET status = $1, %s = $2 WHERE id = $3 AND status = $4`, column)

	tag, err := r.pool.Exec(ctx, query, to, at, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition market session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteStaleScheduledSessions removes never-opened sessions dated before the
// cutoff, along with any challenges they seeded. A session the scheduler
// created but nobody opened holds no submissions worth keeping.
func (r *MarketRepository) DeleteStaleScheduledSessions(ctx context.Context, before time.Time) (int64, error) {
	challengeQuery := `
		DELETE FROM challenges WHERE session_id IN (
			SELECT id FROM market_sessions WHERE status = $1 AND session_date < $2
		)
	`
	if _, err := r.pool.Exec(ctx, challengeQuery, models.SessionScheduled, before); err != nil {
		return 0, fmt.Errorf("failed to delete challenges of stale sessions: %w", err)
	}

	query := `DELETE FROM market_sessions WHERE status = $1 AND session_date < $2`

	tag, err := r.pool.Exec(ctx, query, models.SessionScheduled, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale scheduled sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateChallenges stores the challenges opened for a session.
func (r *MarketRepository) CreateChallenges(ctx context.Context, challenges []models.Challenge) error {
	query := `
		INSERT INTO challenges (id, session_id, use_case, resource_id, start_at, end_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for _, c := range challenges {
		_, err := r.pool.Exec(ctx, query,
			c.ID, c.SessionID, c.UseCase, c.ResourceID, c.StartAt, c.EndAt, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create challenge %s: %w", c.ID, err)
		}
	}
	return nil
}

const challengeColumns = `id, session_id, use_case, resource_id, start_at, end_at, created_at`

func scanChallenge(row pgx.Row) (models.Challenge, error) {
	var c models.Challenge
	err := row.Scan(&c.ID, &c.SessionID, &c.UseCase, &c.ResourceID, &c.StartAt, &c.EndAt, &c.CreatedAt)
	return c, err
}

// GetChallenge retrieves a challenge by id.
func (r *MarketRepository) GetChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1`

	c, err := scanChallenge(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("challenge %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return &c, nil
}

// ListChallengesBySession retrieves a session's challenges.
func (r *MarketRepository) ListChallengesBySession(ctx context.Context, sessionID string) ([]models.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE session_id = $1 ORDER BY start_at ASC, id ASC`

	return r.listChallenges(ctx, query, sessionID)
}

// ListChallengesByResource retrieves challenges for a resource whose target
// period overlaps p, oldest first.
func (r *MarketRepository) ListChallengesByResource(ctx context.Context, resourceID string, p models.Period) ([]models.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges
		WHERE resource_id = $1 AND start_at < $3 AND end_at > $2
		ORDER BY start_at ASC, id ASC`

	return r.listChallenges(ctx, query, resourceID, p.Start, p.End)
}

func (r *MarketRepository) listChallenges(ctx context.Context, query string, args ...interface{}) ([]models.Challenge, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	defer rows.Close()

	var challenges []models.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		challenges = append(challenges, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating challenges: %w", err)
	}
	return challenges, nil
}

// SaveSubmission stores one submission. Storage is append-only: revisions
// and late arrivals insert new rows, and the effective-submission query
// decides what counts.
func (r *MarketRepository) SaveSubmission(ctx context.Context, submission *models.Submission) error {
	series, err := marshalSeries(submission.Series)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO submissions (id, forecaster_id, challenge_id, resource_id, variable, series, series_start, series_end, registered_at, historical, launch_time)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.pool.Exec(ctx, query,
		submission.ID,
		submission.ForecasterID,
		submission.ChallengeID,
		submission.ResourceID,
		submission.Variable,
		series,
		submission.Series.Start,
		submission.Series.End(),
		submission.RegisteredAt,
		submission.Historical,
		submission.LaunchTime,
	)
	if err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}
	return nil
}

const submissionColumns = `id, forecaster_id, COALESCE(challenge_id, ''), resource_id, variable, series, registered_at, historical, launch_time`

func scanSubmission(row pgx.Row) (models.Submission, error) {
	var s models.Submission
	var series []byte
	err := row.Scan(
		&s.ID,
		&s.ForecasterID,
		&s.ChallengeID,
		&s.ResourceID,
		&s.Variable,
		&series,
		&s.RegisteredAt,
		&s.Historical,
		&s.LaunchTime,
	)
	if err != nil {
		return s, err
	}
	if err := unmarshalSeries(series, &s.Series); err != nil {
		return s, err
	}
	return s, nil
}

// GetSubmission retrieves a submission by id.
func (r *MarketRepository) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`

	s, err := scanSubmission(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &s, nil
}

// ListEffectiveSubmissions retrieves, per forecaster, the latest submission
// for (challenge, variable) registered at or before the cutoff. Rows past
// the cutoff stay in the table but never win the DISTINCT ON ordering.
func (r *MarketRepository) ListEffectiveSubmissions(ctx context.Context, challengeID string, variable models.Variable, cutoff time.Time) ([]models.Submission, error) {
	query := `
		SELECT DISTINCT ON (forecaster_id) ` + submissionColumns + `
		FROM submissions
		WHERE challenge_id = $1 AND variable = $2 AND historical = false AND registered_at <= $3
		ORDER BY forecaster_id ASC, registered_at DESC, id DESC
	`

	return r.listSubmissions(ctx, query, challengeID, variable, cutoff)
}

// ListHistoricalSubmissions retrieves, per (forecaster, series start), the
// latest historical revision for (resource, variable) overlapping p.
func (r *MarketRepository) ListHistoricalSubmissions(ctx context.Context, resourceID string, variable models.Variable, p models.Period) ([]models.Submission, error) {
	query := `
		SELECT DISTINCT ON (forecaster_id, series_start) ` + submissionColumns + `
		FROM submissions
		WHERE resource_id = $1 AND variable = $2 AND historical = true AND series_start < $4 AND series_end > $3
		ORDER BY forecaster_id ASC, series_start ASC, registered_at DESC, id DESC
	`

	return r.listSubmissions(ctx, query, resourceID, variable, p.Start, p.End)
}

func (r *MarketRepository) listSubmissions(ctx context.Context, query string, args ...interface{}) ([]models.Submission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var submissions []models.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		submissions = append(submissions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}
	return submissions, nil
}

// HasChallengeSubmission reports whether the forecaster has any accepted
// challenge submission for the resource, which locks their historical
// series for it.
func (r *MarketRepository) HasChallengeSubmission(ctx context.Context, forecasterID, resourceID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM submissions WHERE forecaster_id = $1 AND resource_id = $2 AND historical = false)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, forecasterID, resourceID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check challenge submissions: %w", err)
	}
	return exists, nil
}

// DeleteHistoricalBefore removes historical submissions whose series end
// before the cutoff.
func (r *MarketRepository) DeleteHistoricalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM submissions WHERE historical = true AND series_end < $1`

	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired historical submissions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SaveEnsembleResults upserts one result per (challenge, variable);
// recomputation against corrected inputs replaces the previous record.
func (r *MarketRepository) SaveEnsembleResults(ctx context.Context, results []models.EnsembleResult) error {
	query := `
		INSERT INTO ensemble_results (id, challenge_id, variable, strategy, series, weights, contributions, available, reason, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (challenge_id, variable)
		DO UPDATE SET
			id = EXCLUDED.id,
			strategy = EXCLUDED.strategy,
			series = EXCLUDED.series,
			weights = EXCLUDED.weights,
			contributions = EXCLUDED.contributions,
			available = EXCLUDED.available,
			reason = EXCLUDED.reason,
			computed_at = EXCLUDED.computed_at
	`

	for _, result := range results {
		series, err := marshalSeries(result.Series)
		if err != nil {
			return err
		}
		weights, err := marshalWeights(result.Weights)
		if err != nil {
			return err
		}
		contributions, err := marshalWeights(result.Contributions)
		if err != nil {
			return err
		}

		_, err = r.pool.Exec(ctx, query,
			result.ID, result.ChallengeID, result.Variable, result.Strategy,
			series, weights, contributions, result.Available, result.Reason, result.ComputedAt)
		if err != nil {
			return fmt.Errorf("failed to save ensemble result for challenge %s variable %s: %w", result.ChallengeID, result.Variable, err)
		}
	}
	return nil
}

const resultColumns = `id, challenge_id, variable, strategy, series, weights, contributions, available, reason, computed_at`

func scanResult(row pgx.Row) (models.EnsembleResult, error) {
	var result models.EnsembleResult
	var series, weights, contributions []byte
	err := row.Scan(
		&result.ID,
		&result.ChallengeID,
		&result.Variable,
		&result.Strategy,
		&series,
		&weights,
		&contributions,
		&result.Available,
		&result.Reason,
		&result.ComputedAt,
	)
	if err != nil {
		return result, err
	}
	if err := unmarshalSeries(series, &result.Series); err != nil {
		return result, err
	}
	if result.Weights, err = unmarshalWeights(weights); err != nil {
		return result, err
	}
	if result.Contributions, err = unmarshalWeights(contributions); err != nil {
		return result, err
	}
	return result, nil
}

// GetEnsembleResult retrieves the result for one (challenge, variable).
func (r *MarketRepository) GetEnsembleResult(ctx context.Context, challengeID string, variable models.Variable) (*models.EnsembleResult, error) {
	query := `SELECT ` + resultColumns + ` FROM ensemble_results WHERE challenge_id = $1 AND variable = $2`

	result, err := scanResult(r.pool.QueryRow(ctx, query, challengeID, variable))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ensemble result for challenge %s variable %s: %w", challengeID, variable, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get ensemble result: %w", err)
	}
	return &result, nil
}

// ListEnsembleResults retrieves every variable's result for a challenge.
func (r *MarketRepository) ListEnsembleResults(ctx context.Context, challengeID string) ([]models.EnsembleResult, error) {
	query := `SELECT ` + resultColumns + ` FROM ensemble_results WHERE challenge_id = $1 ORDER BY variable ASC`

	rows, err := r.pool.Query(ctx, query, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ensemble results: %w", err)
	}
	defer rows.Close()

	var results []models.EnsembleResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ensemble result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ensemble results: %w", err)
	}
	return results, nil
}

// SaveScores stores one scoring batch. Batches are append-only.
func (r *MarketRepository) SaveScores(ctx context.Context, scores []models.ScoreRecord) error {
	query := `
		INSERT INTO score_records (id, batch_id, submission_id, challenge_id, forecaster_id, variable, metric, value, rank, total_participants, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	for _, score := range scores {
		_, err := r.pool.Exec(ctx, query,
			score.ID, score.BatchID, score.SubmissionID, score.ChallengeID, score.ForecasterID,
			score.Variable, score.Metric, score.Value, score.Rank, score.TotalParticipants, score.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save score record: %w", err)
		}
	}
	return nil
}

// ListScores retrieves one challenge's scores for a batch.
func (r *MarketRepository) ListScores(ctx context.Context, challengeID, batchID string) ([]models.ScoreRecord, error) {
	query := `
		SELECT id, batch_id, submission_id, challenge_id, forecaster_id, variable, metric, value, rank, total_participants, created_at
		FROM score_records
		WHERE challenge_id = $1 AND batch_id = $2
		ORDER BY variable ASC, metric ASC, rank ASC
	`

	rows, err := r.pool.Query(ctx, query, challengeID, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list score records: %w", err)
	}
	defer rows.Close()

	var scores []models.ScoreRecord
	for rows.Next() {
		var s models.ScoreRecord
		err := rows.Scan(
			&s.ID, &s.BatchID, &s.SubmissionID, &s.ChallengeID, &s.ForecasterID,
			&s.Variable, &s.Metric, &s.Value, &s.Rank, &s.TotalParticipants, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score record: %w", err)
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating score records: %w", err)
	}
	return scores, nil
}

// LatestScoreBatch returns the most recent batch id for a challenge, or ""
// when the challenge has not been scored yet.
func (r *MarketRepository) LatestScoreBatch(ctx context.Context, challengeID string) (string, error) {
	query := `SELECT batch_id FROM score_records WHERE challenge_id = $1 ORDER BY created_at DESC, batch_id DESC LIMIT 1`

	var batchID string
	err := r.pool.QueryRow(ctx, query, challengeID).Scan(&batchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get latest score batch: %w", err)
	}
	return batchID, nil
}

// CreateResource stores a forecastable resource.
func (r *MarketRepository) CreateResource(ctx context.Context, resource *models.Resource) error {
	query := `
		INSERT INTO resources (id, name, use_case, timezone, signed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		resource.ID, resource.Name, resource.UseCase, resource.Timezone, resource.Signed, resource.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}

// GetResource retrieves a resource by id.
func (r *MarketRepository) GetResource(ctx context.Context, id string) (*models.Resource, error) {
	query := `SELECT id, name, use_case, timezone, signed, created_at FROM resources WHERE id = $1`

	var resource models.Resource
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&resource.ID, &resource.Name, &resource.UseCase, &resource.Timezone, &resource.Signed, &resource.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return &resource, nil
}

// ListResources retrieves every registered resource.
func (r *MarketRepository) ListResources(ctx context.Context) ([]models.Resource, error) {
	query := `SELECT id, name, use_case, timezone, signed, created_at FROM resources ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var resources []models.Resource
	for rows.Next() {
		var resource models.Resource
		err := rows.Scan(&resource.ID, &resource.Name, &resource.UseCase, &resource.Timezone, &resource.Signed, &resource.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, resource)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}
	return resources, nil
}

// CreateForecaster stores a market participant.
func (r *MarketRepository) CreateForecaster(ctx context.Context, forecaster *models.Forecaster) error {
	query := `
		INSERT INTO forecasters (id, display_name, telegram_chat_id, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query,
		forecaster.ID, forecaster.DisplayName, forecaster.TelegramChatID, forecaster.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create forecaster: %w", err)
	}
	return nil
}

// GetForecaster retrieves a forecaster by id.
func (r *MarketRepository) GetForecaster(ctx context.Context, id string) (*models.Forecaster, error) {
	query := `SELECT id, display_name, telegram_chat_id, created_at FROM forecasters WHERE id = $1`

	var forecaster models.Forecaster
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&forecaster.ID, &forecaster.DisplayName, &forecaster.TelegramChatID, &forecaster.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("forecaster %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get forecaster: %w", err)
	}
	return &forecaster, nil
}

// ListForecasters retrieves every registered forecaster.
func (r *MarketRepository) ListForecasters(ctx context.Context) ([]models.Forecaster, error) {
	query := `SELECT id, display_name, telegram_chat_id, created_at FROM forecasters ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list forecasters: %w", err)
	}
	defer rows.Close()

	var forecasters []models.Forecaster
	for rows.Next() {
		var forecaster models.Forecaster
		err := rows.Scan(&forecaster.ID, &forecaster.DisplayName, &forecaster.TelegramChatID, &forecaster.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan forecaster: %w", err)
		}
		forecasters = append(forecasters, forecaster)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating forecasters: %w", err)
	}
	return forecasters, nil
}

// SaveMeasurements upserts measured values, one row per timestamp. NaN
// points mark values missing at the source and are skipped.
func (r *MarketRepository) SaveMeasurements(ctx context.Context, resourceID string, s models.Series) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid measurement series: %w", err)
	}

	timestamps := make([]time.Time, 0, s.Len())
	values := make([]float64, 0, s.Len())
	for i, ts := range s.Timestamps() {
		v := s.Values[i]
		if math.IsNaN(v) {
			continue
		}
		timestamps = append(timestamps, ts)
		values = append(values, v)
	}
	if len(timestamps) == 0 {
		return nil
	}

	query := `
		INSERT INTO measurements (resource_id, ts, value)
		SELECT $1, unnest($2::timestamptz[]), unnest($3::float8[])
		ON CONFLICT (resource_id, ts) DO UPDATE SET value = EXCLUDED.value
	`

	_, err := r.pool.Exec(ctx, query, resourceID, timestamps, values)
	if err != nil {
		return fmt.Errorf("failed to save measurements: %w", err)
	}
	return nil
}

// Measurements returns observed values covering exactly the period. Any
// missing point defers scoring via utils.ErrGroundTruthUnavailable.
func (r *MarketRepository) Measurements(ctx context.Context, resourceID string, p models.Period) (models.Series, error) {
	query := `SELECT ts, value FROM measurements WHERE resource_id = $1 AND ts >= $2 AND ts < $3 ORDER BY ts ASC`

	rows, err := r.pool.Query(ctx, query, resourceID, p.Start, p.End)
	if err != nil {
		return models.Series{}, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	observed := make(map[time.Time]float64)
	for rows.Next() {
		var ts time.Time
		var value float64
		if err := rows.Scan(&ts, &value); err != nil {
			return models.Series{}, fmt.Errorf("failed to scan measurement: %w", err)
		}
		observed[ts.UTC()] = value
	}
	if err := rows.Err(); err != nil {
		return models.Series{}, fmt.Errorf("error iterating measurements: %w", err)
	}

	n := p.PointCount(models.DefaultResolution)
	values := make([]float64, n)
	missing := 0
	for i := 0; i < n; i++ {
		ts := p.Start.UTC().Add(time.Duration(i) * models.DefaultResolution)
		v, ok := observed[ts]
		if !ok {
			missing++
			continue
		}
		values[i] = v
	}
	if missing > 0 {
		return models.Series{}, fmt.Errorf("resource %s has %d of %d points unmeasured in [%s, %s): %w",
			resourceID, missing, n, p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339), utils.ErrGroundTruthUnavailable)
	}

	return models.NewSeries(p.Start, models.DefaultResolution, values), nil
}
