package database

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/utils"
)

// MemoryStore is an in-memory MarketStore with the same observable
// semantics as the postgres repository: submissions and score batches are
// append-only, effectiveness is decided at read time against the cutoff,
// and ensemble results upsert per (challenge, variable). It backs the
// simulator and the service tests.
type MemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]*models.MarketSession
	challenges   map[string]models.Challenge
	submissions  []models.Submission
	results      map[string]models.EnsembleResult
	scores       []models.ScoreRecord
	resources    map[string]models.Resource
	forecasters  map[string]models.Forecaster
	measurements map[string]map[time.Time]float64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]*models.MarketSession),
		challenges:   make(map[string]models.Challenge),
		results:      make(map[string]models.EnsembleResult),
		resources:    make(map[string]models.Resource),
		forecasters:  make(map[string]models.Forecaster),
		measurements: make(map[string]map[time.Time]float64),
	}
}

func copySeries(s models.Series) models.Series {
	values := make([]float64, len(s.Values))
	copy(values, s.Values)
	return models.Series{Start: s.Start, Resolution: s.Resolution, Values: values}
}

func copyWeights(w map[string]float64) map[string]float64 {
	if w == nil {
		return nil
	}
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

func copySession(s *models.MarketSession) *models.MarketSession {
	session := *s
	return &session
}

func copySubmission(s models.Submission) models.Submission {
	out := s
	out.Series = copySeries(s.Series)
	return out
}

func copyResult(r models.EnsembleResult) models.EnsembleResult {
	out := r
	out.Series = copySeries(r.Series)
	out.Weights = copyWeights(r.Weights)
	out.Contributions = copyWeights(r.Contributions)
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// CreateSession stores a new market session.
func (m *MemoryStore) CreateSession(_ context.Context, session *models.MarketSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; exists {
		return fmt.Errorf("market session %s already exists", session.ID)
	}
	m.sessions[session.ID] = copySession(session)
	return nil
}

// GetSession retrieves a session by id.
func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.MarketSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("market session %s: %w", id, ErrNotFound)
	}
	return copySession(session), nil
}

// GetSessionByDate retrieves the session for one market day.
func (m *MemoryStore) GetSessionByDate(_ context.Context, date time.Time) (*models.MarketSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, session := range m.sessions {
		if sameDay(session.SessionDate, date) {
			return copySession(session), nil
		}
	}
	return nil, fmt.Errorf("market session for %s: %w", date.Format("2006-01-02"), ErrNotFound)
}

// ListSessionsByStatus retrieves sessions in the given status, oldest first.
func (m *MemoryStore) ListSessionsByStatus(_ context.Context, status models.SessionStatus) ([]*models.MarketSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sessions []*models.MarketSession
	for _, session := range m.sessions {
		if session.Status == status {
			sessions = append(sessions, copySession(session))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].SessionDate.Equal(sessions[j].SessionDate) {
			return sessions[i].SessionDate.Before(sessions[j].SessionDate)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

// TransitionSession moves a session to the next status, guarded by the
// expected current status.
func (m *MemoryStore) TransitionSession(_ context.Context, id string, from, to models.SessionStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return false, fmt.Errorf("market session %s: %w", id, ErrNotFound)
	}
	if session.Status != from {
		return false, nil
	}

	stamp := at
	switch to {
	case models.SessionOpen:
		session.OpenedAt = &stamp
	case models.SessionClosed:
		session.ClosedAt = &stamp
	case models.SessionLaunched:
		session.LaunchedAt = &stamp
	case models.SessionFinished:
		session.FinishedAt = &stamp
	default:
		return false, fmt.Errorf("no transition timestamp for status %q", to)
	}
	session.Status = to
	return true, nil
}

// DeleteStaleScheduledSessions removes never-opened sessions dated before the
// cutoff, along with any challenges they seeded.
func (m *MemoryStore) DeleteStaleScheduledSessions(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, session := range m.sessions {
		if session.Status != models.SessionScheduled || !session.SessionDate.Before(before) {
			continue
		}
		for challengeID, challenge := range m.challenges {
			if challenge.SessionID == id {
				delete(m.challenges, challengeID)
			}
		}
		delete(m.sessions, id)
		removed++
	}
	return removed, nil
}

// CreateChallenges stores the challenges opened for a session.
func (m *MemoryStore) CreateChallenges(_ context.Context, challenges []models.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range challenges {
		if _, exists := m.challenges[c.ID]; exists {
			return fmt.Errorf("challenge %s already exists", c.ID)
		}
		m.challenges[c.ID] = c
	}
	return nil
}

// GetChallenge retrieves a challenge by id.
func (m *MemoryStore) GetChallenge(_ context.Context, id string) (*models.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.challenges[id]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", id, ErrNotFound)
	}
	return &c, nil
}

func sortChallenges(challenges []models.Challenge) {
	sort.Slice(challenges, func(i, j int) bool {
		if !challenges[i].StartAt.Equal(challenges[j].StartAt) {
			return challenges[i].StartAt.Before(challenges[j].StartAt)
		}
		return challenges[i].ID < challenges[j].ID
	})
}

// ListChallengesBySession retrieves a session's challenges.
func (m *MemoryStore) ListChallengesBySession(_ context.Context, sessionID string) ([]models.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var challenges []models.Challenge
	for _, c := range m.challenges {
		if c.SessionID == sessionID {
			challenges = append(challenges, c)
		}
	}
	sortChallenges(challenges)
	return challenges, nil
}

// ListChallengesByResource retrieves challenges for a resource overlapping
// p, oldest first.
func (m *MemoryStore) ListChallengesByResource(_ context.Context, resourceID string, p models.Period) ([]models.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var challenges []models.Challenge
	for _, c := range m.challenges {
		if c.ResourceID == resourceID && c.StartAt.Before(p.End) && c.EndAt.After(p.Start) {
			challenges = append(challenges, c)
		}
	}
	sortChallenges(challenges)
	return challenges, nil
}

// SaveSubmission appends one submission; revisions and late arrivals are
// new rows, exactly like the postgres layer.
func (m *MemoryStore) SaveSubmission(_ context.Context, submission *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions = append(m.submissions, copySubmission(*submission))
	return nil
}

// GetSubmission retrieves a submission by id.
func (m *MemoryStore) GetSubmission(_ context.Context, id string) (*models.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.submissions {
		if s.ID == id {
			out := copySubmission(s)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
}

// ListEffectiveSubmissions retrieves, per forecaster, the latest submission
// for (challenge, variable) registered at or before the cutoff.
func (m *MemoryStore) ListEffectiveSubmissions(_ context.Context, challengeID string, variable models.Variable, cutoff time.Time) ([]models.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	latest := make(map[string]models.Submission)
	for _, s := range m.submissions {
		if s.Historical || s.ChallengeID != challengeID || s.Variable != variable {
			continue
		}
		if s.RegisteredAt.After(cutoff) {
			continue
		}
		current, ok := latest[s.ForecasterID]
		if !ok || s.RegisteredAt.After(current.RegisteredAt) ||
			(s.RegisteredAt.Equal(current.RegisteredAt) && s.ID > current.ID) {
			latest[s.ForecasterID] = s
		}
	}

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	submissions := make([]models.Submission, 0, len(ids))
	for _, id := range ids {
		submissions = append(submissions, copySubmission(latest[id]))
	}
	return submissions, nil
}

// ListHistoricalSubmissions retrieves, per (forecaster, series start), the
// latest historical revision for (resource, variable) overlapping p.
func (m *MemoryStore) ListHistoricalSubmissions(_ context.Context, resourceID string, variable models.Variable, p models.Period) ([]models.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type slot struct {
		forecasterID string
		start        time.Time
	}
	latest := make(map[slot]models.Submission)
	for _, s := range m.submissions {
		if !s.Historical || s.ResourceID != resourceID || s.Variable != variable {
			continue
		}
		if !s.Series.Start.Before(p.End) || !s.Series.End().After(p.Start) {
			continue
		}
		key := slot{forecasterID: s.ForecasterID, start: s.Series.Start}
		current, ok := latest[key]
		if !ok || s.RegisteredAt.After(current.RegisteredAt) ||
			(s.RegisteredAt.Equal(current.RegisteredAt) && s.ID > current.ID) {
			latest[key] = s
		}
	}

	submissions := make([]models.Submission, 0, len(latest))
	for _, s := range latest {
		submissions = append(submissions, copySubmission(s))
	}
	sort.Slice(submissions, func(i, j int) bool {
		if submissions[i].ForecasterID != submissions[j].ForecasterID {
			return submissions[i].ForecasterID < submissions[j].ForecasterID
		}
		return submissions[i].Series.Start.Before(submissions[j].Series.Start)
	})
	return submissions, nil
}

// HasChallengeSubmission reports whether the forecaster has any accepted
// challenge submission for the resource.
func (m *MemoryStore) HasChallengeSubmission(_ context.Context, forecasterID, resourceID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.submissions {
		if !s.Historical && s.ForecasterID == forecasterID && s.ResourceID == resourceID {
			return true, nil
		}
	}
	return false, nil
}

// DeleteHistoricalBefore removes historical submissions whose series end
// before the cutoff.
func (m *MemoryStore) DeleteHistoricalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.submissions[:0]
	var removed int64
	for _, s := range m.submissions {
		if s.Historical && s.Series.End().Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	m.submissions = kept
	return removed, nil
}

func resultKey(challengeID string, variable models.Variable) string {
	return challengeID + "/" + string(variable)
}

// SaveEnsembleResults upserts one result per (challenge, variable).
func (m *MemoryStore) SaveEnsembleResults(_ context.Context, results []models.EnsembleResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		m.results[resultKey(r.ChallengeID, r.Variable)] = copyResult(r)
	}
	return nil
}

// GetEnsembleResult retrieves the result for one (challenge, variable).
func (m *MemoryStore) GetEnsembleResult(_ context.Context, challengeID string, variable models.Variable) (*models.EnsembleResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[resultKey(challengeID, variable)]
	if !ok {
		return nil, fmt.Errorf("ensemble result for challenge %s variable %s: %w", challengeID, variable, ErrNotFound)
	}
	out := copyResult(r)
	return &out, nil
}

// ListEnsembleResults retrieves every variable's result for a challenge.
func (m *MemoryStore) ListEnsembleResults(_ context.Context, challengeID string) ([]models.EnsembleResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var results []models.EnsembleResult
	for _, r := range m.results {
		if r.ChallengeID == challengeID {
			results = append(results, copyResult(r))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Variable < results[j].Variable
	})
	return results, nil
}

// SaveScores appends one scoring batch.
func (m *MemoryStore) SaveScores(_ context.Context, scores []models.ScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = append(m.scores, scores...)
	return nil
}

// ListScores retrieves one challenge's scores for a batch.
func (m *MemoryStore) ListScores(_ context.Context, challengeID, batchID string) ([]models.ScoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var scores []models.ScoreRecord
	for _, s := range m.scores {
		if s.ChallengeID == challengeID && s.BatchID == batchID {
			scores = append(scores, s)
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Variable != b.Variable {
			return a.Variable < b.Variable
		}
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		return a.Rank < b.Rank
	})
	return scores, nil
}

// LatestScoreBatch returns the most recent batch id for a challenge, or ""
// when unscored.
func (m *MemoryStore) LatestScoreBatch(_ context.Context, challengeID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var batchID string
	var latest time.Time
	for _, s := range m.scores {
		if s.ChallengeID != challengeID {
			continue
		}
		if batchID == "" || s.CreatedAt.After(latest) ||
			(s.CreatedAt.Equal(latest) && s.BatchID > batchID) {
			batchID = s.BatchID
			latest = s.CreatedAt
		}
	}
	return batchID, nil
}

// CreateResource stores a forecastable resource.
func (m *MemoryStore) CreateResource(_ context.Context, resource *models.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.resources[resource.ID]; exists {
		return fmt.Errorf("resource %s already exists", resource.ID)
	}
	m.resources[resource.ID] = *resource
	return nil
}

// GetResource retrieves a resource by id.
func (m *MemoryStore) GetResource(_ context.Context, id string) (*models.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	return &r, nil
}

// ListResources retrieves every registered resource, ordered by id.
func (m *MemoryStore) ListResources(_ context.Context) ([]models.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resources := make([]models.Resource, 0, len(m.resources))
	for _, r := range m.resources {
		resources = append(resources, r)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].ID < resources[j].ID })
	return resources, nil
}

// CreateForecaster stores a market participant.
func (m *MemoryStore) CreateForecaster(_ context.Context, forecaster *models.Forecaster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.forecasters[forecaster.ID]; exists {
		return fmt.Errorf("forecaster %s already exists", forecaster.ID)
	}
	m.forecasters[forecaster.ID] = *forecaster
	return nil
}

// GetForecaster retrieves a forecaster by id.
func (m *MemoryStore) GetForecaster(_ context.Context, id string) (*models.Forecaster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.forecasters[id]
	if !ok {
		return nil, fmt.Errorf("forecaster %s: %w", id, ErrNotFound)
	}
	return &f, nil
}

// ListForecasters retrieves every registered forecaster, ordered by id.
func (m *MemoryStore) ListForecasters(_ context.Context) ([]models.Forecaster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	forecasters := make([]models.Forecaster, 0, len(m.forecasters))
	for _, f := range m.forecasters {
		forecasters = append(forecasters, f)
	}
	sort.Slice(forecasters, func(i, j int) bool { return forecasters[i].ID < forecasters[j].ID })
	return forecasters, nil
}

// SaveMeasurements upserts measured values point by point; NaN points mark
// values missing at the source and are skipped.
func (m *MemoryStore) SaveMeasurements(_ context.Context, resourceID string, s models.Series) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid measurement series: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	points, ok := m.measurements[resourceID]
	if !ok {
		points = make(map[time.Time]float64)
		m.measurements[resourceID] = points
	}
	for i, ts := range s.Timestamps() {
		if math.IsNaN(s.Values[i]) {
			continue
		}
		points[ts.UTC()] = s.Values[i]
	}
	return nil
}

// Measurements returns observed values covering exactly the period, or
// utils.ErrGroundTruthUnavailable when any point is missing.
func (m *MemoryStore) Measurements(_ context.Context, resourceID string, p models.Period) (models.Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	points := m.measurements[resourceID]

	n := p.PointCount(models.DefaultResolution)
	values := make([]float64, n)
	missing := 0
	for i := 0; i < n; i++ {
		ts := p.Start.UTC().Add(time.Duration(i) * models.DefaultResolution)
		v, ok := points[ts]
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
