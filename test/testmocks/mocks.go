// Package testmocks provides testify mocks for the market's persistence and
// notification contracts. The in-memory store covers most tests; these are
// for exercising error paths and call expectations a real store cannot
// produce on demand.
package testmocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/prismcast/prismcast-go/internal/models"
)

// MockMarketStore implements interfaces.MarketStore.
type MockMarketStore struct {
	mock.Mock
}

func (m *MockMarketStore) CreateSession(ctx context.Context, session *models.MarketSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockMarketStore) GetSession(ctx context.Context, id string) (*models.MarketSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MarketSession), args.Error(1)
}

func (m *MockMarketStore) GetSessionByDate(ctx context.Context, date time.Time) (*models.MarketSession, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MarketSession), args.Error(1)
}

func (m *MockMarketStore) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]*models.MarketSession, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.MarketSession), args.Error(1)
}

func (m *MockMarketStore) TransitionSession(ctx context.Context, id string, from, to models.SessionStatus, at time.Time) (bool, error) {
	args := m.Called(ctx, id, from, to, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockMarketStore) DeleteStaleScheduledSessions(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMarketStore) CreateChallenges(ctx context.Context, challenges []models.Challenge) error {
	args := m.Called(ctx, challenges)
	return args.Error(0)
}

func (m *MockMarketStore) GetChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Challenge), args.Error(1)
}

func (m *MockMarketStore) ListChallengesBySession(ctx context.Context, sessionID string) ([]models.Challenge, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Challenge), args.Error(1)
}

func (m *MockMarketStore) ListChallengesByResource(ctx context.Context, resourceID string, p models.Period) ([]models.Challenge, error) {
	args := m.Called(ctx, resourceID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Challenge), args.Error(1)
}

func (m *MockMarketStore) SaveSubmission(ctx context.Context, submission *models.Submission) error {
	args := m.Called(ctx, submission)
	return args.Error(0)
}

func (m *MockMarketStore) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Submission), args.Error(1)
}

func (m *MockMarketStore) ListEffectiveSubmissions(ctx context.Context, challengeID string, variable models.Variable, cutoff time.Time) ([]models.Submission, error) {
	args := m.Called(ctx, challengeID, variable, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Submission), args.Error(1)
}

func (m *MockMarketStore) ListHistoricalSubmissions(ctx context.Context, resourceID string, variable models.Variable, p models.Period) ([]models.Submission, error) {
	args := m.Called(ctx, resourceID, variable, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Submission), args.Error(1)
}

func (m *MockMarketStore) HasChallengeSubmission(ctx context.Context, forecasterID, resourceID string) (bool, error) {
	args := m.Called(ctx, forecasterID, resourceID)
	return args.Bool(0), args.Error(1)
}

func (m *MockMarketStore) DeleteHistoricalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMarketStore) SaveEnsembleResults(ctx context.Context, results []models.EnsembleResult) error {
	args := m.Called(ctx, results)
	return args.Error(0)
}

func (m *MockMarketStore) GetEnsembleResult(ctx context.Context, challengeID string, variable models.Variable) (*models.EnsembleResult, error) {
	args := m.Called(ctx, challengeID, variable)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EnsembleResult), args.Error(1)
}

func (m *MockMarketStore) ListEnsembleResults(ctx context.Context, challengeID string) ([]models.EnsembleResult, error) {
	args := m.Called(ctx, challengeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.EnsembleResult), args.Error(1)
}

func (m *MockMarketStore) SaveScores(ctx context.Context, scores []models.ScoreRecord) error {
	args := m.Called(ctx, scores)
	return args.Error(0)
}

func (m *MockMarketStore) ListScores(ctx context.Context, challengeID, batchID string) ([]models.ScoreRecord, error) {
	args := m.Called(ctx, challengeID, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ScoreRecord), args.Error(1)
}

func (m *MockMarketStore) LatestScoreBatch(ctx context.Context, challengeID string) (string, error) {
	args := m.Called(ctx, challengeID)
	return args.String(0), args.Error(1)
}

func (m *MockMarketStore) CreateResource(ctx context.Context, resource *models.Resource) error {
	args := m.Called(ctx, resource)
	return args.Error(0)
}

func (m *MockMarketStore) GetResource(ctx context.Context, id string) (*models.Resource, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Resource), args.Error(1)
}

func (m *MockMarketStore) ListResources(ctx context.Context) ([]models.Resource, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Resource), args.Error(1)
}

func (m *MockMarketStore) CreateForecaster(ctx context.Context, forecaster *models.Forecaster) error {
	args := m.Called(ctx, forecaster)
	return args.Error(0)
}

func (m *MockMarketStore) GetForecaster(ctx context.Context, id string) (*models.Forecaster, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Forecaster), args.Error(1)
}

func (m *MockMarketStore) ListForecasters(ctx context.Context) ([]models.Forecaster, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Forecaster), args.Error(1)
}

func (m *MockMarketStore) Measurements(ctx context.Context, resourceID string, p models.Period) (models.Series, error) {
	args := m.Called(ctx, resourceID, p)
	if args.Get(0) == nil {
		return models.Series{}, args.Error(1)
	}
	return args.Get(0).(models.Series), args.Error(1)
}

func (m *MockMarketStore) SaveMeasurements(ctx context.Context, resourceID string, s models.Series) error {
	args := m.Called(ctx, resourceID, s)
	return args.Error(0)
}

// MockNotifier implements services.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SessionOpened(ctx context.Context, session *models.MarketSession, challenges []models.Challenge) {
	m.Called(ctx, session, challenges)
}

func (m *MockNotifier) SessionLaunched(ctx context.Context, session *models.MarketSession, results []models.EnsembleResult) {
	m.Called(ctx, session, results)
}

func (m *MockNotifier) SessionFinished(ctx context.Context, session *models.MarketSession, scores []models.ScoreRecord) {
	m.Called(ctx, session, scores)
}

// MockPublisher implements services.ResultPublisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, sessionID string, results []models.EnsembleResult) error {
	args := m.Called(ctx, sessionID, results)
	return args.Error(0)
}
