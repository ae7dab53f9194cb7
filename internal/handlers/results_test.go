package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prismcast/prismcast-go/internal/database"
	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/services"
	"github.com/prismcast/prismcast-go/pkg/interfaces"
	"github.com/prismcast/prismcast-go/test/testmocks"
)

type stubResultCache struct {
	entries map[models.Variable]*models.EnsembleResult
}

func (s *stubResultCache) Get(_ context.Context, _ string, variable models.Variable) (*models.EnsembleResult, bool) {
	result, ok := s.entries[variable]
	return result, ok
}

func newResultsRouter(t *testing.T, store interfaces.MarketStore, rc ResultCache) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewResultsHandler(store, newSessionService(t, store), services.NewPayoutService(store, testLogger()), rc)
	router := gin.New()
	router.GET("/challenges/:id", h.GetChallenge)
	router.GET("/challenges/:id/results", h.GetResults)
	router.GET("/challenges/:id/scores", h.GetScores)
	router.GET("/challenges/:id/payouts", h.GetPayouts)
	router.POST("/challenges/:id/recompute", h.RecomputeChallenge)
	router.POST("/challenges/:id/rescore", h.RescoreChallenge)
	return router
}

func flat(start time.Time, n int, v float64) models.Series {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return models.NewSeries(start, models.DefaultResolution, values)
}

func storedResults(t *testing.T, store *database.MemoryStore, challengeID string) []models.EnsembleResult {
	t.Helper()
	start := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	var results []models.EnsembleResult
	for _, variable := range models.AllVariables() {
		results = append(results, models.EnsembleResult{
			ID:          challengeID + "-" + string(variable),
			ChallengeID: challengeID,
			Variable:    variable,
			Strategy:    "mean",
			Series:      flat(start, 96, 50),
			Available:   true,
			ComputedAt:  time.Now().UTC(),
		})
	}
	require.NoError(t, store.SaveEnsembleResults(context.Background(), results))
	return results
}

// seedClosedChallenge plants a session already past gate closure with one
// challenge, bypassing the lifecycle.
func seedClosedChallenge(t *testing.T, store *database.MemoryStore, status models.SessionStatus) models.Challenge {
	t.Helper()
	closedAt := time.Date(2025, 6, 10, 10, 30, 0, 0, time.UTC)
	session := &models.MarketSession{
		ID:            "ms-1",
		SessionDate:   time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		Status:        status,
		GateClosureAt: closedAt,
		CreatedAt:     closedAt.Add(-24 * time.Hour),
	}
	if status.AtLeast(models.SessionClosed) {
		session.ClosedAt = &closedAt
	}
	require.NoError(t, store.CreateSession(context.Background(), session))

	challenge := models.Challenge{
		ID:         "ch-1",
		SessionID:  session.ID,
		UseCase:    models.UseCaseWindPower,
		ResourceID: "res-1",
		StartAt:    time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC),
		EndAt:      time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC),
		CreatedAt:  session.CreatedAt,
	}
	require.NoError(t, store.CreateChallenges(context.Background(), []models.Challenge{challenge}))
	return challenge
}

func TestGetResultsFullCacheHit(t *testing.T) {
	// The store holds nothing; a response can only come from the cache.
	store := database.NewMemoryStore()
	start := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	rc := &stubResultCache{entries: map[models.Variable]*models.EnsembleResult{}}
	for _, variable := range models.AllVariables() {
		rc.entries[variable] = &models.EnsembleResult{
			ChallengeID: "ch-1", Variable: variable, Strategy: "mean",
			Series: flat(start, 96, 42), Available: true,
		}
	}
	router := newResultsRouter(t, store, rc)

	rec := doGet(router, "/challenges/ch-1/results")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cached":true`)
}

func TestGetResultsPartialCacheFallsThrough(t *testing.T) {
	store := database.NewMemoryStore()
	stored := storedResults(t, store, "ch-1")
	// Only the median is cached; the response must not mix sources.
	rc := &stubResultCache{entries: map[models.Variable]*models.EnsembleResult{
		models.VariableQ50: &stored[1],
	}}
	router := newResultsRouter(t, store, rc)

	rec := doGet(router, "/challenges/ch-1/results")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cached":false`)
}

func TestGetResultsStoreError(t *testing.T) {
	store := new(testmocks.MockMarketStore)
	store.On("ListEnsembleResults", mock.Anything, "ch-1").Return(nil, errStore)
	router := newResultsRouter(t, store, nil)

	rec := doGet(router, "/challenges/ch-1/results")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetScoresStoreError(t *testing.T) {
	store := new(testmocks.MockMarketStore)
	store.On("LatestScoreBatch", mock.Anything, "ch-1").Return("", errStore)
	router := newResultsRouter(t, store, nil)

	rec := doGet(router, "/challenges/ch-1/scores")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetPayoutsPoolValidation(t *testing.T) {
	router := newResultsRouter(t, database.NewMemoryStore(), nil)

	rec := doGet(router, "/challenges/ch-1/payouts?pool=a-lot")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid pool amount")

	rec = doGet(router, "/challenges/ch-1/payouts?pool=-50")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cannot allocate payout")
}

func TestGetPayoutsUnscoredChallenge(t *testing.T) {
	router := newResultsRouter(t, database.NewMemoryStore(), nil)

	rec := doGet(router, "/challenges/ch-1/payouts?pool=900")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "no score batch yet")
}

func TestRescoreBeforeGroundTruth(t *testing.T) {
	store := database.NewMemoryStore()
	challenge := seedClosedChallenge(t, store, models.SessionClosed)
	router := newResultsRouter(t, store, nil)

	rec := doPost(router, "/challenges/"+challenge.ID+"/rescore", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ground truth not yet available")
}

func TestRecomputeBeforeGateClosure(t *testing.T) {
	store := database.NewMemoryStore()
	challenge := seedClosedChallenge(t, store, models.SessionOpen)
	router := newResultsRouter(t, store, nil)

	rec := doPost(router, "/challenges/"+challenge.ID+"/recompute", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to recompute challenge")
}

func TestRecomputeUnknownChallenge(t *testing.T) {
	router := newResultsRouter(t, database.NewMemoryStore(), nil)

	rec := doPost(router, "/challenges/ch-ghost/recompute", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
