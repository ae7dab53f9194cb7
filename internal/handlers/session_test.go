package handlers

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prismcast/prismcast-go/internal/config"
	"github.com/prismcast/prismcast-go/internal/database"
	"github.com/prismcast/prismcast-go/internal/ensemble"
	"github.com/prismcast/prismcast-go/internal/services"
	"github.com/prismcast/prismcast-go/pkg/interfaces"
	"github.com/prismcast/prismcast-go/test/testmocks"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func marketCfg() config.MarketConfig {
	return config.MarketConfig{
		Timezone:           "UTC",
		OpenTime:           "07:00",
		GateClosureTime:    "10:30",
		LaunchTime:         "12:00",
		FinishPollInterval: "1h",
		ResultCacheTTL:     "24h",
		ClosureWorkers:     1,
	}
}

func newSessionService(t *testing.T, store interfaces.MarketStore) *services.SessionService {
	t.Helper()
	logger := testLogger()
	cfg := ensemble.DefaultConfig()
	cfg.Strategy = ensemble.StrategyMean
	engine, err := ensemble.NewEngine(ensemble.DefaultRegistry(), cfg, logger)
	require.NoError(t, err)
	scorer := services.NewScoringService(store, cfg.Beta, logger)
	optimizer := services.NewResourceOptimizer(services.ResourceOptimizerConfig{FixedWorkers: 1}, logger)
	return services.NewSessionService(store, engine, scorer, optimizer, marketCfg(), logger)
}

func newSessionRouter(t *testing.T, store interfaces.MarketStore, loc *time.Location) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewSessionHandler(store, newSessionService(t, store), loc)
	router := gin.New()
	router.GET("/sessions", h.ListSessions)
	router.GET("/sessions/:date", h.GetSession)
	router.POST("/sessions/finish", h.FinishSessions)
	router.POST("/sessions/:date/open", h.OpenSession)
	return router
}

func TestGetSessionStoreError(t *testing.T) {
	store := new(testmocks.MockMarketStore)
	store.On("GetSessionByDate", mock.Anything, mock.Anything).Return(nil, errStore)
	router := newSessionRouter(t, store, time.UTC)

	rec := doGet(router, "/sessions/2025-06-10")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to fetch session")
}

// The date parameter names a market-local calendar day, but the store keys
// sessions by the UTC-midnight form of that day whatever the market zone.
func TestGetSessionResolvesMarketLocalDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	want := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	store := new(testmocks.MockMarketStore)
	store.On("GetSessionByDate", mock.Anything, mock.MatchedBy(func(d time.Time) bool {
		return d.Equal(want)
	})).Return(nil, database.ErrNotFound)
	router := newSessionRouter(t, store, loc)

	rec := doGet(router, "/sessions/2025-06-10")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	store.AssertExpectations(t)
}

func TestListSessionsStoreError(t *testing.T) {
	store := new(testmocks.MockMarketStore)
	store.On("ListSessionsByStatus", mock.Anything, mock.Anything).Return(nil, errStore)
	router := newSessionRouter(t, store, time.UTC)

	rec := doGet(router, "/sessions?status=open")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOpenSessionStoreError(t *testing.T) {
	store := new(testmocks.MockMarketStore)
	store.On("GetSessionByDate", mock.Anything, mock.Anything).Return(nil, errStore)
	router := newSessionRouter(t, store, time.UTC)

	rec := doPost(router, "/sessions/2025-06-10/open", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to open session")
}

func TestFinishSessionsStoreError(t *testing.T) {
	store := new(testmocks.MockMarketStore)
	store.On("ListSessionsByStatus", mock.Anything, mock.Anything).Return(nil, errStore)
	router := newSessionRouter(t, store, time.UTC)

	rec := doPost(router, "/sessions/finish", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Finish poll failed")
}
