package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/prismcast/prismcast-go/internal/config"
	"github.com/prismcast/prismcast-go/internal/database"
	"github.com/prismcast/prismcast-go/internal/ensemble"
	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/scoring"
	"github.com/prismcast/prismcast-go/internal/services"
)

func benchLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func benchSeries(start time.Time, points int, value float64) models.Series {
	values := make([]float64, points)
	for i := range values {
		values[i] = value
	}
	return models.NewSeries(start, models.DefaultResolution, values)
}

// seedMarket walks one market day to the closed state so recompute and
// rescore benchmarks measure steady-state work, not setup.
func seedMarket(b *testing.B, strategy string, forecasters int) (*services.SessionService, string) {
	b.Helper()
	ctx := context.Background()
	logger := benchLogger()
	store := database.NewMemoryStore()

	engineCfg := ensemble.DefaultConfig()
	engineCfg.Strategy = strategy
	engineCfg.ScoreDays = 2
	engine, err := ensemble.NewEngine(ensemble.DefaultRegistry(), engineCfg, logger)
	if err != nil {
		b.Fatal(err)
	}
	scorer := services.NewScoringService(store, engineCfg.Beta, logger)
	optimizer := services.NewResourceOptimizer(services.ResourceOptimizerConfig{FixedWorkers: 2}, logger)
	sessions := services.NewSessionService(store, engine, scorer, optimizer, config.MarketConfig{
		Timezone:           "UTC",
		OpenTime:           "07:00",
		GateClosureTime:    "10:30",
		LaunchTime:         "12:00",
		FinishPollInterval: "1h",
		ResultCacheTTL:     "24h",
		ClosureWorkers:     2,
	}, logger)
	subs := services.NewSubmissionService(store, logger)

	sessionDate := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	challengeStart := sessionDate.AddDate(0, 0, 1)
	windowStart := sessionDate.AddDate(0, 0, -1)

	if err := store.CreateResource(ctx, &models.Resource{
		ID:        "res-bench",
		Name:      "Benchmark Ridge Wind",
		UseCase:   models.UseCaseWindPower,
		Timezone:  "UTC",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		b.Fatal(err)
	}
	if err := subs.SubmitMeasurements(ctx, "res-bench", benchSeries(windowStart, 3*96, 50)); err != nil {
		b.Fatal(err)
	}

	variables := []models.Variable{models.VariableQ10, models.VariableQ50, models.VariableQ90}
	for i := 0; i < forecasters; i++ {
		id := fmt.Sprintf("fc-%02d", i)
		if err := store.CreateForecaster(ctx, &models.Forecaster{
			ID: id, DisplayName: id, CreatedAt: time.Now().UTC(),
		}); err != nil {
			b.Fatal(err)
		}
		bias := float64(i) - float64(forecasters)/2
		for _, variable := range variables {
			if _, err := subs.SubmitHistorical(ctx, services.HistoricalSubmissionRequest{
				ForecasterID: id,
				ResourceID:   "res-bench",
				Variable:     variable,
				LaunchTime:   windowStart.Add(-12 * time.Hour),
				Series:       benchSeries(windowStart, 2*96, 50+bias),
			}); err != nil {
				b.Fatal(err)
			}
		}
	}

	session, err := sessions.OpenSession(ctx, sessionDate)
	if err != nil {
		b.Fatal(err)
	}
	challenges, err := store.ListChallengesBySession(ctx, session.ID)
	if err != nil {
		b.Fatal(err)
	}
	challenge := challenges[0]

	for i := 0; i < forecasters; i++ {
		id := fmt.Sprintf("fc-%02d", i)
		bias := float64(i) - float64(forecasters)/2
		for _, variable := range variables {
			sub, err := subs.SubmitChallenge(ctx, services.ChallengeSubmissionRequest{
				ForecasterID: id,
				ChallengeID:  challenge.ID,
				Variable:     variable,
				Series:       benchSeries(challengeStart, 96, 50+bias),
			})
			if sub == nil {
				b.Fatalf("challenge submission rejected: %v", err)
			}
		}
	}

	if err := sessions.CloseSession(ctx, sessionDate); err != nil {
		b.Fatal(err)
	}
	return sessions, challenge.ID
}

// BenchmarkEnsembleRecompute measures the full recompute path: loading
// effective submissions and training data from the store, fitting and
// combining, and writing the results back.
func BenchmarkEnsembleRecompute(b *testing.B) {
	for _, strategy := range []string{ensemble.StrategyMean, ensemble.StrategyWeightedAverage} {
		b.Run(strategy, func(b *testing.B) {
			sessions, challengeID := seedMarket(b, strategy, 10)
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := sessions.RecomputeChallenge(ctx, challengeID); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkScoreChallenge measures a full scoring batch: every effective
// submission against ground truth across all metrics, ranked.
func BenchmarkScoreChallenge(b *testing.B) {
	sessions, challengeID := seedMarket(b, ensemble.StrategyWeightedAverage, 10)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := sessions.RescoreChallenge(ctx, challengeID); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkScoringMetrics measures the raw metric kernels over one day of
// quarter-hourly values.
func BenchmarkScoringMetrics(b *testing.B) {
	observed := make([]float64, 96)
	forecast := make([]float64, 96)
	lower := make([]float64, 96)
	upper := make([]float64, 96)
	for i := range observed {
		observed[i] = 50 + float64(i%7)
		forecast[i] = 48 + float64(i%5)
		lower[i] = observed[i] - 10
		upper[i] = observed[i] + 10
	}

	b.Run("rmse", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := scoring.RMSE(observed, forecast); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("pinball", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := scoring.Pinball(observed, forecast, 0.5); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("winkler", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := scoring.Winkler(observed, lower, upper, 0.2); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkHealthEndpoint measures framework dispatch overhead on a minimal
// router, without database or cache behind it.
func BenchmarkHealthEndpoint(b *testing.B) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			req, _ := http.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
		}
	})
}
