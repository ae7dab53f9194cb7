package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/prismcast/prismcast-go/internal/api"
	"github.com/prismcast/prismcast-go/internal/cache"
	"github.com/prismcast/prismcast-go/internal/config"
	"github.com/prismcast/prismcast-go/internal/database"
	"github.com/prismcast/prismcast-go/internal/ensemble"
	"github.com/prismcast/prismcast-go/internal/handlers"
	"github.com/prismcast/prismcast-go/internal/middleware"
	"github.com/prismcast/prismcast-go/internal/scheduler"
	"github.com/prismcast/prismcast-go/internal/services"
	"github.com/prismcast/prismcast-go/internal/telemetry"
)

const serverVersion = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

// run wires the market engine end to end: config, tracing, stores, the
// session lifecycle with its scheduler, and the HTTP API. It blocks until a
// termination signal arrives, then shuts the pieces down in reverse order.
func run() error {
	// A missing .env file is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)

	provider, err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Environment: cfg.Environment,
		Version:     serverVersion,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("Trace provider shutdown failed")
		}
	}()

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	store := database.NewMarketRepository(db.Pool)

	engine, err := ensemble.NewEngine(ensemble.DefaultRegistry(), engineConfig(cfg.Ensemble), logger)
	if err != nil {
		return fmt.Errorf("failed to build ensemble engine: %w", err)
	}

	scorer := services.NewScoringService(store, cfg.Ensemble.Beta, logger)
	optimizer := services.NewResourceOptimizer(services.ResourceOptimizerConfig{
		FixedWorkers: cfg.Market.ClosureWorkers,
	}, logger)
	sessions := services.NewSessionService(store, engine, scorer, optimizer, cfg.Market, logger)

	// Validate guarantees the TTL parses.
	cacheTTL, _ := time.ParseDuration(cfg.Market.ResultCacheTTL)
	resultCache := cache.NewRedisResultCache(redisClient.Client, cacheTTL)
	sessions.SetPublisher(resultCache)

	if cfg.Telegram.BotToken != "" {
		sessions.SetNotifier(services.NewNotificationService(store, cfg.Telegram.BotToken))
		logger.Info("Telegram notifications enabled")
	}

	submissions := services.NewSubmissionService(store, logger)
	payouts := services.NewPayoutService(store, logger)

	cleanup := services.NewCleanupService(store)
	go cleanup.Start(cfg.Cleanup)
	defer cleanup.Stop()

	sched, err := scheduler.New(sessions, cfg.Market, logger)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	marketLoc, err := cfg.Market.Location()
	if err != nil {
		return fmt.Errorf("failed to resolve market timezone: %w", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(telemetry.ServiceName))
	router.Use(middleware.MarketAttributes())

	api.SetupRoutes(router, db, redisClient, api.Handlers{
		Registry:    handlers.NewRegistryHandler(store),
		Submissions: handlers.NewSubmissionHandler(submissions),
		Sessions:    handlers.NewSessionHandler(store, sessions, marketLoc),
		Results:     handlers.NewResultsHandler(store, sessions, payouts, resultCache),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":        cfg.Server.Port,
			"environment": cfg.Environment,
			"timezone":    cfg.Market.Timezone,
			"strategy":    cfg.Ensemble.Strategy,
		}).Info("Market server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited gracefully")
	return nil
}

// newLogger builds the process logger. Unknown levels fall back to info
// rather than failing startup.
func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

// engineConfig maps the operator-facing ensemble settings onto the engine's
// own config type.
func engineConfig(cfg config.EnsembleConfig) ensemble.Config {
	return ensemble.Config{
		Strategy:         cfg.Strategy,
		Beta:             cfg.Beta,
		ScoreDays:        cfg.ScoreDays,
		OutlierMADFactor: cfg.OutlierMADFactor,
		ClipEnabled:      cfg.ClipEnabled,
		ClipFloor:        cfg.ClipFloor,
	}
}
