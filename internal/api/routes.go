package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prismcast/prismcast-go/internal/handlers"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Services  Services  `json:"services"`
}

type Services struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Handlers bundles the route handlers SetupRoutes wires up.
type Handlers struct {
	Registry    *handlers.RegistryHandler
	Submissions *handlers.SubmissionHandler
	Sessions    *handlers.SessionHandler
	Results     *handlers.ResultsHandler
}

func SetupRoutes(router *gin.Engine, db, redis Pinger, h Handlers) {
	// Health check endpoint
	router.GET("/health", healthCheck(db, redis))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Resource registry and measurement feed
		resources := v1.Group("/resources")
		{
			resources.POST("", h.Registry.CreateResource)
			resources.GET("", h.Registry.ListResources)
			resources.GET("/:id", h.Registry.GetResource)
			resources.POST("/:id/measurements", h.Submissions.SubmitMeasurements)
		}

		// Forecaster registry
		forecasters := v1.Group("/forecasters")
		{
			forecasters.POST("", h.Registry.CreateForecaster)
			forecasters.GET("", h.Registry.ListForecasters)
			forecasters.GET("/:id", h.Registry.GetForecaster)
		}

		// Forecast submissions
		submissions := v1.Group("/submissions")
		{
			submissions.POST("/challenge", h.Submissions.SubmitChallenge)
			submissions.POST("/historical", h.Submissions.SubmitHistorical)
		}

		// Session reads and lifecycle triggers
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", h.Sessions.ListSessions)
			sessions.GET("/:date", h.Sessions.GetSession)
			sessions.POST("/finish", h.Sessions.FinishSessions)
			sessions.POST("/:date/open", h.Sessions.OpenSession)
			sessions.POST("/:date/close", h.Sessions.CloseSession)
			sessions.POST("/:date/launch", h.Sessions.LaunchSession)
		}

		// Challenge results, scores and payouts
		challenges := v1.Group("/challenges")
		{
			challenges.GET("/:id", h.Results.GetChallenge)
			challenges.GET("/:id/results", h.Results.GetResults)
			challenges.GET("/:id/scores", h.Results.GetScores)
			challenges.GET("/:id/payouts", h.Results.GetPayouts)
			challenges.POST("/:id/recompute", h.Results.RecomputeChallenge)
			challenges.POST("/:id/rescore", h.Results.RescoreChallenge)
		}
	}
}

func healthCheck(db, redis Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now(),
			Version:   "1.0.0",
			Services: Services{
				Database: "ok",
				Redis:    "ok",
			},
		}

		// Check database health
		if err := db.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Database = "error"
			response.Status = "degraded"
		}

		// Check Redis health
		if err := redis.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Redis = "error"
			response.Status = "degraded"
		}

		statusCode := http.StatusOK
		if response.Status == "degraded" {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, response)
	}
}
