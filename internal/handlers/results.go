package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/prismcast/prismcast-go/internal/database"
	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/services"
	"github.com/prismcast/prismcast-go/internal/utils"
	"github.com/prismcast/prismcast-go/pkg/interfaces"
)

// ResultCache is the published-results read side. Launched results land
// here so board reads skip postgres; recomputes republish through the
// session service, so the handler only ever reads.
type ResultCache interface {
	Get(ctx context.Context, challengeID string, variable models.Variable) (*models.EnsembleResult, bool)
}

// ResultsHandler handles challenge result, score and payout reads plus the
// operator recompute/rescore triggers.
type ResultsHandler struct {
	store    interfaces.MarketStore
	sessions *services.SessionService
	payouts  *services.PayoutService
	cache    ResultCache
}

// NewResultsHandler creates a new results handler. cache may be nil, in
// which case every read goes to the store.
func NewResultsHandler(store interfaces.MarketStore, sessions *services.SessionService, payouts *services.PayoutService, cache ResultCache) *ResultsHandler {
	return &ResultsHandler{store: store, sessions: sessions, payouts: payouts, cache: cache}
}

// GetChallenge handles GET /api/v1/challenges/:id
func (h *ResultsHandler) GetChallenge(c *gin.Context) {
	challenge, err := h.store.GetChallenge(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Challenge not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch challenge", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, challenge)
}

// GetResults handles GET /api/v1/challenges/:id/results
func (h *ResultsHandler) GetResults(c *gin.Context) {
	challengeID := c.Param("id")

	if results, ok := h.cachedResults(c.Request.Context(), challengeID); ok {
		c.JSON(http.StatusOK, gin.H{"results": results, "cached": true})
		return
	}

	results, err := h.store.ListEnsembleResults(c.Request.Context(), challengeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch results", "details": err.Error()})
		return
	}
	if len(results) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Challenge has no results yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "cached": false})
}

// cachedResults serves a full challenge read from the published cache. A
// partial hit falls back to the store so a response never mixes sources.
func (h *ResultsHandler) cachedResults(ctx context.Context, challengeID string) ([]models.EnsembleResult, bool) {
	if h.cache == nil {
		return nil, false
	}
	var results []models.EnsembleResult
	for _, variable := range models.AllVariables() {
		result, ok := h.cache.Get(ctx, challengeID, variable)
		if !ok {
			return nil, false
		}
		results = append(results, *result)
	}
	return results, true
}

// GetScores handles GET /api/v1/challenges/:id/scores
func (h *ResultsHandler) GetScores(c *gin.Context) {
	challengeID := c.Param("id")

	batchID, err := h.store.LatestScoreBatch(c.Request.Context(), challengeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve score batch", "details": err.Error()})
		return
	}
	if batchID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Challenge has no scores yet"})
		return
	}

	scores, err := h.store.ListScores(c.Request.Context(), challengeID, batchID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch scores", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"batch_id": batchID,
		"scores":   scores,
		"count":    len(scores),
	})
}

// GetPayouts handles GET /api/v1/challenges/:id/payouts?pool=1000
func (h *ResultsHandler) GetPayouts(c *gin.Context) {
	pool, err := decimal.NewFromString(c.Query("pool"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pool amount", "details": err.Error()})
		return
	}

	payout, err := h.payouts.ComputeChallenge(c.Request.Context(), c.Param("id"), pool)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Challenge not found"})
		case utils.IsValidationError(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot allocate payout", "details": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute payout", "details": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, payout)
}

// RecomputeChallenge handles POST /api/v1/challenges/:id/recompute
func (h *ResultsHandler) RecomputeChallenge(c *gin.Context) {
	challengeID := c.Param("id")

	results, err := h.sessions.RecomputeChallenge(c.Request.Context(), challengeID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Challenge not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to recompute challenge", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// RescoreChallenge handles POST /api/v1/challenges/:id/rescore
func (h *ResultsHandler) RescoreChallenge(c *gin.Context) {
	scores, err := h.sessions.RescoreChallenge(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Challenge not found"})
		case errors.Is(err, utils.ErrGroundTruthUnavailable):
			c.JSON(http.StatusConflict, gin.H{"error": "Ground truth not yet available for the challenge period"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rescore challenge", "details": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"batch_id": scores.BatchID,
		"scores":   scores.Records,
		"count":    len(scores.Records),
	})
}
