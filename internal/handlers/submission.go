package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/services"
	"github.com/prismcast/prismcast-go/internal/utils"
)

// SubmissionHandler handles forecast and measurement ingestion endpoints.
type SubmissionHandler struct {
	submissions *services.SubmissionService
}

// NewSubmissionHandler creates a new submission handler.
func NewSubmissionHandler(submissions *services.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions}
}

// challengeSubmissionBody is the wire form of a challenge submission. The
// registration timestamp is always stamped server-side.
type challengeSubmissionBody struct {
	ForecasterID string          `json:"forecaster_id"`
	ChallengeID  string          `json:"challenge_id"`
	Variable     models.Variable `json:"variable"`
	Series       models.Series   `json:"series"`
}

// SubmitChallenge handles POST /api/v1/submissions/challenge
func (h *SubmissionHandler) SubmitChallenge(c *gin.Context) {
	var body challengeSubmissionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	submission, err := h.submissions.SubmitChallenge(c.Request.Context(), services.ChallengeSubmissionRequest{
		ForecasterID: body.ForecasterID,
		ChallengeID:  body.ChallengeID,
		Variable:     body.Variable,
		Series:       body.Series,
	})
	if err != nil {
		if utils.IsValidationError(err) {
			// A late submission was still stored for the audit trail.
			if submission != nil {
				c.JSON(http.StatusOK, gin.H{
					"submission_id": submission.ID,
					"effective":     false,
					"reason":        err.Error(),
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid submission", "details": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store submission", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"submission_id": submission.ID,
		"effective":     true,
		"registered_at": submission.RegisteredAt,
	})
}

// SubmitHistorical handles POST /api/v1/submissions/historical
func (h *SubmissionHandler) SubmitHistorical(c *gin.Context) {
	var req services.HistoricalSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	submission, err := h.submissions.SubmitHistorical(c.Request.Context(), req)
	if err != nil {
		if utils.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid historical submission", "details": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store historical submission", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"submission_id": submission.ID})
}

// SubmitMeasurements handles POST /api/v1/resources/:id/measurements
func (h *SubmissionHandler) SubmitMeasurements(c *gin.Context) {
	resourceID := c.Param("id")

	var series models.Series
	if err := c.ShouldBindJSON(&series); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.submissions.SubmitMeasurements(c.Request.Context(), resourceID, series); err != nil {
		if utils.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid measurement series", "details": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store measurements", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"resource_id": resourceID,
		"points":      series.Len(),
	})
}
