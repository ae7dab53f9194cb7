package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prismcast/prismcast-go/internal/database"
	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/services"
	"github.com/prismcast/prismcast-go/pkg/interfaces"
)

// sessionDateLayout is the wire form of a market day.
const sessionDateLayout = "2006-01-02"

// SessionHandler handles market session reads and lifecycle triggers. The
// triggers mirror what the scheduler fires on its own clocks; operators use
// them to re-run a transition or drive a test environment by hand.
type SessionHandler struct {
	store    interfaces.MarketStore
	sessions *services.SessionService
	loc      *time.Location
}

// NewSessionHandler creates a new session handler. loc is the market
// timezone; date parameters name calendar days in it.
func NewSessionHandler(store interfaces.MarketStore, sessions *services.SessionService, loc *time.Location) *SessionHandler {
	return &SessionHandler{store: store, sessions: sessions, loc: loc}
}

// parseSessionDate reads the :date path parameter as a market-local day.
// Handing the triggers a market-local instant keeps the day stable across
// timezones on either side of UTC.
func (h *SessionHandler) parseSessionDate(c *gin.Context) (time.Time, bool) {
	date, err := time.ParseInLocation(sessionDateLayout, c.Param("date"), h.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session date, want YYYY-MM-DD", "details": err.Error()})
		return time.Time{}, false
	}
	return date, true
}

// storeDate encodes a market day the way sessions persist it.
func storeDate(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// GetSession handles GET /api/v1/sessions/:date
func (h *SessionHandler) GetSession(c *gin.Context) {
	date, ok := h.parseSessionDate(c)
	if !ok {
		return
	}

	session, err := h.store.GetSessionByDate(c.Request.Context(), storeDate(date))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch session", "details": err.Error()})
		return
	}

	challenges, err := h.store.ListChallengesBySession(c.Request.Context(), session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch session challenges", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":    session,
		"challenges": challenges,
	})
}

// ListSessions handles GET /api/v1/sessions?status=open
func (h *SessionHandler) ListSessions(c *gin.Context) {
	status := models.SessionStatus(c.DefaultQuery("status", string(models.SessionOpen)))
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown session status", "details": string(status)})
		return
	}

	sessions, err := h.store.ListSessionsByStatus(c.Request.Context(), status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// OpenSession handles POST /api/v1/sessions/:date/open
func (h *SessionHandler) OpenSession(c *gin.Context) {
	date, ok := h.parseSessionDate(c)
	if !ok {
		return
	}

	session, err := h.sessions.OpenSession(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open session", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// CloseSession handles POST /api/v1/sessions/:date/close
func (h *SessionHandler) CloseSession(c *gin.Context) {
	date, ok := h.parseSessionDate(c)
	if !ok {
		return
	}

	if err := h.sessions.CloseSession(c.Request.Context(), date); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to close session", "details": err.Error()})
		return
	}
	h.respondWithSession(c, date)
}

// LaunchSession handles POST /api/v1/sessions/:date/launch
func (h *SessionHandler) LaunchSession(c *gin.Context) {
	date, ok := h.parseSessionDate(c)
	if !ok {
		return
	}

	if err := h.sessions.LaunchSession(c.Request.Context(), date); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to launch session", "details": err.Error()})
		return
	}
	h.respondWithSession(c, date)
}

// FinishSessions handles POST /api/v1/sessions/finish
func (h *SessionHandler) FinishSessions(c *gin.Context) {
	if err := h.sessions.FinishSessions(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Finish poll failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Finish poll completed"})
}

func (h *SessionHandler) respondWithSession(c *gin.Context, date time.Time) {
	session, err := h.store.GetSessionByDate(c.Request.Context(), storeDate(date))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reload session", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}
