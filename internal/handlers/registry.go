package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prismcast/prismcast-go/internal/database"
	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/pkg/interfaces"
)

// RegistryHandler handles resource and forecaster registration and reads.
type RegistryHandler struct {
	store interfaces.MarketStore
	now   func() time.Time
}

// NewRegistryHandler creates a new registry handler.
func NewRegistryHandler(store interfaces.MarketStore) *RegistryHandler {
	return &RegistryHandler{store: store, now: time.Now}
}

// CreateResource handles POST /api/v1/resources
func (h *RegistryHandler) CreateResource(c *gin.Context) {
	var resource models.Resource
	if err := c.ShouldBindJSON(&resource); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if resource.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Resource name is required"})
		return
	}
	if !resource.UseCase.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown use case", "details": string(resource.UseCase)})
		return
	}
	if _, err := time.LoadLocation(resource.Timezone); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid timezone", "details": err.Error()})
		return
	}

	// Upstream feeds bring their own resource ids; ad-hoc registrations
	// get a generated one.
	if resource.ID == "" {
		resource.ID = uuid.New().String()
	}
	resource.CreatedAt = h.now().UTC()

	if err := h.store.CreateResource(c.Request.Context(), &resource); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create resource", "details": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, resource)
}

// GetResource handles GET /api/v1/resources/:id
func (h *RegistryHandler) GetResource(c *gin.Context) {
	resource, err := h.store.GetResource(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch resource", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resource)
}

// ListResources handles GET /api/v1/resources
func (h *RegistryHandler) ListResources(c *gin.Context) {
	resources, err := h.store.ListResources(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list resources", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": resources, "count": len(resources)})
}

// CreateForecaster handles POST /api/v1/forecasters
func (h *RegistryHandler) CreateForecaster(c *gin.Context) {
	var forecaster models.Forecaster
	if err := c.ShouldBindJSON(&forecaster); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if forecaster.DisplayName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Forecaster display name is required"})
		return
	}
	if forecaster.ID == "" {
		forecaster.ID = uuid.New().String()
	}
	forecaster.CreatedAt = h.now().UTC()

	if err := h.store.CreateForecaster(c.Request.Context(), &forecaster); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create forecaster", "details": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, forecaster)
}

// GetForecaster handles GET /api/v1/forecasters/:id
func (h *RegistryHandler) GetForecaster(c *gin.Context) {
	forecaster, err := h.store.GetForecaster(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Forecaster not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch forecaster", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, forecaster)
}

// ListForecasters handles GET /api/v1/forecasters
func (h *RegistryHandler) ListForecasters(c *gin.Context) {
	forecasters, err := h.store.ListForecasters(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list forecasters", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"forecasters": forecasters, "count": len(forecasters)})
}
