package handlers

import (
	"net/http"

	"auth-service/internal/audit"
	"auth-service/internal/kong"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes cache and breaker administration.
type AdminHandler struct {
	service kong.Service
}

func NewAdminHandler(service kong.Service) *AdminHandler {
	return &AdminHandler{service: service}
}

// CacheStats handles GET /api/v1/admin/cache/stats
func (h *AdminHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.GetStats(c.Request.Context()))
}

// ClearCache handles DELETE /api/v1/admin/cache?consumerId=...
func (h *AdminHandler) ClearCache(c *gin.Context) {
	ctx := c.Request.Context()
	consumerID := c.Query("consumerId")
	h.service.ClearCache(ctx, consumerID)

	audit.LogEvent(ctx, &audit.Event{
		Action:   audit.ActionCacheCleared,
		Resource: consumerID,
		Outcome:  audit.OutcomeSuccess,
	})
	c.JSON(http.StatusOK, gin.H{"cleared": true, "consumer_id": consumerID})
}

// BreakerStats handles GET /api/v1/admin/circuit-breaker
func (h *AdminHandler) BreakerStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.GetCircuitBreakerStats())
}
