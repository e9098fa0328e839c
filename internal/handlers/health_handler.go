package handlers

import (
	"net/http"

	"auth-service/internal/kong"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports service and upstream health.
type HealthHandler struct {
	service kong.Service
}

func NewHealthHandler(service kong.Service) *HealthHandler {
	return &HealthHandler{service: service}
}

// Health handles GET /health. An open breaker degrades the response
// instead of failing it: the service itself is still up.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	upstream := h.service.HealthCheck(ctx)
	cacheStats := h.service.GetStats(ctx)

	status := "ok"
	httpStatus := http.StatusOK
	if !upstream.Healthy {
		status = "degraded"
	}

	c.JSON(httpStatus, gin.H{
		"status": status,
		"kong":   upstream,
		"cache": gin.H{
			"strategy": cacheStats.Strategy,
			"hit_rate": cacheStats.HitRate,
		},
	})
}
