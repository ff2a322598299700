package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/showsync/recs/internal/services"
)

type HealthHandler struct {
	health *services.HealthService
}

func NewHealthHandler(health *services.HealthService) *HealthHandler {
	return &HealthHandler{health: health}
}

// Health serves GET /health. Degraded still returns 200 so load balancers
// keep routing; only critical-store failures flip the status code.
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.health.CheckHealth()

	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// Ready serves GET /ready for orchestrator readiness probes. Anything short
// of fully healthy keeps the instance out of rotation.
func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.health.CheckHealth()

	if status.Status == "unhealthy" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "status": status.Status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "status": status.Status})
}
