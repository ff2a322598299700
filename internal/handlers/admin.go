package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/config"
	"github.com/showsync/recs/internal/middleware"
	"github.com/showsync/recs/internal/services"
	"github.com/showsync/recs/internal/validation"
)

type AdminHandler struct {
	scheduler       *services.SchedulerService
	insights        *services.InsightsService
	config          *config.RecommendationConfig
	configValidator *validation.ConfigValidator
	logger          *logrus.Logger
}

func NewAdminHandler(svc *services.Services, configValidator *validation.ConfigValidator, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		scheduler:       svc.Scheduler,
		insights:        svc.Insights,
		configValidator: configValidator,
		logger:          logger,
	}
}

// SetConfig injects the live knob bundle for the config endpoints.
func (h *AdminHandler) SetConfig(cfg *config.RecommendationConfig) {
	h.config = cfg
}

// GenerateAll serves POST /recommendations/generate: kicks off a background
// regeneration over all eligible users and returns immediately.
func (h *AdminHandler) GenerateAll(c *gin.Context) {
	h.scheduler.TriggerAllUsers()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// GenerateMe serves POST /recommendations/generate/me: runs the pipeline for
// the caller. Concurrent triggers share one run.
func (h *AdminHandler) GenerateMe(c *gin.Context) {
	userID, _ := middleware.UserFromContext(c)

	result, err := h.scheduler.GenerateForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// TriggerJob serves POST /recommendations/jobs/:name for manually running a
// scheduled job.
func (h *AdminHandler) TriggerJob(c *gin.Context) {
	if err := h.scheduler.TriggerJob(c.Param("name")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Analytics serves GET /recommendations/analytics?days=.
func (h *AdminHandler) Analytics(c *gin.Context) {
	days := 7
	if v := c.Query("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"code": "INVALID_WINDOW", "message": "days must be an integer"},
			})
			return
		}
		days = parsed
	}

	report, err := h.insights.Analytics(c.Request.Context(), days)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetConfig serves GET /recommendations/config.
func (h *AdminHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.config)
}

// PutConfig serves PUT /recommendations/config: schema validation first,
// then the typed sum-to-one validator, then swap. Invalid bundles never
// replace the running one.
func (h *AdminHandler) PutConfig(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_BODY", "message": "Failed to read request body"},
		})
		return
	}

	if err := h.configValidator.ValidateConfigPatch(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_CONFIG", "message": err.Error()},
		})
		return
	}

	updated := *h.config
	if err := json.Unmarshal(body, &updated); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_CONFIG", "message": "Failed to decode config payload"},
		})
		return
	}

	if err := updated.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_CONFIG", "message": err.Error()},
		})
		return
	}

	*h.config = updated
	h.logger.Info("Recommendation config reloaded")
	c.JSON(http.StatusOK, h.config)
}
