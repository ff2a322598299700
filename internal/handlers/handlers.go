package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/services"
	"github.com/showsync/recs/internal/validation"
)

// Handlers bundles the HTTP surface, one handler group per concern.
type Handlers struct {
	Recommendation *RecommendationHandler
	Feedback       *FeedbackHandler
	Admin          *AdminHandler
	Health         *HealthHandler
}

func New(svc *services.Services, configValidator *validation.ConfigValidator, logger *logrus.Logger) *Handlers {
	return &Handlers{
		Recommendation: NewRecommendationHandler(svc, logger),
		Feedback:       NewFeedbackHandler(svc.Feedback, logger),
		Admin:          NewAdminHandler(svc, configValidator, logger),
		Health:         NewHealthHandler(svc.Health),
	}
}

// respondError maps service sentinels onto HTTP statuses with the standard
// envelope. Internal detail stays in the logs; the client gets a sanitized
// message plus the correlation id.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	correlationID := c.GetString("correlation_id")

	var status int
	var code, message string
	switch {
	case errors.Is(err, services.ErrNotFound):
		status, code, message = http.StatusNotFound, "NOT_FOUND", "Resource not found"
	case errors.Is(err, services.ErrForbidden):
		status, code, message = http.StatusForbidden, "FORBIDDEN", "Insufficient permissions"
	case errors.Is(err, services.ErrInvalidArgument):
		status, code, message = http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid request parameters"
	default:
		status, code, message = http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
		logger.WithError(err).WithField("correlation_id", correlationID).Error("Request failed")
	}

	c.JSON(status, gin.H{
		"error": gin.H{
			"code":           code,
			"message":        message,
			"correlation_id": correlationID,
		},
	})
}

// pageParams parses page/size with bounds; oversized pages are clamped,
// malformed or negative values rejected by returning ok=false.
func pageParams(c *gin.Context) (page, size int, ok bool) {
	page, size = 0, 20
	if v := c.Query("page"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return 0, 0, false
		}
		page = parsed
	}
	if v := c.Query("size"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return 0, 0, false
		}
		size = parsed
	}
	if size > 100 {
		size = 100
	}
	return page, size, true
}

func limitParam(c *gin.Context, def, max int) int {
	limit := def
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return def
		}
		limit = parsed
	}
	if limit > max {
		limit = max
	}
	return limit
}
