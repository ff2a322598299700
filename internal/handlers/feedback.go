package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/middleware"
	"github.com/showsync/recs/internal/services"
	"github.com/showsync/recs/pkg/models"
)

type FeedbackHandler struct {
	feedback  *services.FeedbackService
	validator *validator.Validate
	logger    *logrus.Logger
}

func NewFeedbackHandler(feedback *services.FeedbackService, logger *logrus.Logger) *FeedbackHandler {
	return &FeedbackHandler{
		feedback:  feedback,
		validator: validator.New(),
		logger:    logger,
	}
}

// View serves POST /recommendations/view/:kind/:id.
func (h *FeedbackHandler) View(c *gin.Context) {
	kind, recID, ok := h.kindAndID(c)
	if !ok {
		return
	}
	userID, _ := middleware.UserFromContext(c)

	if err := h.feedback.View(c.Request.Context(), kind, recID, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Dismiss serves POST /recommendations/dismiss/:kind/:id?reason=.
func (h *FeedbackHandler) Dismiss(c *gin.Context) {
	kind, recID, ok := h.kindAndID(c)
	if !ok {
		return
	}
	userID, _ := middleware.UserFromContext(c)

	if err := h.feedback.Dismiss(c.Request.Context(), kind, recID, userID, c.Query("reason")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Feedback serves POST /recommendations/feedback/:kind/:id. The payload is a
// JSON body; rating and comment may also arrive as query parameters from
// older clients.
func (h *FeedbackHandler) Feedback(c *gin.Context) {
	kind, recID, ok := h.kindAndID(c)
	if !ok {
		return
	}
	userID, _ := middleware.UserFromContext(c)

	var req models.FeedbackRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"code": "INVALID_REQUEST", "message": "Invalid request format"},
			})
			return
		}
	} else if !h.bindQueryFeedback(c, &req) {
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_RATING", "message": "rating must be an integer in [1,5]"},
		})
		return
	}

	if err := h.feedback.Submit(c.Request.Context(), kind, recID, userID, req.Score, req.Comment); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FeedbackHandler) bindQueryFeedback(c *gin.Context, req *models.FeedbackRequest) bool {
	if ratingStr := c.Query("rating"); ratingStr != "" {
		rating, err := strconv.Atoi(ratingStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"code": "INVALID_RATING", "message": "rating must be an integer in [1,5]"},
			})
			return false
		}
		req.Score = &rating
	}
	req.Comment = c.Query("comment")
	return true
}

func (h *FeedbackHandler) kindAndID(c *gin.Context) (models.RecommendationKind, uuid.UUID, bool) {
	kind, ok := models.ParseRecommendationKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_KIND", "message": "kind must be CONTENT or GROUP"},
		})
		return "", uuid.Nil, false
	}

	recID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_RECOMMENDATION_ID", "message": "Invalid recommendation ID format"},
		})
		return "", uuid.Nil, false
	}
	return kind, recID, true
}
