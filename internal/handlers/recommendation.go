package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/middleware"
	"github.com/showsync/recs/internal/services"
	"github.com/showsync/recs/pkg/models"
)

type RecommendationHandler struct {
	store     *services.StoreService
	generator *services.GeneratorService
	trending  *services.TrendingService
	insights  *services.InsightsService
	catalog   services.CatalogReader
	logger    *logrus.Logger
}

func NewRecommendationHandler(svc *services.Services, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		store:     svc.Store,
		generator: svc.Generator,
		trending:  svc.Trending,
		insights:  svc.Insights,
		catalog:   svc.Catalog,
		logger:    logger,
	}
}

// Personal serves GET /recommendations/personal?page=&size=.
func (h *RecommendationHandler) Personal(c *gin.Context) {
	userID, _ := middleware.UserFromContext(c)

	page, size, ok := pageParams(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_PAGING", "message": "page must be >= 0 and size >= 1"},
		})
		return
	}

	result, err := h.store.ListContent(c.Request.Context(), userID, page, size)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.attachMedia(c, result.Content)
	c.JSON(http.StatusOK, result)
}

// Realtime serves GET /recommendations/realtime?mediaId=&limit=. With a
// mediaId it is content-based around that anchor, otherwise a
// collaborative-plus-trending blend.
func (h *RecommendationHandler) Realtime(c *gin.Context) {
	userID, _ := middleware.UserFromContext(c)
	limit := limitParam(c, 10, 50)

	if mediaIDStr := c.Query("mediaId"); mediaIDStr != "" {
		mediaID, err := uuid.Parse(mediaIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"code": "INVALID_MEDIA_ID", "message": "Invalid media ID format"},
			})
			return
		}
		result, err := h.generator.GenerateContentBased(c.Request.Context(), userID, mediaID, limit)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	result, err := h.generator.GenerateRealtime(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Trending serves GET /recommendations/trending?limit=.
func (h *RecommendationHandler) Trending(c *gin.Context) {
	limit := limitParam(c, 20, 100)

	result, err := h.trending.TrendingMedia(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GroupSuggestions serves GET /recommendations/groups?page=&size=.
func (h *RecommendationHandler) GroupSuggestions(c *gin.Context) {
	userID, _ := middleware.UserFromContext(c)

	page, size, ok := pageParams(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_PAGING", "message": "page must be >= 0 and size >= 1"},
		})
		return
	}

	result, err := h.store.ListGroups(c.Request.Context(), userID, page, size)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GroupContent serves GET /recommendations/groups/:groupId/content. Only
// members see a group's internal recommendations; the 403 does not say
// whether the group exists.
func (h *RecommendationHandler) GroupContent(c *gin.Context) {
	userID, _ := middleware.UserFromContext(c)

	groupID, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_GROUP_ID", "message": "Invalid group ID format"},
		})
		return
	}

	member, err := h.isMember(c, userID, groupID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{
			"error": gin.H{"code": "FORBIDDEN", "message": "Insufficient permissions"},
		})
		return
	}

	page, size, ok := pageParams(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_PAGING", "message": "page must be >= 0 and size >= 1"},
		})
		return
	}

	result, err := h.generator.GenerateGroupContent(c.Request.Context(), groupID, (page+1)*size)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	start := page * size
	if start > len(result) {
		start = len(result)
	}
	end := start + size
	if end > len(result) {
		end = len(result)
	}
	c.JSON(http.StatusOK, gin.H{
		"content":       result[start:end],
		"page":          page,
		"size":          size,
		"totalElements": len(result),
	})
}

// Similar serves GET /recommendations/similar/:mediaId?limit=.
func (h *RecommendationHandler) Similar(c *gin.Context) {
	userID, _ := middleware.UserFromContext(c)

	mediaID, err := uuid.Parse(c.Param("mediaId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_MEDIA_ID", "message": "Invalid media ID format"},
		})
		return
	}

	limit := limitParam(c, 10, 50)
	result, err := h.generator.GenerateContentBased(c.Request.Context(), userID, mediaID, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ByType serves GET /recommendations/by-type?type=&limit= filtering the
// active set by recommendation reason.
func (h *RecommendationHandler) ByType(c *gin.Context) {
	userID, _ := middleware.UserFromContext(c)

	reasonStr := c.Query("type")
	if !models.ValidReason(reasonStr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "INVALID_TYPE", "message": "Unknown recommendation type"},
		})
		return
	}

	limit := limitParam(c, 20, 100)
	result, err := h.store.ListContentByReason(c.Request.Context(), userID, models.RecommendationReason(reasonStr), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.attachMedia(c, result)
	c.JSON(http.StatusOK, result)
}

// Insights serves GET /recommendations/insights/me.
func (h *RecommendationHandler) Insights(c *gin.Context) {
	userID, _ := middleware.UserFromContext(c)

	result, err := h.insights.ProfileInsights(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Summary serves GET /recommendations/summary/me.
func (h *RecommendationHandler) Summary(c *gin.Context) {
	userID, _ := middleware.UserFromContext(c)

	result, err := h.insights.Summary(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// attachMedia hydrates recommendation rows with catalog metadata, best
// effort: missing metadata never fails the read.
func (h *RecommendationHandler) attachMedia(c *gin.Context, recs []models.ContentRecommendation) {
	if len(recs) == 0 {
		return
	}
	ids := make([]uuid.UUID, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.MediaID)
	}
	media, err := h.catalog.MediaByIDs(c.Request.Context(), ids)
	if err != nil {
		h.logger.WithError(err).Debug("Failed to hydrate media metadata")
		return
	}
	for i := range recs {
		if m, ok := media[recs[i].MediaID]; ok {
			recs[i].Media = m
		}
	}
}

func (h *RecommendationHandler) isMember(c *gin.Context, userID, groupID uuid.UUID) (bool, error) {
	groups, err := h.catalog.UserGroups(c.Request.Context(), userID)
	if err != nil {
		return false, err
	}
	for _, g := range groups {
		if g.ID == groupID {
			return true, nil
		}
	}
	return false, nil
}
