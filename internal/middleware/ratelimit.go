package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/services"
)

// RateLimit enforces the per-user request budget. Runs after Auth, so the
// principal is always on the context; a Redis outage fails open.
func RateLimit(limiter *services.RateLimitService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserFromContext(c)
		if !ok {
			logger.Error("Rate limit middleware reached without a principal")
			c.Next()
			return
		}

		allowed, info, err := limiter.IsAllowed(userID.String())
		if err != nil {
			logger.WithError(err).Error("Rate limit check failed")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime, 10))

		if !allowed {
			logger.WithFields(logrus.Fields{
				"user_id": userID,
				"limit":   info.Limit,
			}).Warn("Rate limit exceeded")

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":           "RATE_LIMIT_EXCEEDED",
					"message":        "Rate limit exceeded. Please try again later.",
					"correlation_id": c.GetString("correlation_id"),
				},
				"rate_limit": info,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
