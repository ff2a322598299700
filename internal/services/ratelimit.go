package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/config"
	"github.com/showsync/recs/pkg/models"
)

// RateLimitService tracks per-user request counts in a sliding window backed
// by a hot-tier Redis sorted set. A Redis failure yields a permissive result.
type RateLimitService struct {
	config *config.Config
	logger *logrus.Logger
	hot    *redis.Client
}

func NewRateLimitService(cfg *config.Config, logger *logrus.Logger, hot *redis.Client) *RateLimitService {
	return &RateLimitService{
		config: cfg,
		logger: logger,
		hot:    hot,
	}
}

// CheckLimit records the current request and returns the caller's window
// state. The sorted-set score is the request timestamp; entries older than
// the window are pruned on every call.
func (s *RateLimitService) CheckLimit(userID string) (*models.RateLimitInfo, error) {
	limit := s.config.Auth.RateLimit.Default
	window := s.config.Auth.RateLimit.Window

	key := fmt.Sprintf("rate_limit:user:%s", userID)
	now := time.Now()
	windowStart := now.Add(-window)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := s.hot.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.Unix(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.Unix()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).Error("Rate limit pipeline failed")
		return &models.RateLimitInfo{
			Limit:     limit,
			Remaining: limit - 1,
			ResetTime: now.Add(window).Unix(),
		}, nil
	}

	remaining := limit - int(countCmd.Val())
	if remaining < 0 {
		remaining = 0
	}

	return &models.RateLimitInfo{
		Limit:     limit,
		Remaining: remaining,
		ResetTime: now.Add(window).Unix(),
	}, nil
}

func (s *RateLimitService) IsAllowed(userID string) (bool, *models.RateLimitInfo, error) {
	info, err := s.CheckLimit(userID)
	if err != nil {
		return false, nil, err
	}
	return info.Remaining > 0, info, nil
}
