package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/config"
	"github.com/showsync/recs/pkg/models"
)

// InsightsService serves the dashboard surfaces: per-user profile insights,
// the summary card, and the system-level analytics report.
type InsightsService struct {
	db       DatabaseQuerier
	store    *StoreService
	profiles *ProfileBuilderService
	warm     *redis.Client
	cold     *redis.Client
	config   *config.RecommendationConfig
	logger   *logrus.Logger
}

func NewInsightsService(
	db DatabaseQuerier,
	store *StoreService,
	profiles *ProfileBuilderService,
	warm, cold *redis.Client,
	cfg *config.RecommendationConfig,
	logger *logrus.Logger,
) *InsightsService {
	return &InsightsService{
		db:       db,
		store:    store,
		profiles: profiles,
		warm:     warm,
		cold:     cold,
		config:   cfg,
		logger:   logger,
	}
}

// ProfileInsights summarizes the caller's profile. Cached in the warm tier;
// the cache is invalidated whenever the profile is rebuilt.
func (s *InsightsService) ProfileInsights(ctx context.Context, userID uuid.UUID) (*models.ProfileInsights, error) {
	cacheKey := fmt.Sprintf("insights:%s", userID)
	if s.warm != nil {
		if data, err := s.warm.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached models.ProfileInsights
			if json.Unmarshal(data, &cached) == nil {
				return &cached, nil
			}
		}
	}

	profile, err := s.profiles.GetOrBuildProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	insights := &models.ProfileInsights{
		UserID:            profile.UserID,
		Confidence:        profile.Confidence,
		Personality:       profile.Personality,
		TopGenres:         profile.TopGenres(5),
		PreferredLength:   profile.PreferredLength,
		TotalInteractions: profile.TotalInteractions,
		CompletionRate:    profile.CompletionRate,
		HasSufficientData: profile.HasSufficientData(
			s.config.Thresholds.MinInteractionsForConfidence,
			s.config.Thresholds.MinConfidenceToPersonalize,
		),
		LastCalculatedAt: profile.LastCalculatedAt,
	}

	if s.warm != nil {
		if data, err := json.Marshal(insights); err == nil {
			if err := s.warm.Set(ctx, cacheKey, data, s.config.CacheTTL.Insights).Err(); err != nil {
				s.logger.WithError(err).Debug("Failed to cache insights")
			}
		}
	}
	return insights, nil
}

// Summary is the dashboard card: active counters, top picks, and insights.
func (s *InsightsService) Summary(ctx context.Context, userID uuid.UUID) (*models.RecommendationSummary, error) {
	summary, err := s.store.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}

	insights, err := s.ProfileInsights(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Debug("Summary served without insights")
	} else {
		summary.Insights = insights
	}
	return summary, nil
}

// Analytics aggregates system-level counters over a trailing window. The
// report is expensive; it lives in the cold tier for CacheTTL.Analytics.
func (s *InsightsService) Analytics(ctx context.Context, days int) (*models.AnalyticsReport, error) {
	if days <= 0 || days > 365 {
		return nil, fmt.Errorf("analytics window %d days: %w", days, ErrInvalidArgument)
	}

	cacheKey := fmt.Sprintf("analytics:%d", days)
	if s.cold != nil {
		if data, err := s.cold.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached models.AnalyticsReport
			if json.Unmarshal(data, &cached) == nil {
				return &cached, nil
			}
		}
	}

	since := time.Now().AddDate(0, 0, -days)
	report := &models.AnalyticsReport{
		WindowDays:     days,
		FeedbackByType: make(map[string]int64),
		GeneratedAt:    time.Now(),
	}

	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE viewed_at IS NOT NULL),
		       COUNT(*) FILTER (WHERE dismissed_at IS NOT NULL),
		       COUNT(DISTINCT user_id) FILTER (WHERE dismissed_at IS NULL AND expires_at > NOW())
		FROM content_recommendations
		WHERE created_at >= $1`, since).
		Scan(&report.GeneratedContent, &report.Viewed, &report.Dismissed, &report.UsersWithActive)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate content analytics: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM group_recommendations WHERE created_at >= $1`, since).
		Scan(&report.GeneratedGroups)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate group analytics: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT feedback_type, COUNT(*) FROM recommendation_feedback
		WHERE created_at >= $1
		GROUP BY feedback_type`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate feedback analytics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var feedbackType string
		var count int64
		if err := rows.Scan(&feedbackType, &count); err != nil {
			return nil, err
		}
		report.FeedbackByType[feedbackType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.cold != nil {
		if data, err := json.Marshal(report); err == nil {
			if err := s.cold.Set(ctx, cacheKey, data, s.config.CacheTTL.Analytics).Err(); err != nil {
				s.logger.WithError(err).Debug("Failed to cache analytics report")
			}
		}
	}
	return report, nil
}
