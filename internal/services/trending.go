package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/config"
	"github.com/showsync/recs/pkg/models"
)

const trendingSnapshotKey = "trending:snapshot"

// trendingWindowDays bounds how far back interaction momentum counts.
const trendingWindowDays = 7

// TrendingService maintains the platform-wide trending snapshot: recent,
// high-rated media ranked by interaction momentum. The snapshot lives in the
// cold Redis tier and refreshes every CacheTTL.Trending.
type TrendingService struct {
	db     DatabaseQuerier
	cold   *redis.Client
	config *config.RecommendationConfig
	logger *logrus.Logger
}

func NewTrendingService(db DatabaseQuerier, cold *redis.Client, cfg *config.RecommendationConfig, logger *logrus.Logger) *TrendingService {
	return &TrendingService{db: db, cold: cold, config: cfg, logger: logger}
}

// TrendingMedia returns up to limit trending items, best first. Serves from
// the snapshot when present, otherwise computes and repopulates it.
func (s *TrendingService) TrendingMedia(ctx context.Context, limit int) ([]models.ScoredMedia, error) {
	snapshot, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(snapshot) > limit {
		snapshot = snapshot[:limit]
	}
	return snapshot, nil
}

// TrendingMediaIDs exposes the snapshot as a membership set for the
// personality classifier's overlap signal.
func (s *TrendingService) TrendingMediaIDs(ctx context.Context) (map[uuid.UUID]struct{}, error) {
	snapshot, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[uuid.UUID]struct{}, len(snapshot))
	for _, sm := range snapshot {
		ids[sm.Media.ID] = struct{}{}
	}
	return ids, nil
}

func (s *TrendingService) snapshot(ctx context.Context) ([]models.ScoredMedia, error) {
	if s.cold != nil {
		if data, err := s.cold.Get(ctx, trendingSnapshotKey).Bytes(); err == nil {
			var cached []models.ScoredMedia
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
			s.logger.Warn("Corrupt trending snapshot, recomputing")
		}
	}
	return s.Refresh(ctx)
}

// Refresh recomputes the snapshot from the interaction stream and stores it.
// Momentum is the count of recent interactions blended with the catalog
// average rating so sparse but excellent items still surface.
func (s *TrendingService) Refresh(ctx context.Context) ([]models.ScoredMedia, error) {
	since := time.Now().AddDate(0, 0, -trendingWindowDays)

	query := `
		SELECT m.id, m.title, m.type, m.genres, m.platform, m.release_date,
		       m.runtime_minutes, m.average_rating, m.rating_count,
		       COUNT(i.media_id) AS recent_interactions
		FROM media_items m
		JOIN user_interactions i ON i.media_id = m.id AND i.updated_at >= $1
		WHERE m.average_rating IS NULL OR m.average_rating >= 6.0
		GROUP BY m.id, m.title, m.type, m.genres, m.platform, m.release_date,
		         m.runtime_minutes, m.average_rating, m.rating_count
		ORDER BY recent_interactions DESC, m.average_rating DESC NULLS LAST
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, since, s.config.Caps.CandidatePool)
	if err != nil {
		return nil, fmt.Errorf("failed to compute trending snapshot: %w", err)
	}
	defer rows.Close()

	var snapshot []models.ScoredMedia
	var maxMomentum float64
	type entry struct {
		media    models.Media
		momentum float64
	}
	var entries []entry
	for rows.Next() {
		var e entry
		err := rows.Scan(&e.media.ID, &e.media.Title, &e.media.Type, &e.media.Genres,
			&e.media.Platform, &e.media.ReleaseDate, &e.media.RuntimeMinutes,
			&e.media.AverageRating, &e.media.RatingCount, &e.momentum)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trending row: %w", err)
		}
		if e.momentum > maxMomentum {
			maxMomentum = e.momentum
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range entries {
		momentum := 0.0
		if maxMomentum > 0 {
			momentum = e.momentum / maxMomentum
		}
		ratingTerm := 0.5
		if e.media.AverageRating != nil {
			ratingTerm = *e.media.AverageRating / 10.0
		}
		snapshot = append(snapshot, models.ScoredMedia{
			Media: e.media,
			Score: 0.7*momentum + 0.3*ratingTerm,
		})
	}

	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].Score != snapshot[j].Score {
			return snapshot[i].Score > snapshot[j].Score
		}
		return snapshot[i].Media.ID.String() < snapshot[j].Media.ID.String()
	})

	if s.cold != nil && len(snapshot) > 0 {
		if data, err := json.Marshal(snapshot); err == nil {
			if err := s.cold.Set(ctx, trendingSnapshotKey, data, s.config.CacheTTL.Trending).Err(); err != nil {
				s.logger.WithError(err).Warn("Failed to store trending snapshot")
			}
		}
	}

	s.logger.WithField("items", len(snapshot)).Debug("Trending snapshot refreshed")
	return snapshot, nil
}
