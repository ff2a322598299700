package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/config"
	"github.com/showsync/recs/pkg/models"
)

// SimilarUser pairs a neighbor with the similarity of their rating behavior.
type SimilarUser struct {
	UserID     uuid.UUID `json:"user_id" db:"similar_user_id"`
	Similarity float64   `json:"similarity" db:"similarity"`
}

// CollaborativeService finds taste neighbors in the interaction graph and
// surfaces what they rated highly. Gated by the collaborative feature flag;
// when Neo4j is unavailable it degrades to the similar_users materialization
// in PostgreSQL.
type CollaborativeService struct {
	db     DatabaseQuerier
	neo4j  neo4j.DriverWithContext
	config *config.RecommendationConfig
	logger *logrus.Logger
}

func NewCollaborativeService(db DatabaseQuerier, driver neo4j.DriverWithContext, cfg *config.RecommendationConfig, logger *logrus.Logger) *CollaborativeService {
	return &CollaborativeService{db: db, neo4j: driver, config: cfg, logger: logger}
}

// SimilarUsers returns up to limit taste neighbors ordered by descending
// similarity. Pearson correlation over co-rated media, computed in the graph.
func (s *CollaborativeService) SimilarUsers(ctx context.Context, userID uuid.UUID, limit int) ([]SimilarUser, error) {
	if !s.config.Features.Collaborative {
		return nil, nil
	}

	if s.neo4j == nil {
		return s.similarUsersFromMaterialization(ctx, userID, limit)
	}

	session := s.neo4j.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (u:User {user_id: $userId})-[r1:RATED]->(m:Media)<-[r2:RATED]-(other:User)
		WHERE other.user_id <> $userId
		WITH other, collect(r1.rating) AS mine, collect(r2.rating) AS theirs
		WHERE size(mine) >= 3
		WITH other, gds.similarity.pearson(mine, theirs) AS similarity
		WHERE similarity > 0.1
		RETURN other.user_id AS user_id, similarity
		ORDER BY similarity DESC
		LIMIT $limit`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userId": userID.String(),
		"limit":  limit,
	})
	if err != nil {
		s.logger.WithError(err).Warn("Neo4j similar-users query failed, falling back to materialization")
		return s.similarUsersFromMaterialization(ctx, userID, limit)
	}

	var out []SimilarUser
	for result.Next(ctx) {
		record := result.Record()
		idStr, _ := record.Get("user_id")
		similarity, _ := record.Get("similarity")

		id, err := uuid.Parse(fmt.Sprintf("%v", idStr))
		if err != nil {
			continue
		}
		sim, ok := similarity.(float64)
		if !ok {
			continue
		}
		out = append(out, SimilarUser{UserID: id, Similarity: sim})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read similar users: %w", err)
	}
	return out, nil
}

// similarUsersFromMaterialization reads the periodically refreshed
// similar_users table.
func (s *CollaborativeService) similarUsersFromMaterialization(ctx context.Context, userID uuid.UUID, limit int) ([]SimilarUser, error) {
	rows, err := s.db.Query(ctx, `
		SELECT similar_user_id, similarity FROM similar_users
		WHERE user_id = $1
		ORDER BY similarity DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load similar users: %w", err)
	}
	defer rows.Close()

	var out []SimilarUser
	for rows.Next() {
		var su SimilarUser
		if err := rows.Scan(&su.UserID, &su.Similarity); err != nil {
			return nil, err
		}
		out = append(out, su)
	}
	return out, rows.Err()
}

// NeighborCandidates returns media the given neighbors rated >= 4 (on the
// 1-10 scale this is the spec's "liked" cut on a 5-point feedback scale,
// stored here as >= 8) that the target user has not interacted with. Each
// candidate's score is the similarity-weighted mean neighbor rating.
func (s *CollaborativeService) NeighborCandidates(ctx context.Context, userID uuid.UUID, neighbors []SimilarUser, limit int) ([]models.ScoredMedia, error) {
	if len(neighbors) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(neighbors))
	simByUser := make(map[uuid.UUID]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.UserID
		simByUser[n.UserID] = n.Similarity
	}

	rows, err := s.db.Query(ctx, `
		SELECT i.user_id, i.rating,
		       m.id, m.title, m.type, m.genres, m.platform, m.release_date,
		       m.runtime_minutes, m.average_rating, m.rating_count
		FROM user_interactions i
		JOIN media_items m ON m.id = i.media_id
		WHERE i.user_id = ANY($1)
		  AND i.rating >= 8
		  AND NOT EXISTS (
			SELECT 1 FROM user_interactions own
			WHERE own.user_id = $2 AND own.media_id = i.media_id
		  )`, ids, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load neighbor candidates: %w", err)
	}
	defer rows.Close()

	type agg struct {
		media       models.Media
		scoreSum    float64
		weightTotal float64
	}
	byMedia := make(map[uuid.UUID]*agg)
	for rows.Next() {
		var raterID uuid.UUID
		var rating float64
		var m models.Media
		err := rows.Scan(&raterID, &rating,
			&m.ID, &m.Title, &m.Type, &m.Genres, &m.Platform, &m.ReleaseDate,
			&m.RuntimeMinutes, &m.AverageRating, &m.RatingCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan neighbor candidate: %w", err)
		}

		sim := simByUser[raterID]
		a, ok := byMedia[m.ID]
		if !ok {
			a = &agg{media: m}
			byMedia[m.ID] = a
		}
		a.scoreSum += sim * (rating / 10.0)
		a.weightTotal += sim
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.ScoredMedia, 0, len(byMedia))
	for _, a := range byMedia {
		if a.weightTotal == 0 {
			continue
		}
		out = append(out, models.ScoredMedia{Media: a.media, Score: a.scoreSum / a.weightTotal})
	}
	sortScoredMedia(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RefreshMaterialization recomputes the similar_users table from co-rating
// overlap in PostgreSQL. Run from the daily job so the fallback path stays
// warm even when the graph store is down.
func (s *CollaborativeService) RefreshMaterialization(ctx context.Context) error {
	query := `
		INSERT INTO similar_users (user_id, similar_user_id, similarity, computed_at)
		SELECT a.user_id, b.user_id,
		       corr(a.rating, b.rating) AS similarity,
		       NOW()
		FROM user_interactions a
		JOIN user_interactions b
		  ON a.media_id = b.media_id AND a.user_id <> b.user_id
		WHERE a.rating IS NOT NULL AND b.rating IS NOT NULL
		GROUP BY a.user_id, b.user_id
		HAVING COUNT(*) >= 3 AND corr(a.rating, b.rating) > 0.1
		ON CONFLICT (user_id, similar_user_id) DO UPDATE SET
			similarity = EXCLUDED.similarity,
			computed_at = EXCLUDED.computed_at`

	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to refresh similar-user materialization: %w", err)
	}
	s.logger.Debug("Similar-user materialization refreshed")
	return nil
}
