package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/config"
	"github.com/showsync/recs/pkg/models"
)

// evictionGraceWindow keeps dismissed and expired rows around for analytics
// before the sweep deletes them.
const evictionGraceWindow = 7 * 24 * time.Hour

// StoreService owns the recommendation tables: it is the only writer, it
// enforces the per-user active cap, and it serves paged reads through a
// short-lived warm-tier cache.
type StoreService struct {
	db      DatabaseQuerier
	warm    *redis.Client
	metrics *MetricsCollector
	config  *config.RecommendationConfig
	logger  *logrus.Logger
}

func NewStoreService(db DatabaseQuerier, warm *redis.Client, metrics *MetricsCollector, cfg *config.RecommendationConfig, logger *logrus.Logger) *StoreService {
	return &StoreService{db: db, warm: warm, metrics: metrics, config: cfg, logger: logger}
}

const contentRecColumns = `id, user_id, media_id, score, reason, explanation, type,
	created_at, expires_at, viewed_at, dismissed_at, dismiss_reason`

// InsertContentBatch persists a generated batch. Candidates whose
// (user_id, media_id) already has an active row are skipped, then the active
// set is trimmed back to the cap. Returns the number of rows actually
// inserted. Callers hold the user's write lock.
func (s *StoreService) InsertContentBatch(ctx context.Context, userID uuid.UUID, recs []models.ContentRecommendation) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	inserted := 0
	for _, rec := range recs {
		query := `
			INSERT INTO content_recommendations (
				id, user_id, media_id, score, reason, explanation, type, created_at, expires_at
			)
			SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
			WHERE NOT EXISTS (
				SELECT 1 FROM content_recommendations
				WHERE user_id = $2 AND media_id = $3
				  AND dismissed_at IS NULL AND expires_at > NOW()
			)`
		tag, err := s.db.Exec(ctx, query,
			rec.ID, rec.UserID, rec.MediaID, rec.Score, rec.Reason, rec.Explanation,
			rec.Type, rec.CreatedAt, rec.ExpiresAt)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert recommendation for media %s: %w", rec.MediaID, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := s.enforceContentCap(ctx, userID); err != nil {
		return inserted, err
	}

	s.invalidateReadCache(ctx, userID)
	return inserted, nil
}

// InsertGroupBatch mirrors InsertContentBatch for group suggestions.
func (s *StoreService) InsertGroupBatch(ctx context.Context, userID uuid.UUID, recs []models.GroupRecommendation) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	inserted := 0
	for _, rec := range recs {
		query := `
			INSERT INTO group_recommendations (
				id, user_id, group_id, score, reason, explanation, created_at, expires_at
			)
			SELECT $1, $2, $3, $4, $5, $6, $7, $8
			WHERE NOT EXISTS (
				SELECT 1 FROM group_recommendations
				WHERE user_id = $2 AND group_id = $3
				  AND dismissed_at IS NULL AND expires_at > NOW()
			)`
		tag, err := s.db.Exec(ctx, query,
			rec.ID, rec.UserID, rec.GroupID, rec.Score, rec.Reason, rec.Explanation,
			rec.CreatedAt, rec.ExpiresAt)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert group recommendation for group %s: %w", rec.GroupID, err)
		}
		inserted += int(tag.RowsAffected())
	}

	s.invalidateReadCache(ctx, userID)
	return inserted, nil
}

// enforceContentCap trims the user's active set to MaxActivePerUser. The
// eviction order is fixed: dismissed first, then expired, then viewed oldest
// first, then oldest. Dismissed and expired rows do not count toward the cap,
// so they are reclaimed wholesale and the LIMIT applies to active rows only;
// the trim then always brings the active count down to the cap.
func (s *StoreService) enforceContentCap(ctx context.Context, userID uuid.UUID) error {
	var active int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM content_recommendations
		WHERE user_id = $1 AND dismissed_at IS NULL AND expires_at > NOW()`, userID).Scan(&active)
	if err != nil {
		return fmt.Errorf("failed to count active recommendations: %w", err)
	}

	excess := active - int64(s.config.Caps.MaxActivePerUser)
	if excess <= 0 {
		// Under the cap, inactive rows keep their grace window and are
		// reclaimed lazily by the sweep.
		return nil
	}

	reclaim := `
		DELETE FROM content_recommendations
		WHERE user_id = $1 AND (dismissed_at IS NOT NULL OR expires_at <= NOW())`
	reclaimed, err := s.db.Exec(ctx, reclaim, userID)
	if err != nil {
		return fmt.Errorf("failed to reclaim inactive recommendations: %w", err)
	}

	trim := `
		DELETE FROM content_recommendations WHERE id IN (
			SELECT id FROM content_recommendations
			WHERE user_id = $1 AND dismissed_at IS NULL AND expires_at > NOW()
			ORDER BY
				(viewed_at IS NOT NULL) DESC,
				created_at ASC
			LIMIT $2
		)`
	if _, err := s.db.Exec(ctx, trim, userID, excess); err != nil {
		return fmt.Errorf("failed to evict over-cap recommendations: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"reclaimed": reclaimed.RowsAffected(),
		"trimmed":   excess,
	}).Debug("Active recommendation cap enforced")
	return nil
}

// ListContent serves the paged personal feed: active rows, best score first,
// newest on ties. Results flow through a short per-user read cache.
func (s *StoreService) ListContent(ctx context.Context, userID uuid.UUID, page, size int) (*models.ContentRecommendationPage, error) {
	cacheKey := fmt.Sprintf("recs:%s:content:%d:%d", userID, page, size)
	if cached := s.cachedPage(ctx, cacheKey); cached != nil {
		var p models.ContentRecommendationPage
		if json.Unmarshal(cached, &p) == nil {
			return &p, nil
		}
	}

	var total int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM content_recommendations
		WHERE user_id = $1 AND dismissed_at IS NULL AND expires_at > NOW()`, userID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count recommendations: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM content_recommendations
		WHERE user_id = $1 AND dismissed_at IS NULL AND expires_at > NOW()
		ORDER BY score DESC, created_at DESC
		LIMIT $2 OFFSET $3`, contentRecColumns)

	rows, err := s.db.Query(ctx, query, userID, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}
	defer rows.Close()

	content := make([]models.ContentRecommendation, 0, size)
	for rows.Next() {
		rec, err := scanContentRec(rows)
		if err != nil {
			return nil, err
		}
		content = append(content, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &models.ContentRecommendationPage{
		Content:       content,
		Page:          page,
		Size:          size,
		TotalElements: total,
	}
	s.cachePage(ctx, cacheKey, result)
	return result, nil
}

// ListGroups serves the paged group-suggestion feed.
func (s *StoreService) ListGroups(ctx context.Context, userID uuid.UUID, page, size int) (*models.GroupRecommendationPage, error) {
	cacheKey := fmt.Sprintf("recs:%s:groups:%d:%d", userID, page, size)
	if cached := s.cachedPage(ctx, cacheKey); cached != nil {
		var p models.GroupRecommendationPage
		if json.Unmarshal(cached, &p) == nil {
			return &p, nil
		}
	}

	var total int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM group_recommendations
		WHERE user_id = $1 AND dismissed_at IS NULL AND expires_at > NOW()`, userID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count group recommendations: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, group_id, score, reason, explanation,
		       created_at, expires_at, viewed_at, dismissed_at, dismiss_reason
		FROM group_recommendations
		WHERE user_id = $1 AND dismissed_at IS NULL AND expires_at > NOW()
		ORDER BY score DESC, created_at DESC
		LIMIT $2 OFFSET $3`, userID, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("failed to list group recommendations: %w", err)
	}
	defer rows.Close()

	content := make([]models.GroupRecommendation, 0, size)
	for rows.Next() {
		var rec models.GroupRecommendation
		err := rows.Scan(&rec.ID, &rec.UserID, &rec.GroupID, &rec.Score, &rec.Reason,
			&rec.Explanation, &rec.CreatedAt, &rec.ExpiresAt,
			&rec.ViewedAt, &rec.DismissedAt, &rec.DismissReason)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group recommendation: %w", err)
		}
		content = append(content, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &models.GroupRecommendationPage{
		Content:       content,
		Page:          page,
		Size:          size,
		TotalElements: total,
	}
	s.cachePage(ctx, cacheKey, result)
	return result, nil
}

// ListContentByReason filters the active set by recommendation reason.
func (s *StoreService) ListContentByReason(ctx context.Context, userID uuid.UUID, reason models.RecommendationReason, limit int) ([]models.ContentRecommendation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM content_recommendations
		WHERE user_id = $1 AND reason = $2 AND dismissed_at IS NULL AND expires_at > NOW()
		ORDER BY score DESC, created_at DESC
		LIMIT $3`, contentRecColumns)

	rows, err := s.db.Query(ctx, query, userID, reason, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations by reason: %w", err)
	}
	defer rows.Close()

	out := make([]models.ContentRecommendation, 0, limit)
	for rows.Next() {
		rec, err := scanContentRec(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkViewed is idempotent: the first call sets viewed_at, later calls are
// no-ops. The row stays in the active set.
func (s *StoreService) MarkViewed(ctx context.Context, kind models.RecommendationKind, recID, userID uuid.UUID) error {
	table := tableForKind(kind)

	owner, err := s.recOwner(ctx, table, recID)
	if err != nil {
		return err
	}
	if owner != userID {
		return fmt.Errorf("recommendation %s: %w", recID, ErrForbidden)
	}

	query := fmt.Sprintf(`UPDATE %s SET viewed_at = NOW() WHERE id = $1 AND viewed_at IS NULL`, table)
	if _, err := s.db.Exec(ctx, query, recID); err != nil {
		return fmt.Errorf("failed to mark recommendation viewed: %w", err)
	}

	s.invalidateReadCache(ctx, userID)
	return nil
}

// Dismiss is idempotent: the first call records the dismissal, later calls
// keep the original timestamp and reason. Dismissal wins over view in either
// order.
func (s *StoreService) Dismiss(ctx context.Context, kind models.RecommendationKind, recID, userID uuid.UUID, reason string) error {
	table := tableForKind(kind)

	owner, err := s.recOwner(ctx, table, recID)
	if err != nil {
		return err
	}
	if owner != userID {
		return fmt.Errorf("recommendation %s: %w", recID, ErrForbidden)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET dismissed_at = NOW(), dismiss_reason = $2
		WHERE id = $1 AND dismissed_at IS NULL`, table)
	if _, err := s.db.Exec(ctx, query, recID, nullableString(reason)); err != nil {
		return fmt.Errorf("failed to dismiss recommendation: %w", err)
	}

	s.invalidateReadCache(ctx, userID)
	return nil
}

// ContentRecommendation loads one row regardless of lifecycle state.
func (s *StoreService) ContentRecommendation(ctx context.Context, recID uuid.UUID) (*models.ContentRecommendation, error) {
	query := fmt.Sprintf(`SELECT %s FROM content_recommendations WHERE id = $1`, contentRecColumns)
	rec, err := scanContentRec(s.db.QueryRow(ctx, query, recID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("recommendation %s: %w", recID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recommendation: %w", err)
	}
	return &rec, nil
}

// RecommendationMediaID resolves a content recommendation to its media, used
// by the feedback path to adjust the profile target.
func (s *StoreService) RecommendationMediaID(ctx context.Context, recID uuid.UUID) (uuid.UUID, error) {
	var mediaID uuid.UUID
	err := s.db.QueryRow(ctx,
		`SELECT media_id FROM content_recommendations WHERE id = $1`, recID).Scan(&mediaID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("recommendation %s: %w", recID, ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return mediaID, nil
}

// RecentlyDismissedMediaIDs feeds the generator's suppression filter.
func (s *StoreService) RecentlyDismissedMediaIDs(ctx context.Context, userID uuid.UUID, since time.Time) (map[uuid.UUID]struct{}, error) {
	rows, err := s.db.Query(ctx, `
		SELECT media_id FROM content_recommendations
		WHERE user_id = $1 AND dismissed_at >= $2`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent dismissals: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]struct{})
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// EvictionSweep deletes dismissed and expired rows past the grace window,
// both tables. Returns the number of rows reclaimed.
func (s *StoreService) EvictionSweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-evictionGraceWindow)

	var total int64
	for _, table := range []string{"content_recommendations", "group_recommendations"} {
		query := fmt.Sprintf(`
			DELETE FROM %s
			WHERE (dismissed_at IS NOT NULL AND dismissed_at < $1)
			   OR (expires_at < $1)`, table)
		tag, err := s.db.Exec(ctx, query, cutoff)
		if err != nil {
			return total, fmt.Errorf("eviction sweep failed on %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}

	s.logger.WithField("reclaimed", total).Info("Eviction sweep completed")
	return total, nil
}

// Summary aggregates the caller's dashboard counters and top picks.
func (s *StoreService) Summary(ctx context.Context, userID uuid.UUID) (*models.RecommendationSummary, error) {
	summary := &models.RecommendationSummary{UserID: userID}

	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE dismissed_at IS NULL AND expires_at > NOW()),
			COUNT(*) FILTER (WHERE dismissed_at IS NULL AND expires_at > NOW() AND viewed_at IS NULL)
		FROM content_recommendations WHERE user_id = $1`, userID).
		Scan(&summary.ActiveContent, &summary.UnviewedContent)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate content counters: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM group_recommendations
		WHERE user_id = $1 AND dismissed_at IS NULL AND expires_at > NOW()`, userID).
		Scan(&summary.ActiveGroups)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate group counters: %w", err)
	}

	topQuery := fmt.Sprintf(`
		SELECT %s FROM content_recommendations
		WHERE user_id = $1 AND dismissed_at IS NULL AND expires_at > NOW()
		ORDER BY score DESC, created_at DESC
		LIMIT 3`, contentRecColumns)
	rows, err := s.db.Query(ctx, topQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load top picks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanContentRec(rows)
		if err != nil {
			return nil, err
		}
		summary.TopPicks = append(summary.TopPicks, rec)
	}
	return summary, rows.Err()
}

func tableForKind(kind models.RecommendationKind) string {
	if kind == models.KindGroup {
		return "group_recommendations"
	}
	return "content_recommendations"
}

func (s *StoreService) recOwner(ctx context.Context, table string, recID uuid.UUID) (uuid.UUID, error) {
	var owner uuid.UUID
	query := fmt.Sprintf(`SELECT user_id FROM %s WHERE id = $1`, table)
	err := s.db.QueryRow(ctx, query, recID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("recommendation %s: %w", recID, ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve recommendation owner: %w", err)
	}
	return owner, nil
}

func scanContentRec(row pgx.Row) (models.ContentRecommendation, error) {
	var rec models.ContentRecommendation
	err := row.Scan(&rec.ID, &rec.UserID, &rec.MediaID, &rec.Score, &rec.Reason,
		&rec.Explanation, &rec.Type, &rec.CreatedAt, &rec.ExpiresAt,
		&rec.ViewedAt, &rec.DismissedAt, &rec.DismissReason)
	if err != nil {
		return rec, err
	}
	return rec, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *StoreService) cachedPage(ctx context.Context, key string) []byte {
	if s.warm == nil {
		return nil
	}
	data, err := s.warm.Get(ctx, key).Bytes()
	if s.metrics != nil {
		s.metrics.ObserveCache(err == nil)
	}
	if err != nil {
		return nil
	}
	return data
}

func (s *StoreService) cachePage(ctx context.Context, key string, page interface{}) {
	if s.warm == nil {
		return
	}
	data, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := s.warm.Set(ctx, key, data, s.config.CacheTTL.ReadCache).Err(); err != nil {
		s.logger.WithError(err).Debug("Failed to populate read cache")
	}
}

// invalidateReadCache drops every cached page for the user. Any write path
// calls this before returning.
func (s *StoreService) invalidateReadCache(ctx context.Context, userID uuid.UUID) {
	if s.warm == nil {
		return
	}
	pattern := fmt.Sprintf("recs:%s:*", userID)
	iter := s.warm.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.warm.Del(ctx, iter.Val()).Err(); err != nil {
			s.logger.WithError(err).Debug("Failed to invalidate read cache key")
		}
	}
}
