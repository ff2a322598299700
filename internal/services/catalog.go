package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/pkg/models"
)

// CatalogReader is the read-only view onto the media catalog, user libraries,
// and group membership owned by other ShowSync services. The recommendation
// core never writes through this interface.
type CatalogReader interface {
	MediaByID(ctx context.Context, id uuid.UUID) (*models.Media, error)
	MediaByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Media, error)
	CandidateMedia(ctx context.Context, excludeUser uuid.UUID, limit int) ([]models.Media, error)
	UserInteractions(ctx context.Context, userID uuid.UUID) ([]models.InteractionWithMedia, error)
	UserMediaIDs(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]struct{}, error)
	ActiveUserIDs(ctx context.Context, since time.Time) ([]uuid.UUID, error)
	UserGroups(ctx context.Context, userID uuid.UUID) ([]models.Group, error)
	PublicGroupsNotJoined(ctx context.Context, userID uuid.UUID, limit int) ([]models.Group, error)
	GroupMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	GroupExists(ctx context.Context, groupID uuid.UUID) (bool, error)
}

// CatalogService implements CatalogReader over the shared PostgreSQL views.
// Reads retry transient failures with exponential backoff; a row-not-found is
// terminal and surfaces as ErrNotFound.
type CatalogService struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewCatalogService(db DatabaseQuerier, logger *logrus.Logger) *CatalogService {
	return &CatalogService{db: db, logger: logger}
}

func readBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return backoff.WithContext(b, ctx)
}

const mediaColumns = `id, title, type, genres, platform, release_date, runtime_minutes, average_rating, rating_count`

func scanMedia(row pgx.Row) (*models.Media, error) {
	var m models.Media
	err := row.Scan(&m.ID, &m.Title, &m.Type, &m.Genres, &m.Platform,
		&m.ReleaseDate, &m.RuntimeMinutes, &m.AverageRating, &m.RatingCount)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *CatalogService) MediaByID(ctx context.Context, id uuid.UUID) (*models.Media, error) {
	query := fmt.Sprintf(`SELECT %s FROM media_items WHERE id = $1`, mediaColumns)

	var media *models.Media
	op := func() error {
		m, err := scanMedia(s.db.QueryRow(ctx, query, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return backoff.Permanent(fmt.Errorf("media %s: %w", id, ErrNotFound))
		}
		if err != nil {
			return err
		}
		media = m
		return nil
	}
	if err := backoff.Retry(op, readBackoff(ctx)); err != nil {
		return nil, err
	}
	return media, nil
}

func (s *CatalogService) MediaByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Media, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*models.Media{}, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM media_items WHERE id = ANY($1)`, mediaColumns)
	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load media batch: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*models.Media, len(ids))
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media: %w", err)
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// CandidateMedia returns catalog items the user has not interacted with,
// ordered by popularity so the pool favors items with rating signal.
func (s *CatalogService) CandidateMedia(ctx context.Context, excludeUser uuid.UUID, limit int) ([]models.Media, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM media_items m
		WHERE NOT EXISTS (
			SELECT 1 FROM user_interactions i
			WHERE i.user_id = $1 AND i.media_id = m.id
		)
		ORDER BY m.rating_count DESC, m.id
		LIMIT $2`, mediaColumns)

	rows, err := s.db.Query(ctx, query, excludeUser, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate media: %w", err)
	}
	defer rows.Close()

	var out []models.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *CatalogService) UserInteractions(ctx context.Context, userID uuid.UUID) ([]models.InteractionWithMedia, error) {
	query := fmt.Sprintf(`
		SELECT i.user_id, i.media_id, i.rating, i.status, i.progress, i.favorite, i.updated_at,
		       %s
		FROM user_interactions i
		JOIN media_items m ON m.id = i.media_id
		WHERE i.user_id = $1
		ORDER BY i.updated_at DESC`,
		"m.id, m.title, m.type, m.genres, m.platform, m.release_date, m.runtime_minutes, m.average_rating, m.rating_count")

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load interactions for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []models.InteractionWithMedia
	for rows.Next() {
		var iw models.InteractionWithMedia
		err := rows.Scan(
			&iw.UserID, &iw.MediaID, &iw.Rating, &iw.Status, &iw.Progress, &iw.Favorite, &iw.UpdatedAt,
			&iw.Media.ID, &iw.Media.Title, &iw.Media.Type, &iw.Media.Genres, &iw.Media.Platform,
			&iw.Media.ReleaseDate, &iw.Media.RuntimeMinutes, &iw.Media.AverageRating, &iw.Media.RatingCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		out = append(out, iw)
	}
	return out, rows.Err()
}

func (s *CatalogService) UserMediaIDs(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	rows, err := s.db.Query(ctx,
		`SELECT media_id FROM user_interactions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load library media ids: %w", err)
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

// ActiveUserIDs lists users with at least one library interaction since the
// given instant. The hourly scheduler uses this to refresh its target set.
func (s *CatalogService) ActiveUserIDs(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT user_id FROM user_interactions WHERE updated_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load active users: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const groupColumns = `g.id, g.name, g.visibility, g.member_count, g.activity_level, g.primary_genres, g.created_at`

func scanGroup(rows pgx.Rows) (models.Group, error) {
	var g models.Group
	err := rows.Scan(&g.ID, &g.Name, &g.Visibility, &g.MemberCount,
		&g.ActivityLevel, &g.PrimaryGenres, &g.CreatedAt)
	return g, err
}

func (s *CatalogService) UserGroups(ctx context.Context, userID uuid.UUID) ([]models.Group, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1`, groupColumns)

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load groups for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// PublicGroupsNotJoined returns public groups the user is not a member of.
// Private groups never surface as suggestions.
func (s *CatalogService) PublicGroupsNotJoined(ctx context.Context, userID uuid.UUID, limit int) ([]models.Group, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM groups g
		WHERE g.visibility = 'PUBLIC'
		  AND NOT EXISTS (
			SELECT 1 FROM group_members gm
			WHERE gm.group_id = g.id AND gm.user_id = $1
		  )
		ORDER BY g.activity_level DESC, g.id
		LIMIT $2`, groupColumns)

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load public groups: %w", err)
	}
	defer rows.Close()

	var out []models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *CatalogService) GroupMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load members of group %s: %w", groupID, err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *CatalogService) GroupExists(ctx context.Context, groupID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`, groupID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check group %s: %w", groupID, err)
	}
	return exists, nil
}
