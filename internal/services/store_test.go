package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showsync/recs/pkg/models"
)

func testStore(t *testing.T) (*StoreService, pgxmock.PgxPoolIface) {
	t.Helper()
	mockDB, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	return NewStoreService(mockDB, nil, nil, testRecConfig(), logger), mockDB
}

func testContentRec(userID uuid.UUID) models.ContentRecommendation {
	now := time.Now()
	return models.ContentRecommendation{
		ID:          uuid.New(),
		UserID:      userID,
		MediaID:     uuid.New(),
		Score:       0.8,
		Reason:      models.ReasonGenreMatch,
		Explanation: "Based on your love for Drama",
		Type:        models.TypePersonal,
		CreatedAt:   now,
		ExpiresAt:   now.AddDate(0, 0, 14),
	}
}

func TestInsertContentBatchSkipsActiveDuplicates(t *testing.T) {
	store, mockDB := testStore(t)
	userID := uuid.New()
	fresh := testContentRec(userID)
	dup := testContentRec(userID)

	// First insert lands, second hits an existing active row.
	mockDB.ExpectExec(`INSERT INTO content_recommendations`).
		WithArgs(fresh.ID, fresh.UserID, fresh.MediaID, fresh.Score, fresh.Reason,
			fresh.Explanation, fresh.Type, fresh.CreatedAt, fresh.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockDB.ExpectExec(`INSERT INTO content_recommendations`).
		WithArgs(dup.ID, dup.UserID, dup.MediaID, dup.Score, dup.Reason,
			dup.Explanation, dup.Type, dup.CreatedAt, dup.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mockDB.ExpectQuery(`SELECT COUNT\(\*\) FROM content_recommendations`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))

	inserted, err := store.InsertContentBatch(context.Background(), userID, []models.ContentRecommendation{fresh, dup})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestInsertContentBatchEnforcesCap(t *testing.T) {
	store, mockDB := testStore(t)
	userID := uuid.New()
	rec := testContentRec(userID)

	mockDB.ExpectExec(`INSERT INTO content_recommendations`).
		WithArgs(rec.ID, rec.UserID, rec.MediaID, rec.Score, rec.Reason,
			rec.Explanation, rec.Type, rec.CreatedAt, rec.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockDB.ExpectQuery(`SELECT COUNT\(\*\) FROM content_recommendations`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(55)))
	// Cap is 50: inactive rows are reclaimed first, then exactly 5 active
	// rows are trimmed.
	mockDB.ExpectExec(`DELETE FROM content_recommendations\s+WHERE user_id = \$1 AND \(dismissed_at IS NOT NULL OR expires_at <= NOW\(\)\)`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mockDB.ExpectExec(`DELETE FROM content_recommendations WHERE id IN`).
		WithArgs(userID, int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	inserted, err := store.InsertContentBatch(context.Background(), userID, []models.ContentRecommendation{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestInsertContentBatchCapTrimsActiveRowsDespiteInactiveOnes(t *testing.T) {
	store, mockDB := testStore(t)
	userID := uuid.New()
	rec := testContentRec(userID)

	mockDB.ExpectExec(`INSERT INTO content_recommendations`).
		WithArgs(rec.ID, rec.UserID, rec.MediaID, rec.Score, rec.Reason,
			rec.Explanation, rec.Type, rec.CreatedAt, rec.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// 53 active rows with 3 dismissed ones lingering. The dismissed rows must
	// not absorb the trim budget: the second DELETE targets active rows only,
	// so the active count lands exactly on the cap.
	mockDB.ExpectQuery(`SELECT COUNT\(\*\) FROM content_recommendations`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(53)))
	mockDB.ExpectExec(`DELETE FROM content_recommendations\s+WHERE user_id = \$1 AND \(dismissed_at IS NOT NULL OR expires_at <= NOW\(\)\)`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mockDB.ExpectExec(`DELETE FROM content_recommendations WHERE id IN \(\s+SELECT id FROM content_recommendations\s+WHERE user_id = \$1 AND dismissed_at IS NULL AND expires_at > NOW\(\)`).
		WithArgs(userID, int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	inserted, err := store.InsertContentBatch(context.Background(), userID, []models.ContentRecommendation{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestInsertContentBatchCancelledContext(t *testing.T) {
	store, _ := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inserted, err := store.InsertContentBatch(ctx, uuid.New(), []models.ContentRecommendation{testContentRec(uuid.New())})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, inserted)
}

func TestMarkViewed(t *testing.T) {
	t.Run("owner can view", func(t *testing.T) {
		store, mockDB := testStore(t)
		userID := uuid.New()
		recID := uuid.New()

		mockDB.ExpectQuery(`SELECT user_id FROM content_recommendations`).
			WithArgs(recID).
			WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(userID))
		mockDB.ExpectExec(`UPDATE content_recommendations SET viewed_at = NOW\(\) WHERE id = \$1 AND viewed_at IS NULL`).
			WithArgs(recID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := store.MarkViewed(context.Background(), models.KindContent, recID, userID)
		require.NoError(t, err)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("foreign recommendation is forbidden", func(t *testing.T) {
		store, mockDB := testStore(t)
		recID := uuid.New()

		mockDB.ExpectQuery(`SELECT user_id FROM content_recommendations`).
			WithArgs(recID).
			WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(uuid.New()))

		err := store.MarkViewed(context.Background(), models.KindContent, recID, uuid.New())
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown recommendation", func(t *testing.T) {
		store, mockDB := testStore(t)
		recID := uuid.New()

		mockDB.ExpectQuery(`SELECT user_id FROM content_recommendations`).
			WithArgs(recID).
			WillReturnError(pgx.ErrNoRows)

		err := store.MarkViewed(context.Background(), models.KindContent, recID, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("group kind routes to group table", func(t *testing.T) {
		store, mockDB := testStore(t)
		userID := uuid.New()
		recID := uuid.New()

		mockDB.ExpectQuery(`SELECT user_id FROM group_recommendations`).
			WithArgs(recID).
			WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(userID))
		mockDB.ExpectExec(`UPDATE group_recommendations SET viewed_at`).
			WithArgs(recID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := store.MarkViewed(context.Background(), models.KindGroup, recID, userID)
		require.NoError(t, err)
	})
}

func TestDismissKeepsFirstReason(t *testing.T) {
	store, mockDB := testStore(t)
	userID := uuid.New()
	recID := uuid.New()
	reason := "NOT_INTERESTED"

	// The guard clause only touches rows not yet dismissed, so a second
	// dismissal leaves the original timestamp and reason in place.
	mockDB.ExpectQuery(`SELECT user_id FROM content_recommendations`).
		WithArgs(recID).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(userID))
	mockDB.ExpectExec(`UPDATE content_recommendations SET dismissed_at = NOW\(\), dismiss_reason = \$2\s+WHERE id = \$1 AND dismissed_at IS NULL`).
		WithArgs(recID, &reason).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Dismiss(context.Background(), models.KindContent, recID, userID, reason))

	mockDB.ExpectQuery(`SELECT user_id FROM content_recommendations`).
		WithArgs(recID).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(userID))
	mockDB.ExpectExec(`AND dismissed_at IS NULL`).
		WithArgs(recID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.Dismiss(context.Background(), models.KindContent, recID, userID, "CHANGED_MIND"))
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestEvictionSweepCountsBothTables(t *testing.T) {
	store, mockDB := testStore(t)

	mockDB.ExpectExec(`DELETE FROM content_recommendations`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 12))
	mockDB.ExpectExec(`DELETE FROM group_recommendations`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	reclaimed, err := store.EvictionSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(15), reclaimed)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestRecentlyDismissedMediaIDs(t *testing.T) {
	store, mockDB := testStore(t)
	userID := uuid.New()
	mediaA := uuid.New()
	mediaB := uuid.New()
	since := time.Now().Add(-24 * time.Hour)

	mockDB.ExpectQuery(`SELECT media_id FROM content_recommendations`).
		WithArgs(userID, since).
		WillReturnRows(pgxmock.NewRows([]string{"media_id"}).AddRow(mediaA).AddRow(mediaB))

	got, err := store.RecentlyDismissedMediaIDs(context.Background(), userID, since)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, mediaA)
	assert.Contains(t, got, mediaB)
}
