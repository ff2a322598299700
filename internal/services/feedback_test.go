package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showsync/recs/pkg/models"
)

func testFeedback(t *testing.T) (*FeedbackService, pgxmock.PgxPoolIface) {
	t.Helper()
	mockDB, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := testRecConfig()
	store := NewStoreService(mockDB, nil, nil, cfg, logger)
	profiles := NewProfileBuilderService(mockDB, nil, nil, nil, cfg, logger)

	return NewFeedbackService(mockDB, store, profiles, NewUserLocks(), nil, logger), mockDB
}

func expectOwnershipAndView(mockDB pgxmock.PgxPoolIface, recID, userID uuid.UUID) {
	mockDB.ExpectQuery(`SELECT user_id FROM content_recommendations`).
		WithArgs(recID).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(userID))
	mockDB.ExpectExec(`UPDATE content_recommendations SET viewed_at`).
		WithArgs(recID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func expectMediaResolve(mockDB pgxmock.PgxPoolIface, recID, mediaID uuid.UUID) {
	mockDB.ExpectQuery(`SELECT media_id FROM content_recommendations`).
		WithArgs(recID).
		WillReturnRows(pgxmock.NewRows([]string{"media_id"}).AddRow(mediaID))
}

func TestSubmitFeedbackRejectsOutOfRangeScore(t *testing.T) {
	svc, mockDB := testFeedback(t)
	six := 6

	err := svc.Submit(context.Background(), models.KindContent, uuid.New(), uuid.New(), &six, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.NoError(t, mockDB.ExpectationsWereMet(), "rejected feedback must not touch the database")
}

func TestSubmitFeedbackInfersTypeFromScore(t *testing.T) {
	cases := []struct {
		score    int
		expected models.FeedbackType
	}{
		{5, models.FeedbackPositive},
		{4, models.FeedbackPositive},
		{3, models.FeedbackNeutral},
		{2, models.FeedbackNegative},
		{1, models.FeedbackNegative},
	}

	for _, tc := range cases {
		svc, mockDB := testFeedback(t)
		userID := uuid.New()
		recID := uuid.New()
		mediaID := uuid.New()

		expectOwnershipAndView(mockDB, recID, userID)
		expectMediaResolve(mockDB, recID, mediaID)
		mockDB.ExpectExec(`INSERT INTO recommendation_feedback`).
			WithArgs(pgxmock.AnyArg(), userID, models.KindContent, recID, &mediaID, tc.expected,
				&tc.score, (*string)(nil), models.ActionRated, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockDB.ExpectExec(`UPDATE preference_profiles SET confidence = 0`).
			WithArgs(userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		score := tc.score
		err := svc.Submit(context.Background(), models.KindContent, recID, userID, &score, "")
		require.NoError(t, err, "score %d", tc.score)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	}
}

func TestSubmitFeedbackWithoutScoreIsNeutralView(t *testing.T) {
	svc, mockDB := testFeedback(t)
	userID := uuid.New()
	recID := uuid.New()

	expectOwnershipAndView(mockDB, recID, userID)
	expectMediaResolve(mockDB, recID, uuid.New())
	mockDB.ExpectExec(`INSERT INTO recommendation_feedback`).
		WithArgs(pgxmock.AnyArg(), userID, models.KindContent, recID, pgxmock.AnyArg(), models.FeedbackNeutral,
			(*int)(nil), pgxmock.AnyArg(), models.ActionViewed, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockDB.ExpectExec(`UPDATE preference_profiles SET confidence = 0`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := svc.Submit(context.Background(), models.KindContent, recID, userID, nil, "loved it")
	require.NoError(t, err)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestSubmitFeedbackClipsComment(t *testing.T) {
	svc, mockDB := testFeedback(t)
	userID := uuid.New()
	recID := uuid.New()

	clipped := strings.Repeat("x", models.MaxFeedbackCommentLen)
	oversized := clipped + "overflow"

	expectOwnershipAndView(mockDB, recID, userID)
	expectMediaResolve(mockDB, recID, uuid.New())
	mockDB.ExpectExec(`INSERT INTO recommendation_feedback`).
		WithArgs(pgxmock.AnyArg(), userID, models.KindContent, recID, pgxmock.AnyArg(), models.FeedbackNeutral,
			(*int)(nil), &clipped, models.ActionViewed, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockDB.ExpectExec(`UPDATE preference_profiles SET confidence = 0`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := svc.Submit(context.Background(), models.KindContent, recID, userID, nil, oversized)
	require.NoError(t, err)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestSubmitFeedbackForeignRecommendation(t *testing.T) {
	svc, mockDB := testFeedback(t)
	recID := uuid.New()

	mockDB.ExpectQuery(`SELECT user_id FROM content_recommendations`).
		WithArgs(recID).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(uuid.New()))

	err := svc.Submit(context.Background(), models.KindContent, recID, uuid.New(), nil, "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSubmitFeedbackSurvivesStaleFlagFailure(t *testing.T) {
	svc, mockDB := testFeedback(t)
	userID := uuid.New()
	recID := uuid.New()

	expectOwnershipAndView(mockDB, recID, userID)
	expectMediaResolve(mockDB, recID, uuid.New())
	mockDB.ExpectExec(`INSERT INTO recommendation_feedback`).
		WithArgs(pgxmock.AnyArg(), userID, models.KindContent, recID, pgxmock.AnyArg(), models.FeedbackNeutral,
			(*int)(nil), pgxmock.AnyArg(), models.ActionViewed, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockDB.ExpectExec(`UPDATE preference_profiles SET confidence = 0`).
		WithArgs(userID).
		WillReturnError(assert.AnError)

	// Feedback is already durable; a lost staleness flag is not an error.
	err := svc.Submit(context.Background(), models.KindContent, recID, userID, nil, "")
	assert.NoError(t, err)
}
