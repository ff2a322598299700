package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/pkg/models"
)

// FeedbackService ingests user reactions: views, dismissals, and explicit
// feedback. Explicit feedback records the target media and flags the profile
// stale; the next rebuild folds the stored feedback into the preference
// weights, so it is eventually, not synchronously, reflected.
type FeedbackService struct {
	db       DatabaseQuerier
	store    *StoreService
	profiles *ProfileBuilderService
	locks    *UserLocks
	metrics  *MetricsCollector
	logger   *logrus.Logger
}

func NewFeedbackService(db DatabaseQuerier, store *StoreService, profiles *ProfileBuilderService, locks *UserLocks, metrics *MetricsCollector, logger *logrus.Logger) *FeedbackService {
	return &FeedbackService{db: db, store: store, profiles: profiles, locks: locks, metrics: metrics, logger: logger}
}

// View marks a recommendation viewed for its owner.
func (s *FeedbackService) View(ctx context.Context, kind models.RecommendationKind, recID, userID uuid.UUID) error {
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.store.MarkViewed(ctx, kind, recID, userID)
}

// Dismiss records a dismissal with an optional reason.
func (s *FeedbackService) Dismiss(ctx context.Context, kind models.RecommendationKind, recID, userID uuid.UUID, reason string) error {
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.store.Dismiss(ctx, kind, recID, userID, reason)
}

// Submit records explicit feedback: infers the feedback type from the score,
// clips the comment, marks the recommendation viewed, and flags the profile
// for recalculation.
func (s *FeedbackService) Submit(ctx context.Context, kind models.RecommendationKind, recID, userID uuid.UUID, score *int, comment string) error {
	if score != nil && (*score < 1 || *score > 5) {
		return fmt.Errorf("score %d out of range [1,5]: %w", *score, ErrInvalidArgument)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	// Ownership and existence check rides on MarkViewed, which is idempotent
	// and required by the contract anyway.
	if err := s.store.MarkViewed(ctx, kind, recID, userID); err != nil {
		return err
	}

	// Content feedback carries the media id so the rebuild can adjust the
	// genre weights after the recommendation row itself is gone.
	var mediaID *uuid.UUID
	if kind == models.KindContent {
		id, err := s.store.RecommendationMediaID(ctx, recID)
		if err != nil {
			return fmt.Errorf("failed to resolve feedback target: %w", err)
		}
		mediaID = &id
	}

	feedbackType := models.FeedbackNeutral
	action := models.ActionViewed
	if score != nil {
		feedbackType = models.InferFeedbackType(*score)
		action = models.ActionRated
	}

	if len(comment) > models.MaxFeedbackCommentLen {
		comment = comment[:models.MaxFeedbackCommentLen]
	}

	fb := models.RecommendationFeedback{
		ID:               uuid.New(),
		UserID:           userID,
		Kind:             kind,
		RecommendationID: recID,
		MediaID:          mediaID,
		FeedbackType:     feedbackType,
		Score:            score,
		ActionTaken:      action,
		CreatedAt:        time.Now(),
	}
	if comment != "" {
		fb.Comment = &comment
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO recommendation_feedback (
			id, user_id, kind, recommendation_id, media_id, feedback_type, score, comment, action_taken, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		fb.ID, fb.UserID, fb.Kind, fb.RecommendationID, fb.MediaID, fb.FeedbackType,
		fb.Score, fb.Comment, fb.ActionTaken, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ObserveFeedback(string(feedbackType))
	}

	if err := s.profiles.MarkStale(ctx, userID); err != nil {
		// Feedback is already durable; staleness will be caught by the daily
		// regeneration cutoff if this update is lost.
		s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to flag profile stale after feedback")
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":           userID,
		"recommendation_id": recID,
		"feedback_type":     feedbackType,
	}).Debug("Feedback recorded")
	return nil
}
