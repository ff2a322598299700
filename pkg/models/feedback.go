package models

import (
	"time"

	"github.com/google/uuid"
)

type FeedbackType string

const (
	FeedbackPositive FeedbackType = "POSITIVE"
	FeedbackNegative FeedbackType = "NEGATIVE"
	FeedbackNeutral  FeedbackType = "NEUTRAL"
)

// Weight maps feedback to the signed influence used by the profile builder.
func (t FeedbackType) Weight() int {
	switch t {
	case FeedbackPositive:
		return 1
	case FeedbackNegative:
		return -1
	}
	return 0
}

// InferFeedbackType maps an explicit 1-5 score to a feedback type:
// score >= 4 is positive, score <= 2 negative, otherwise neutral.
func InferFeedbackType(score int) FeedbackType {
	switch {
	case score >= 4:
		return FeedbackPositive
	case score <= 2:
		return FeedbackNegative
	default:
		return FeedbackNeutral
	}
}

type ActionTaken string

const (
	ActionJoinedGroup    ActionTaken = "JOINED_GROUP"
	ActionAddedToLibrary ActionTaken = "ADDED_TO_LIBRARY"
	ActionDismissed      ActionTaken = "DISMISSED"
	ActionViewed         ActionTaken = "VIEWED"
	ActionRated          ActionTaken = "RATED"
)

// MaxFeedbackCommentLen caps free-text feedback; longer comments are clipped,
// not rejected.
const MaxFeedbackCommentLen = 1000

// RecommendationFeedback is immutable after creation. MediaID is resolved at
// submit time for content recommendations so the profile rebuild can target
// the media even after the recommendation row is evicted.
type RecommendationFeedback struct {
	ID               uuid.UUID          `json:"id" db:"id"`
	UserID           uuid.UUID          `json:"user_id" db:"user_id"`
	Kind             RecommendationKind `json:"kind" db:"kind"`
	RecommendationID uuid.UUID          `json:"recommendation_id" db:"recommendation_id"`
	MediaID          *uuid.UUID         `json:"media_id,omitempty" db:"media_id"`
	FeedbackType     FeedbackType       `json:"feedback_type" db:"feedback_type"`
	Score            *int               `json:"score,omitempty" db:"score"`
	Comment          *string            `json:"comment,omitempty" db:"comment"`
	ActionTaken      ActionTaken        `json:"action_taken" db:"action_taken"`
	CreatedAt        time.Time          `json:"created_at" db:"created_at"`
}

// FeedbackRequest is the inbound payload for the feedback endpoint.
type FeedbackRequest struct {
	Score   *int   `json:"score,omitempty" validate:"omitempty,min=1,max=5"`
	Comment string `json:"comment,omitempty"`
}
