package models

import (
	"time"

	"github.com/google/uuid"
)

// RecommendationReason is a closed enum naming the dominant signal behind a
// recommendation. Adding a value requires backfilling explanations.
type RecommendationReason string

const (
	ReasonGenreMatch        RecommendationReason = "GENRE_MATCH"
	ReasonSimilarContent    RecommendationReason = "SIMILAR_CONTENT"
	ReasonGroupActivity     RecommendationReason = "GROUP_ACTIVITY"
	ReasonSimilarUsers      RecommendationReason = "SIMILAR_USERS"
	ReasonTrendingGlobal    RecommendationReason = "TRENDING_GLOBAL"
	ReasonTrendingGenre     RecommendationReason = "TRENDING_GENRE"
	ReasonHighlyRated       RecommendationReason = "HIGHLY_RATED"
	ReasonNewRelease        RecommendationReason = "NEW_RELEASE"
	ReasonAwardWinner       RecommendationReason = "AWARD_WINNER"
	ReasonCompletionPattern RecommendationReason = "COMPLETION_PATTERN"
	ReasonBingeWorthy       RecommendationReason = "BINGE_WORTHY"
	ReasonGeneral           RecommendationReason = "GENERAL"
)

// ValidReason reports whether s names a known recommendation reason.
func ValidReason(s string) bool {
	switch RecommendationReason(s) {
	case ReasonGenreMatch, ReasonSimilarContent, ReasonGroupActivity,
		ReasonSimilarUsers, ReasonTrendingGlobal, ReasonTrendingGenre,
		ReasonHighlyRated, ReasonNewRelease, ReasonAwardWinner,
		ReasonCompletionPattern, ReasonBingeWorthy, ReasonGeneral:
		return true
	}
	return false
}

type RecommendationType string

const (
	TypePersonal      RecommendationType = "PERSONAL"
	TypeGroup         RecommendationType = "GROUP"
	TypeTrending      RecommendationType = "TRENDING"
	TypeCollaborative RecommendationType = "COLLABORATIVE"
	TypeContentBased  RecommendationType = "CONTENT_BASED"
)

// RecommendationKind distinguishes the two recommendation tables for the
// shared view/dismiss/feedback operations.
type RecommendationKind string

const (
	KindContent RecommendationKind = "CONTENT"
	KindGroup   RecommendationKind = "GROUP"
)

func ParseRecommendationKind(s string) (RecommendationKind, bool) {
	switch RecommendationKind(s) {
	case KindContent:
		return KindContent, true
	case KindGroup:
		return KindGroup, true
	}
	return "", false
}

// ContentRecommendation is one scored media suggestion for one user.
// Among active rows (not dismissed, not expired) the (user_id, media_id)
// pair is unique.
type ContentRecommendation struct {
	ID            uuid.UUID            `json:"id" db:"id"`
	UserID        uuid.UUID            `json:"user_id" db:"user_id"`
	MediaID       uuid.UUID            `json:"media_id" db:"media_id"`
	Score         float64              `json:"score" db:"score"`
	Reason        RecommendationReason `json:"reason" db:"reason"`
	Explanation   string               `json:"explanation" db:"explanation"`
	Type          RecommendationType   `json:"type" db:"type"`
	CreatedAt     time.Time            `json:"created_at" db:"created_at"`
	ExpiresAt     time.Time            `json:"expires_at" db:"expires_at"`
	ViewedAt      *time.Time           `json:"viewed_at,omitempty" db:"viewed_at"`
	DismissedAt   *time.Time           `json:"dismissed_at,omitempty" db:"dismissed_at"`
	DismissReason *string              `json:"dismiss_reason,omitempty" db:"dismiss_reason"`
	Media         *Media               `json:"media,omitempty"`
}

// IsActive reports whether the recommendation is neither dismissed nor
// expired at the given instant.
func (r *ContentRecommendation) IsActive(now time.Time) bool {
	return r.DismissedAt == nil && now.Before(r.ExpiresAt)
}

// GroupRecommendation suggests a group to a user; same state machine as
// ContentRecommendation.
type GroupRecommendation struct {
	ID            uuid.UUID            `json:"id" db:"id"`
	UserID        uuid.UUID            `json:"user_id" db:"user_id"`
	GroupID       uuid.UUID            `json:"group_id" db:"group_id"`
	Score         float64              `json:"score" db:"score"`
	Reason        RecommendationReason `json:"reason" db:"reason"`
	Explanation   string               `json:"explanation" db:"explanation"`
	CreatedAt     time.Time            `json:"created_at" db:"created_at"`
	ExpiresAt     time.Time            `json:"expires_at" db:"expires_at"`
	ViewedAt      *time.Time           `json:"viewed_at,omitempty" db:"viewed_at"`
	DismissedAt   *time.Time           `json:"dismissed_at,omitempty" db:"dismissed_at"`
	DismissReason *string              `json:"dismiss_reason,omitempty" db:"dismiss_reason"`
	Group         *Group               `json:"group,omitempty"`
}

func (r *GroupRecommendation) IsActive(now time.Time) bool {
	return r.DismissedAt == nil && now.Before(r.ExpiresAt)
}

// ContentRecommendationPage is the stable paged response shape.
type ContentRecommendationPage struct {
	Content       []ContentRecommendation `json:"content"`
	Page          int                     `json:"page"`
	Size          int                     `json:"size"`
	TotalElements int64                   `json:"totalElements"`
}

type GroupRecommendationPage struct {
	Content       []GroupRecommendation `json:"content"`
	Page          int                   `json:"page"`
	Size          int                   `json:"size"`
	TotalElements int64                 `json:"totalElements"`
}

// ScoredMedia is an intermediate, non-persisted scoring result used by the
// realtime and similar-content paths.
type ScoredMedia struct {
	Media       Media                `json:"media"`
	Score       float64              `json:"score"`
	Reason      RecommendationReason `json:"reason"`
	Explanation string               `json:"explanation"`
}

// ProfileInsights is the dashboard view of a preference profile.
type ProfileInsights struct {
	UserID            uuid.UUID          `json:"user_id"`
	Confidence        float64            `json:"confidence"`
	Personality       ViewingPersonality `json:"personality"`
	TopGenres         []GenreWeight      `json:"top_genres"`
	PreferredLength   PreferredLength    `json:"preferred_length"`
	TotalInteractions int                `json:"total_interactions"`
	CompletionRate    float64            `json:"completion_rate"`
	HasSufficientData bool               `json:"has_sufficient_data"`
	LastCalculatedAt  time.Time          `json:"last_calculated_at"`
}

// RecommendationSummary backs the dashboard summary endpoint.
type RecommendationSummary struct {
	UserID          uuid.UUID               `json:"user_id"`
	ActiveContent   int64                   `json:"active_content"`
	ActiveGroups    int64                   `json:"active_groups"`
	UnviewedContent int64                   `json:"unviewed_content"`
	TopPicks        []ContentRecommendation `json:"top_picks"`
	Insights        *ProfileInsights        `json:"insights,omitempty"`
}

// AnalyticsReport carries system-level counters over a trailing window.
type AnalyticsReport struct {
	WindowDays       int              `json:"window_days"`
	GeneratedContent int64            `json:"generated_content"`
	GeneratedGroups  int64            `json:"generated_groups"`
	Viewed           int64            `json:"viewed"`
	Dismissed        int64            `json:"dismissed"`
	FeedbackByType   map[string]int64 `json:"feedback_by_type"`
	UsersWithActive  int64            `json:"users_with_active"`
	GeneratedAt      time.Time        `json:"generated_at"`
}
