package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MediaType string

const (
	MediaMovie  MediaType = "MOVIE"
	MediaTVShow MediaType = "TV_SHOW"
	MediaBook   MediaType = "BOOK"
)

// Media is the read-only catalog view consumed from the metadata collaborator.
type Media struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Title          string     `json:"title" db:"title"`
	Type           MediaType  `json:"type" db:"type"`
	Genres         []string   `json:"genres" db:"genres"`
	Platform       string     `json:"platform,omitempty" db:"platform"`
	ReleaseDate    *time.Time `json:"release_date,omitempty" db:"release_date"`
	RuntimeMinutes *int       `json:"runtime_minutes,omitempty" db:"runtime_minutes"`
	AverageRating  *float64   `json:"average_rating,omitempty" db:"average_rating"`
	RatingCount    int        `json:"rating_count" db:"rating_count"`
}

// Era buckets the release date by decade ("1990s", "2020s"). Empty when the
// release date is unknown.
func (m *Media) Era() string {
	if m.ReleaseDate == nil {
		return ""
	}
	decade := (m.ReleaseDate.Year() / 10) * 10
	return fmt.Sprintf("%ds", decade)
}

// PrimaryGenre returns the first genre tag, used for diversification overlap.
func (m *Media) PrimaryGenre() string {
	if len(m.Genres) == 0 {
		return ""
	}
	return m.Genres[0]
}

type InteractionStatus string

const (
	StatusPlanned    InteractionStatus = "PLANNED"
	StatusInProgress InteractionStatus = "IN_PROGRESS"
	StatusCompleted  InteractionStatus = "COMPLETED"
	StatusDropped    InteractionStatus = "DROPPED"
)

// Interaction is the read-only library view: one user's relationship with one
// media item. Ratings are on a 1-10 scale.
type Interaction struct {
	UserID    uuid.UUID         `json:"user_id" db:"user_id"`
	MediaID   uuid.UUID         `json:"media_id" db:"media_id"`
	Rating    *float64          `json:"rating,omitempty" db:"rating"`
	Status    InteractionStatus `json:"status" db:"status"`
	Progress  *float64          `json:"progress,omitempty" db:"progress"`
	Favorite  bool              `json:"favorite" db:"favorite"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// InteractionWithMedia joins an interaction with its media metadata, the unit
// the profile builder consumes.
type InteractionWithMedia struct {
	Interaction
	Media Media `json:"media"`
}
