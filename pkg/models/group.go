package models

import (
	"time"

	"github.com/google/uuid"
)

type GroupVisibility string

const (
	GroupPublic  GroupVisibility = "PUBLIC"
	GroupPrivate GroupVisibility = "PRIVATE"
)

// Group is the read-only membership view consumed from the groups collaborator.
type Group struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Visibility    GroupVisibility `json:"visibility" db:"visibility"`
	MemberCount   int             `json:"member_count" db:"member_count"`
	ActivityLevel float64         `json:"activity_level" db:"activity_level"` // interactions per member per week, normalized upstream
	PrimaryGenres []string        `json:"primary_genres" db:"primary_genres"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

type GroupMembership struct {
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	GroupID  uuid.UUID `json:"group_id" db:"group_id"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}
