package services

import "errors"

// Sentinel errors the handler layer maps to HTTP statuses. Services wrap
// these with %w and context; handlers match with errors.Is.
var (
	// ErrNotFound covers missing recommendations, profiles, and media.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the authenticated principal does not own the
	// addressed resource.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidArgument covers malformed identifiers and out-of-range
	// request parameters that survive binding.
	ErrInvalidArgument = errors.New("invalid argument")
)
