package services

import (
	"sync"

	"github.com/google/uuid"
)

// UserLocks serializes all mutations for a single user: profile rebuilds,
// batch commits, eviction, and feedback writes. Locks are striped so the map
// does not grow with the user population.
type UserLocks struct {
	stripes []sync.Mutex
}

const lockStripes = 256

func NewUserLocks() *UserLocks {
	return &UserLocks{stripes: make([]sync.Mutex, lockStripes)}
}

// Lock acquires the stripe for the user and returns the unlock function.
func (l *UserLocks) Lock(userID uuid.UUID) func() {
	stripe := &l.stripes[stripeIndex(userID)]
	stripe.Lock()
	return stripe.Unlock
}

func stripeIndex(userID uuid.UUID) int {
	// First two bytes are enough spread for a v4 UUID.
	return (int(userID[0])<<8 | int(userID[1])) % lockStripes
}
