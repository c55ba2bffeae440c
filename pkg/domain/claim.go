package domain

import (
	"time"

	"github.com/google/uuid"
)

// Claim marks a unit of work as being run by one replica.
//
// The token changes on every claim, so a write conditioned on it is a no-op
// once another replica has taken the work over.
type Claim struct {
	Owner     string
	Token     uuid.UUID
	ClaimedAt time.Time
}

// NewClaimToken returns a fresh random token.
func NewClaimToken() uuid.UUID {
	return uuid.New()
}
