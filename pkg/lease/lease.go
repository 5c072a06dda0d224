// Package lease provides exclusive, time-bounded claims on agent action IDs
// so that one action is executed by at most one worker at a time.
package lease

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrHeld is returned when a live lease belongs to another owner.
	ErrHeld = errors.New("action lease held by another owner")

	// ErrNotHeld is returned when releasing a lease the caller does not own.
	ErrNotHeld = errors.New("action lease not held by owner")
)

// DefaultTTL is used when a claim does not name a TTL.
const DefaultTTL = 10 * time.Minute

// Lease is a granted claim.
type Lease struct {
	ActionID  string    `json:"action_id"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claimer grants leases. Claim succeeds when no live lease exists or the
// live lease already belongs to owner, in which case it is extended.
type Claimer interface {
	Claim(ctx context.Context, actionID, owner string, ttl time.Duration) (Lease, error)
	Release(ctx context.Context, actionID, owner string) error
}
