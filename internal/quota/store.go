// Package quota enforces a per-client request quota over a rolling window.
// Stores are interchangeable: an in-process map for a single instance, Redis or
// Postgres when several instances share one quota.
package quota

import (
	"context"
	"errors"
	"time"
)

// UnknownClient is the key used when the caller's address cannot be determined.
const UnknownClient = "unknown"

// ErrInvalidLimit is returned by constructors given a non-positive limit or window.
var ErrInvalidLimit = errors.New("quota: limit and window must be positive")

// Decision is the outcome of one consumption attempt.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Record is the quota state of one client.
type Record struct {
	ClientKey   string
	Consumed    int
	WindowStart time.Time
}

// Store consumes one point for key. A denied consumption leaves the record
// untouched. Implementations must be safe for concurrent use.
type Store interface {
	Consume(ctx context.Context, key string) (Decision, error)
}

func validate(limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return ErrInvalidLimit
	}
	return nil
}
