// Package ratelimit decides faucet admission with fixed-window counters keyed by client IP and recipient address.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidLimit is returned when a Limit has a non-positive cap or window
var ErrInvalidLimit = errors.New("invalid rate limit")

// Key identifies the requester. Each dimension owns its own bucket so that neither a
// fresh IP nor a fresh address alone is enough to earn a second disbursement in a window.
type Key struct {
	IP      string
	Address string
}

// Buckets returns the storage keys checked and recorded for k, in a fixed order
func (k Key) Buckets() []string {
	return []string{"ip:" + k.IP, "address:" + k.Address}
}

// Limit is the fixed-window policy applied to every bucket
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

func (l Limit) validate() error {
	if l.MaxRequests <= 0 || l.Window <= 0 {
		return fmt.Errorf("%w: max=%d window=%s", ErrInvalidLimit, l.MaxRequests, l.Window)
	}
	return nil
}

// Decision is the outcome of CheckAndRecord
type Decision struct {
	Allowed bool
	// RetryAfter is the earliest instant every blocking bucket's window has ended. Zero when allowed.
	RetryAfter time.Time
}

// Limiter performs the atomic check-and-increment for a key.
// A rejected request leaves every bucket untouched.
type Limiter interface {
	CheckAndRecord(ctx context.Context, key Key, limit Limit) (Decision, error)
	// Reset forgets every record
	Reset(ctx context.Context) error
}
