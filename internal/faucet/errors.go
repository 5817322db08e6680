package faucet

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidAddress means the recipient is not "0x" followed by 64 hex characters
	ErrInvalidAddress = errors.New("invalid wallet address format")
	// ErrBanned means the client IP or recipient address is banned
	ErrBanned = errors.New("address or IP is banned")
	// ErrRateLimited is matched by *RateLimitedError
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrDisbursement is matched by *DisbursementError
	ErrDisbursement = errors.New("failed to send tokens")
	// ErrStore means a ban or rate-limit lookup failed, so admission could not be decided
	ErrStore = errors.New("storage unavailable")
)

// RateLimitedError carries the instant the caller may retry
type RateLimitedError struct {
	RetryAfter time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrRateLimited) hold
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// DisbursementError wraps the backend failure. Its detail is recorded in the ledger, never returned to callers.
type DisbursementError struct {
	Err error
}

func (e *DisbursementError) Error() string {
	return "disbursement failed: " + e.Err.Error()
}

func (e *DisbursementError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDisbursement) hold
func (e *DisbursementError) Is(target error) bool {
	return target == ErrDisbursement
}
