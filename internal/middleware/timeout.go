package middleware

import (
	"net/http"
	"time"
)

// DefaultRequestTimeout applies when no timeout is configured
const DefaultRequestTimeout = 30 * time.Second

// Timeout answers 503 once timeout elapses. It must exceed the disbursement deadline so a
// slow transfer is reported by the faucet handler rather than cut off here.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, `{"error":"Request timeout"}`)
	}
}
