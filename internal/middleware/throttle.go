package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benvon/testnet-faucet/internal/request"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// DefaultThrottleRate is used when no rate is configured
const DefaultThrottleRate = "30-M"

const throttleKeyPrefix = "faucet:throttle"

// Throttle is a coarse per-IP HTTP limit in front of the faucet's own window limit.
// The rate can be swapped at runtime; the store and its counters survive the swap.
type Throttle struct {
	store  limiter.Store
	onHit  func()
	log    *zap.Logger
	mu     sync.RWMutex
	rate   limiter.Rate
	source string
}

// NewThrottle creates a throttle. A nil client keeps counters in process memory.
func NewThrottle(client redis.UniversalClient, rate string, log *zap.Logger, onHit func()) (*Throttle, error) {
	var store limiter.Store
	if client != nil {
		var err error
		store, err = redisstore.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: throttleKeyPrefix})
		if err != nil {
			return nil, fmt.Errorf("create throttle store: %w", err)
		}
	} else {
		store = memorystore.NewStoreWithOptions(limiter.StoreOptions{Prefix: throttleKeyPrefix})
	}

	t := &Throttle{store: store, onHit: onHit, log: log}
	if rate == "" {
		rate = DefaultThrottleRate
	}
	if err := t.SetRate(rate); err != nil {
		return nil, err
	}
	return t, nil
}

// SetRate parses a "<limit>-<period>" rate such as "30-M" and applies it to new requests.
// An empty rate keeps the current one.
func (t *Throttle) SetRate(formatted string) error {
	if formatted == "" {
		return nil
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return fmt.Errorf("parse throttle rate %q: %w", formatted, err)
	}

	t.mu.Lock()
	changed := t.source != formatted
	t.rate = rate
	t.source = formatted
	t.mu.Unlock()

	if changed {
		t.log.Info("http_throttle_rate_applied", zap.String("rate", formatted))
	}
	return nil
}

// Rate returns the formatted rate in force
func (t *Throttle) Rate() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.source
}

// Middleware wraps next with the throttle. Store errors fail open: the faucet's own
// limiter still guards every disbursement.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.mu.RLock()
		rate := t.rate
		t.mu.RUnlock()

		lctx, err := limiter.New(t.store, rate).Get(r.Context(), request.ClientIP(r))
		if err != nil {
			t.log.Warn("http_throttle_store_error", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			t.limitReached(w, lctx.Reset)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Throttle) limitReached(w http.ResponseWriter, reset int64) {
	if t.onHit != nil {
		t.onHit()
	}
	wait := reset - time.Now().Unix()
	if wait < 1 {
		wait = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(wait, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Too many requests"})
}
