package ratelimit

import (
	"context"
	"sync"
	"time"
)

type record struct {
	count           int
	windowStartedAt time.Time
}

// expired reports whether the record's window has elapsed and it must be treated as absent
func (r *record) expired(now time.Time, window time.Duration) bool {
	return now.Sub(r.windowStartedAt) > window
}

// MemoryStore is an in-process Limiter guarded by a single mutex.
// Expired records are ignored lazily and removed by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*record
	now     func() time.Time
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory limiter
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Limiter = (*MemoryStore)(nil)

// CheckAndRecord admits the key iff every bucket is absent, expired, or below the cap.
// On admission absent or expired buckets start a new window at now and the others are incremented;
// the window anchor never moves inside an active window.
func (s *MemoryStore) CheckAndRecord(_ context.Context, key Key, limit Limit) (Decision, error) {
	if err := limit.validate(); err != nil {
		return Decision{}, err
	}
	buckets := key.Buckets()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var retryAfter time.Time
	for _, b := range buckets {
		rec, ok := s.records[b]
		if !ok || rec.expired(now, limit.Window) {
			continue
		}
		if rec.count >= limit.MaxRequests {
			if end := rec.windowStartedAt.Add(limit.Window); end.After(retryAfter) {
				retryAfter = end
			}
		}
	}
	if !retryAfter.IsZero() {
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	for _, b := range buckets {
		rec, ok := s.records[b]
		if !ok || rec.expired(now, limit.Window) {
			s.records[b] = &record{count: 1, windowStartedAt: now}
			continue
		}
		rec.count++
	}
	return Decision{Allowed: true}, nil
}

// Reset forgets every record
func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*record)
	return nil
}

// Sweep deletes records whose window has elapsed and returns how many were removed
func (s *MemoryStore) Sweep(_ context.Context, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, rec := range s.records {
		if rec.expired(now, window) {
			delete(s.records, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked buckets, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
