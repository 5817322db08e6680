package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sweepable is a store that can drop expired records
type Sweepable interface {
	Sweep(ctx context.Context, window time.Duration) (int, error)
}

// Sweeper runs periodic sweeps so lazily-expired records do not grow memory without bound.
type Sweeper struct {
	store    Sweepable
	interval time.Duration
	window   func() time.Duration
	log      *zap.Logger
}

// NewSweeper creates a sweeper. window is read on every pass so policy reloads are honoured.
func NewSweeper(store Sweepable, interval time.Duration, window func() time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		window:   window,
		log:      log,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.log.Warn("rate_limit_sweep_failed", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	n, err := s.store.Sweep(ctx, s.window())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	if n > 0 {
		s.log.Debug("rate_limit_records_swept", zap.Int("removed", n))
	}
	return nil
}
