// Package policy serves the current dispensing policy and reloads it from an optional YAML file.
package policy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/benvon/testnet-faucet/internal/filestore"
	"github.com/benvon/testnet-faucet/internal/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Source returns the policy to apply to the next request
type Source interface {
	Current() models.Policy
}

// Static is a fixed Source
type Static models.Policy

// Current returns the fixed policy
func (s Static) Current() models.Policy { return models.Policy(s) }

// document is the YAML file shape; absent keys keep the base value
type document struct {
	MaxRequests  *int           `yaml:"max_requests"`
	Window       *time.Duration `yaml:"window"`
	Amount       *uint64        `yaml:"amount"`
	Decimals     *int           `yaml:"decimals"`
	ThrottleRate *string        `yaml:"http_throttle_rate"`
}

// LoadFile overlays the YAML at path on base and validates the result. A missing file yields base.
// Unknown keys are rejected so a typo never silently leaves a limit at its default.
func LoadFile(path string, base models.Policy) (models.Policy, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return base, base.Validate()
	}
	if err != nil {
		return models.Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data, base)
}

// Parse overlays a YAML document on base and validates the result
func Parse(data []byte, base models.Policy) (models.Policy, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return models.Policy{}, fmt.Errorf("decode policy: %w", err)
	}

	p := base
	if doc.MaxRequests != nil {
		p.MaxRequests = *doc.MaxRequests
	}
	if doc.Window != nil {
		p.Window = *doc.Window
	}
	if doc.Amount != nil {
		p.Amount = *doc.Amount
	}
	if doc.Decimals != nil {
		p.Decimals = *doc.Decimals
	}
	if doc.ThrottleRate != nil {
		p.ThrottleRate = *doc.ThrottleRate
	}
	if err := p.Validate(); err != nil {
		return models.Policy{}, err
	}
	return p, nil
}

type reloadRecorder interface {
	RecordPolicyReload(ok bool)
}

// Reloader holds the live policy. Reloads come from a ticker, file change notifications,
// SIGHUP and the admin API; a failed reload keeps the previous policy.
type Reloader struct {
	base     models.Policy
	path     string
	interval time.Duration
	log      *zap.Logger
	metrics  reloadRecorder

	reloadMu sync.Mutex
	mu       sync.RWMutex
	current  models.Policy
	onChange []func(models.Policy)
}

// Option configures a Reloader
type Option func(*Reloader)

// WithMetrics records every reload attempt
func WithMetrics(m reloadRecorder) Option {
	return func(r *Reloader) {
		r.metrics = m
	}
}

// NewReloader loads the initial policy. path may be empty, in which case base is served unchanged.
func NewReloader(base models.Policy, path string, interval time.Duration, log *zap.Logger, opts ...Option) (*Reloader, error) {
	r := &Reloader{
		base:     base,
		path:     path,
		interval: interval,
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}

	p, err := r.load()
	if err != nil {
		return nil, err
	}
	r.current = p
	return r, nil
}

var _ Source = (*Reloader)(nil)

// Current returns the live policy
func (r *Reloader) Current() models.Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnChange registers fn to run after every reload that changes the policy
func (r *Reloader) OnChange(fn func(models.Policy)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// Reload re-reads the policy file. It returns the policy in force afterwards and whether it changed.
func (r *Reloader) Reload() (models.Policy, bool, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	p, err := r.load()
	if r.metrics != nil {
		r.metrics.RecordPolicyReload(err == nil)
	}
	if err != nil {
		r.log.Warn("policy_reload_failed",
			zap.String("path", r.path),
			zap.Error(err),
		)
		return r.Current(), false, err
	}

	r.mu.Lock()
	changed := p != r.current
	r.current = p
	subscribers := append([]func(models.Policy){}, r.onChange...)
	r.mu.Unlock()

	if changed {
		r.log.Info("policy_reloaded",
			zap.Int("max_requests", p.MaxRequests),
			zap.Duration("window", p.Window),
			zap.Uint64("amount", p.Amount),
			zap.String("http_throttle_rate", p.ThrottleRate),
		)
		for _, fn := range subscribers {
			fn(p)
		}
	}
	return p, changed, nil
}

// Start reloads on every tick and whenever the policy file is replaced, until ctx is cancelled
func (r *Reloader) Start(ctx context.Context) error {
	if r.path == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	if err := filestore.Watch(ctx, r.path, 250*time.Millisecond, r.log, func() {
		_, _, _ = r.Reload()
	}); err != nil {
		r.log.Warn("policy_file_watch_unavailable", zap.Error(err))
	}

	if r.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _, _ = r.Reload()
		}
	}
}

func (r *Reloader) load() (models.Policy, error) {
	if r.path == "" {
		return r.base, r.base.Validate()
	}
	return LoadFile(r.path, r.base)
}
