package faucet

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benvon/testnet-faucet/internal/bans"
	"github.com/benvon/testnet-faucet/internal/disbursement"
	"github.com/benvon/testnet-faucet/internal/events"
	"github.com/benvon/testnet-faucet/internal/ledger"
	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/benvon/testnet-faucet/internal/policy"
	"github.com/benvon/testnet-faucet/internal/ratelimit"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeGateway records calls and returns err when set
type fakeGateway struct {
	calls   atomic.Int64
	err     error
	block   bool
	ctxErrs chan error
}

func (g *fakeGateway) Disburse(ctx context.Context, req disbursement.Request) (disbursement.Receipt, error) {
	g.calls.Add(1)
	if g.ctxErrs != nil {
		g.ctxErrs <- ctx.Err()
	}
	if g.block {
		<-ctx.Done()
		return disbursement.Receipt{}, ctx.Err()
	}
	if g.err != nil {
		return disbursement.Receipt{}, g.err
	}
	return disbursement.Receipt{TxReference: "0xtx-" + req.RequestID}, nil
}

// countingLimiter wraps a limiter and counts calls
type countingLimiter struct {
	ratelimit.Limiter
	calls atomic.Int64
	err   error
}

func (l *countingLimiter) CheckAndRecord(ctx context.Context, key ratelimit.Key, limit ratelimit.Limit) (ratelimit.Decision, error) {
	l.calls.Add(1)
	if l.err != nil {
		return ratelimit.Decision{}, l.err
	}
	return l.Limiter.CheckAndRecord(ctx, key, limit)
}

type failingLedger struct {
	ledger.Ledger
}

func (failingLedger) Append(context.Context, models.LogEntry) error {
	return errors.New("disk full")
}

type harness struct {
	ctrl     *Controller
	clock    *fakeClock
	limiter  *countingLimiter
	gateway  *fakeGateway
	registry *bans.FileRegistry
	ledger   *ledger.FileLedger
	events   *events.Recorder
}

var hourly = models.Policy{MaxRequests: 1, Window: time.Hour, Amount: 1_000_000_000, Decimals: 9}

func newHarness(t *testing.T, pol models.Policy, opts ...Option) *harness {
	t.Helper()
	dir := t.TempDir()

	registry, err := bans.NewFileRegistry(filepath.Join(dir, "bans.json"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileRegistry: %v", err)
	}
	l, err := ledger.NewFileLedger(filepath.Join(dir, "logs.json"), 1000, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileLedger: %v", err)
	}

	h := &harness{
		clock:    newFakeClock(),
		gateway:  &fakeGateway{},
		registry: registry,
		ledger:   l,
		events:   &events.Recorder{},
	}
	h.limiter = &countingLimiter{Limiter: ratelimit.NewMemoryStore(ratelimit.WithClock(h.clock.Now))}

	opts = append([]Option{WithClock(h.clock.Now), WithPublisher(h.events)}, opts...)
	h.ctrl = New(registry, h.limiter, h.gateway, l, policy.Static(pol), zap.NewNop(), opts...)
	return h
}

func (h *harness) entries(t *testing.T) []models.LogEntry {
	t.Helper()
	entries, err := h.ledger.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return entries
}

func addr(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func TestRequest_SameIPDifferentAddressWaits(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hourly)
	ctx := context.Background()

	entry, err := h.ctrl.Request(ctx, "10.0.0.1", addr(0xaa))
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if entry.Status != models.RequestStatusSuccess || entry.Amount == nil || *entry.Amount != 1 {
		t.Fatalf("unexpected success entry: %+v", entry)
	}
	if entry.TxHash != "0xtx-"+entry.ID {
		t.Errorf("TxHash = %q, want receipt reference", entry.TxHash)
	}

	h.clock.Advance(time.Minute)
	_, err = h.ctrl.Request(ctx, "10.0.0.1", addr(0xbb))
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("expected errors.Is(err, ErrRateLimited)")
	}
	if wait := rl.RetryAfter.Sub(h.clock.Now()); wait != 59*time.Minute {
		t.Errorf("expected 59m wait, got %s", wait)
	}

	entries := h.entries(t)
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
	if entries[0].Status != models.RequestStatusRateLimited || entries[1].Status != models.RequestStatusSuccess {
		t.Errorf("unexpected ledger order: %s, %s", entries[0].Status, entries[1].Status)
	}
	if h.gateway.calls.Load() != 1 {
		t.Errorf("expected 1 disbursement, got %d", h.gateway.calls.Load())
	}
}

func TestRequest_InvalidAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
	}{
		{name: "empty", address: ""},
		{name: "missing prefix", address: fmt.Sprintf("%064x", 1)},
		{name: "too short", address: "0x" + fmt.Sprintf("%063x", 1)},
		{name: "non hex", address: "0x" + fmt.Sprintf("%063x", 1) + "g"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, hourly)
			entry, err := h.ctrl.Request(context.Background(), "10.0.0.1", tt.address)
			if !errors.Is(err, ErrInvalidAddress) {
				t.Fatalf("expected ErrInvalidAddress, got %v", err)
			}
			if entry.Address != models.UnknownAddress || entry.Status != models.RequestStatusFailed {
				t.Errorf("unexpected entry: %+v", entry)
			}
			if h.limiter.calls.Load() != 0 || h.gateway.calls.Load() != 0 {
				t.Error("invalid address must not reach the limiter or gateway")
			}
			if n := len(h.entries(t)); n != 1 {
				t.Errorf("expected exactly one ledger entry, got %d", n)
			}
		})
	}
}

func TestRequest_BanTakesPrecedenceOverLimiter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		banIP   string
		banAddr string
	}{
		{name: "banned wallet", banAddr: addr(0xaa)},
		{name: "banned ip", banIP: "10.0.0.1"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, hourly)
			ctx := context.Background()
			if err := h.registry.Ban(ctx, tt.banIP, tt.banAddr); err != nil {
				t.Fatalf("Ban: %v", err)
			}

			entry, err := h.ctrl.Request(ctx, "10.0.0.1", addr(0xaa))
			if !errors.Is(err, ErrBanned) {
				t.Fatalf("expected ErrBanned, got %v", err)
			}
			if entry.Error != reasonBanned || entry.Status != models.RequestStatusFailed {
				t.Errorf("unexpected entry: %+v", entry)
			}
			if h.limiter.calls.Load() != 0 {
				t.Error("banned request must not consume quota")
			}
			if h.gateway.calls.Load() != 0 {
				t.Error("banned request must not disburse")
			}
		})
	}
}

func TestRequest_BanMatchesNormalizedAddress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hourly)
	ctx := context.Background()
	if err := h.registry.Ban(ctx, "", addr(0xab)); err != nil {
		t.Fatalf("Ban: %v", err)
	}

	upper := "0x" + fmt.Sprintf("%064X", 0xab)
	entry, err := h.ctrl.Request(ctx, "10.0.0.1", upper)
	if !errors.Is(err, ErrBanned) {
		t.Fatalf("expected ErrBanned for mixed-case address, got %v", err)
	}
	if entry.Address != addr(0xab) {
		t.Errorf("expected lowercased address in log, got %s", entry.Address)
	}
}

func TestRequest_UnbanRestoresService(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hourly)
	ctx := context.Background()
	wallet := addr(0xcc)

	if err := h.registry.Ban(ctx, "", wallet); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if _, err := h.ctrl.Request(ctx, "10.0.0.1", wallet); !errors.Is(err, ErrBanned) {
		t.Fatalf("expected ErrBanned, got %v", err)
	}

	if err := h.registry.Unban(ctx, "", wallet); err != nil {
		t.Fatalf("Unban: %v", err)
	}
	if _, err := h.ctrl.Request(ctx, "10.0.0.1", wallet); err != nil {
		t.Fatalf("expected success after unban, got %v", err)
	}
}

func TestRequest_DisbursementFailureConsumesQuota(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hourly)
	h.gateway.err = fmt.Errorf("%w: backend returned 502", disbursement.ErrRejected)
	ctx := context.Background()

	entry, err := h.ctrl.Request(ctx, "10.0.0.1", addr(1))
	var de *DisbursementError
	if !errors.As(err, &de) || !errors.Is(err, ErrDisbursement) {
		t.Fatalf("expected DisbursementError, got %v", err)
	}
	if !errors.Is(err, disbursement.ErrRejected) {
		t.Error("expected the backend error to be unwrapped")
	}
	if entry.Status != models.RequestStatusFailed || entry.Error == "" || entry.Amount != nil {
		t.Errorf("unexpected entry: %+v", entry)
	}

	h.gateway.err = nil
	if _, err := h.ctrl.Request(ctx, "10.0.0.1", addr(1)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected quota to stay consumed after a failed disbursement, got %v", err)
	}
}

func TestRequest_DisbursementSurvivesClientCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hourly)
	h.gateway.ctxErrs = make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.ctrl.Request(ctx, "10.0.0.1", addr(1)); err != nil {
		t.Fatalf("expected success despite cancelled caller, got %v", err)
	}
	if err := <-h.gateway.ctxErrs; err != nil {
		t.Errorf("gateway saw cancelled context: %v", err)
	}
	if n := len(h.entries(t)); n != 1 {
		t.Errorf("expected the outcome to be logged, got %d entries", n)
	}
}

func TestRequest_DisbursementTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hourly, WithDisbursementTimeout(20*time.Millisecond))
	h.gateway.block = true

	_, err := h.ctrl.Request(context.Background(), "10.0.0.1", addr(1))
	if !errors.Is(err, ErrDisbursement) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected disbursement deadline error, got %v", err)
	}
}

func TestRequest_StoreErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hourly)
	h.limiter.err = errors.New("connection refused")

	entry, err := h.ctrl.Request(context.Background(), "10.0.0.1", addr(1))
	if !errors.Is(err, ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if entry.Status != models.RequestStatusFailed || entry.Error != reasonStore {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if h.gateway.calls.Load() != 0 {
		t.Error("store failure must not disburse")
	}
}

func TestRequest_LedgerFailureKeepsOutcome(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	gw := &fakeGateway{}
	ctrl := New(
		bansStub{},
		ratelimit.NewMemoryStore(ratelimit.WithClock(clock.Now)),
		gw,
		failingLedger{},
		policy.Static(hourly),
		zap.NewNop(),
	)

	entry, err := ctrl.Request(context.Background(), "10.0.0.1", addr(1))
	if err != nil {
		t.Fatalf("expected success to be reported, got %v", err)
	}
	if !entry.IsSuccess() {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

type bansStub struct{ bans.Registry }

func (bansStub) IsBanned(context.Context, string, string) (bool, error) { return false, nil }

func TestRequest_PublishesOneEventPerEntry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hourly)
	ctx := context.Background()
	_, _ = h.ctrl.Request(ctx, "10.0.0.1", addr(1))
	_, _ = h.ctrl.Request(ctx, "10.0.0.1", addr(1))
	_, _ = h.ctrl.Request(ctx, "10.0.0.1", "bogus")

	got := h.events.Events()
	want := []string{"faucet.request.success", "faucet.request.rate_limited", "faucet.request.failed"}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].RoutingKey() != want[i] {
			t.Errorf("event %d routing key = %s, want %s", i, got[i].RoutingKey(), want[i])
		}
	}
}

func TestRequest_PublishFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hourly)
	h.events.Err = errors.New("broker down")

	if _, err := h.ctrl.Request(context.Background(), "10.0.0.1", addr(1)); err != nil {
		t.Fatalf("publish failure must not fail the request: %v", err)
	}
}

// TestRequest_ConcurrentExactlyOneLogPerRequest mixes every outcome under contention
func TestRequest_ConcurrentExactlyOneLogPerRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hourly)
	ctx := context.Background()
	if err := h.registry.Ban(ctx, "", addr(0xdead)); err != nil {
		t.Fatalf("Ban: %v", err)
	}

	const uniqueKeys = 20
	var wg sync.WaitGroup
	run := func(ip, address string) {
		defer wg.Done()
		_, _ = h.ctrl.Request(ctx, ip, address)
	}
	for i := 0; i < uniqueKeys; i++ {
		ip := fmt.Sprintf("10.0.1.%d", i)
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go run(ip, addr(i+1))
		}
		wg.Add(2)
		go run(fmt.Sprintf("10.0.2.%d", i), "not-an-address")
		go run(fmt.Sprintf("10.0.3.%d", i), addr(0xdead))
	}
	wg.Wait()

	entries := h.entries(t)
	if len(entries) != uniqueKeys*5 {
		t.Fatalf("expected %d ledger entries, got %d", uniqueKeys*5, len(entries))
	}

	stats := models.ComputeStats(entries)
	if stats.Successful != uniqueKeys {
		t.Errorf("expected %d successes, got %d", uniqueKeys, stats.Successful)
	}
	if stats.RateLimited != 2*uniqueKeys {
		t.Errorf("expected %d rate limited, got %d", 2*uniqueKeys, stats.RateLimited)
	}
	if got := h.gateway.calls.Load(); got != uniqueKeys {
		t.Errorf("expected %d disbursements, got %d", uniqueKeys, got)
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.ID] {
			t.Fatalf("duplicate entry ID %s", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, models.Policy{MaxRequests: 3, Window: 2 * time.Hour, Amount: 5, Decimals: 1})
	_, _ = h.ctrl.Request(context.Background(), "10.0.0.1", addr(1))

	st, err := h.ctrl.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	want := Status{MaxRequests: 3, Window: 2 * time.Hour, DisplayAmount: 0.5, TotalLogged: 1}
	if st != want {
		t.Errorf("Status = %+v, want %+v", st, want)
	}
}
