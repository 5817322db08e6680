// Package faucet runs the admission and disbursement pipeline for a single faucet request.
package faucet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/testnet-faucet/internal/bans"
	"github.com/benvon/testnet-faucet/internal/disbursement"
	"github.com/benvon/testnet-faucet/internal/events"
	"github.com/benvon/testnet-faucet/internal/ledger"
	logpkg "github.com/benvon/testnet-faucet/internal/logger"
	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/benvon/testnet-faucet/internal/policy"
	"github.com/benvon/testnet-faucet/internal/ratelimit"
	"github.com/benvon/testnet-faucet/internal/telemetry"
	"github.com/benvon/testnet-faucet/internal/validation"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultDisbursementTimeout bounds a gateway call when no timeout is configured
const DefaultDisbursementTimeout = 20 * time.Second

// Ledger error messages for outcomes that have no underlying error detail
const (
	reasonInvalidAddress = "invalid address"
	reasonBanned         = "banned"
	reasonRateLimited    = "rate limit exceeded"
	reasonStore          = "storage unavailable"
)

// Recorder receives outcome metrics. *metrics.Metrics implements it.
type Recorder interface {
	RecordFaucetRequest(status, reason string)
	RecordDisbursement(ok bool, d time.Duration)
	RecordRateLimitHit(scope string)
	RecordLedgerAppendError()
}

// Status is the public view of the faucet configuration
type Status struct {
	MaxRequests   int
	Window        time.Duration
	DisplayAmount float64
	TotalLogged   int
}

// Controller orchestrates validation, ban check, rate limiting, disbursement and logging.
// It holds no locks of its own: admission atomicity belongs to the limiter, and the
// gateway call runs after admission is final.
type Controller struct {
	bans      bans.Registry
	limiter   ratelimit.Limiter
	gateway   disbursement.Gateway
	ledger    ledger.Ledger
	policy    policy.Source
	publisher events.Publisher
	metrics   Recorder
	tracer    trace.Tracer
	log       *zap.Logger

	now             func() time.Time
	newID           func() string
	disburseTimeout time.Duration
}

// Option configures a Controller
type Option func(*Controller)

// WithClock overrides the time source used for log timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithIDGenerator overrides uuid generation for entry IDs
func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) {
		c.newID = newID
	}
}

// WithPublisher publishes every logged outcome
func WithPublisher(p events.Publisher) Option {
	return func(c *Controller) {
		c.publisher = p
	}
}

// WithMetrics records outcome metrics
func WithMetrics(m Recorder) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithDisbursementTimeout bounds each gateway call
func WithDisbursementTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.disburseTimeout = d
		}
	}
}

// New creates a Controller
func New(registry bans.Registry, limiter ratelimit.Limiter, gateway disbursement.Gateway, l ledger.Ledger, source policy.Source, log *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		bans:            registry,
		limiter:         limiter,
		gateway:         gateway,
		ledger:          l,
		policy:          source,
		publisher:       events.NoopPublisher{},
		tracer:          telemetry.Tracer("github.com/benvon/testnet-faucet/internal/faucet"),
		log:             log,
		now:             time.Now,
		newID:           uuid.NewString,
		disburseTimeout: DefaultDisbursementTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request runs one faucet request from ip for rawAddress. Every call appends exactly one
// ledger entry, which is returned alongside the outcome error.
func (c *Controller) Request(ctx context.Context, ip, rawAddress string) (models.LogEntry, error) {
	ctx, span := c.tracer.Start(ctx, "faucet.request")
	defer span.End()

	entry, err := c.admitAndDisburse(ctx, ip, rawAddress)
	c.record(ctx, entry, err)

	span.SetAttributes(attribute.String("faucet.status", string(entry.Status)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return entry, err
}

func (c *Controller) admitAndDisburse(ctx context.Context, ip, rawAddress string) (models.LogEntry, error) {
	entry := models.LogEntry{
		ID:      c.newID(),
		Address: models.UnknownAddress,
		IP:      ip,
	}

	if !validation.IsValidAddress(rawAddress) {
		return c.fail(entry, models.RequestStatusFailed, reasonInvalidAddress), ErrInvalidAddress
	}
	entry.Address = validation.NormalizeAddress(rawAddress)

	banned, err := c.bans.IsBanned(ctx, ip, entry.Address)
	if err != nil {
		c.log.Error("ban_check_failed", zap.Error(err))
		return c.fail(entry, models.RequestStatusFailed, reasonStore), fmt.Errorf("%w: %v", ErrStore, err)
	}
	if banned {
		return c.fail(entry, models.RequestStatusFailed, reasonBanned), ErrBanned
	}

	pol := c.policy.Current()
	decision, err := c.limiter.CheckAndRecord(ctx,
		ratelimit.Key{IP: ip, Address: entry.Address},
		ratelimit.Limit{MaxRequests: pol.MaxRequests, Window: pol.Window},
	)
	if err != nil {
		c.log.Error("rate_limit_check_failed", zap.Error(err))
		return c.fail(entry, models.RequestStatusFailed, reasonStore), fmt.Errorf("%w: %v", ErrStore, err)
	}
	if !decision.Allowed {
		if c.metrics != nil {
			c.metrics.RecordRateLimitHit("faucet")
		}
		return c.fail(entry, models.RequestStatusRateLimited, reasonRateLimited), &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	receipt, err := c.disburse(ctx, entry.ID, entry.Address, pol.Amount)
	if err != nil {
		return c.fail(entry, models.RequestStatusFailed, err.Error()), &DisbursementError{Err: err}
	}

	amount := pol.DisplayAmount()
	entry.Status = models.RequestStatusSuccess
	entry.Amount = &amount
	entry.TxHash = receipt.TxReference
	entry.Timestamp = c.now().UTC()
	return entry, nil
}

// disburse detaches from the caller's cancellation: once admission has consumed quota the
// transfer must run to completion or to its own deadline, even if the client disconnects.
func (c *Controller) disburse(ctx context.Context, id, address string, amount uint64) (disbursement.Receipt, error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.disburseTimeout)
	defer cancel()

	dctx, span := c.tracer.Start(dctx, "faucet.disburse")
	defer span.End()

	start := time.Now()
	receipt, err := c.gateway.Disburse(dctx, disbursement.Request{
		RequestID: id,
		Address:   address,
		Amount:    amount,
	})
	if c.metrics != nil {
		c.metrics.RecordDisbursement(err == nil, time.Since(start))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.log.Error("disbursement_failed",
			zap.String("request_id", id),
			zap.String("address", logpkg.SanitizeIdentifier(address)),
			zap.Bool("rejected", errors.Is(err, disbursement.ErrRejected)),
			zap.Error(err),
		)
		return disbursement.Receipt{}, err
	}
	return receipt, nil
}

func (c *Controller) fail(entry models.LogEntry, status models.RequestStatus, reason string) models.LogEntry {
	entry.Status = status
	entry.Error = reason
	entry.Timestamp = c.now().UTC()
	return entry
}

// record appends the entry, publishes it and logs the outcome. The append uses a context detached from
// the caller so a disconnect cannot drop the entry. A failed append does not change the
// caller's outcome: for a success the funds have already moved.
func (c *Controller) record(ctx context.Context, entry models.LogEntry, outcome error) {
	persistCtx := context.WithoutCancel(ctx)
	if err := c.ledger.Append(persistCtx, entry); err != nil {
		if c.metrics != nil {
			c.metrics.RecordLedgerAppendError()
		}
		c.log.Error("ledger_append_failed",
			zap.String("request_id", entry.ID),
			zap.Error(err),
		)
	}

	if err := c.publisher.Publish(persistCtx, events.NewRequestEvent(entry)); err != nil {
		c.log.Warn("event_publish_failed",
			zap.String("request_id", entry.ID),
			zap.Error(err),
		)
	}

	if c.metrics != nil {
		c.metrics.RecordFaucetRequest(string(entry.Status), metricReason(outcome))
	}

	fields := []zap.Field{
		zap.String("request_id", entry.ID),
		zap.String("ip", logpkg.SanitizeIdentifier(entry.IP)),
		zap.String("address", logpkg.SanitizeIdentifier(entry.Address)),
		zap.String("status", string(entry.Status)),
	}
	switch {
	case outcome == nil:
		c.log.Info("faucet_request_succeeded", append(fields, zap.String("tx_reference", entry.TxHash))...)
	case errors.Is(outcome, ErrDisbursement), errors.Is(outcome, ErrStore):
		c.log.Error("faucet_request_failed", append(fields, zap.String("error", logpkg.SanitizeErrorString(entry.Error)))...)
	default:
		c.log.Info("faucet_request_rejected", append(fields, zap.String("reason", entry.Error))...)
	}
}

func metricReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, ErrBanned):
		return "banned"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrStore):
		return "store"
	default:
		return "disbursement"
	}
}

// Status reports the live policy and how many entries the ledger holds
func (c *Controller) Status(ctx context.Context) (Status, error) {
	pol := c.policy.Current()
	n, err := c.ledger.Len(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count ledger entries: %w", err)
	}
	return Status{
		MaxRequests:   pol.MaxRequests,
		Window:        pol.Window,
		DisplayAmount: pol.DisplayAmount(),
		TotalLogged:   n,
	}, nil
}
