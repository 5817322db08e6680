// Package admin implements the operator surface: ban management, ledger inspection, reset and policy reload.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/benvon/testnet-faucet/internal/bans"
	"github.com/benvon/testnet-faucet/internal/events"
	"github.com/benvon/testnet-faucet/internal/ledger"
	logpkg "github.com/benvon/testnet-faucet/internal/logger"
	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/benvon/testnet-faucet/internal/ratelimit"
	"github.com/benvon/testnet-faucet/internal/validation"
	"go.uber.org/zap"
)

// RecentRequestsLimit is the number of entries returned with Stats
const RecentRequestsLimit = 10

var (
	// ErrUnauthorized means the supplied credential does not match the admin secret
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidAction means a ban mutation was malformed
	ErrInvalidAction = errors.New("invalid action")
	// ErrReloadUnavailable means no policy reloader is wired
	ErrReloadUnavailable = errors.New("policy reload not configured")
)

// PolicyReloader re-reads the runtime policy. *policy.Reloader implements it.
type PolicyReloader interface {
	Reload() (models.Policy, bool, error)
}

// Overview is the admin dashboard payload
type Overview struct {
	Logs []models.LogEntry `json:"logs"`
	Bans models.BanList    `json:"bans"`
}

// Stats summarises the ledger
type Stats struct {
	models.LedgerStats
	RecentRequests []models.LogEntry `json:"recentRequests"`
}

// Service performs admin operations. Callers must Authorize first.
type Service struct {
	secret    []byte
	bans      bans.Registry
	ledger    ledger.Ledger
	limiter   ratelimit.Limiter
	reloader  PolicyReloader
	publisher events.Publisher
	log       *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithPolicyReloader enables ReloadPolicy
func WithPolicyReloader(r PolicyReloader) Option {
	return func(s *Service) {
		s.reloader = r
	}
}

// WithPublisher publishes admin events
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// NewService creates a Service. An empty secret rejects every credential.
func NewService(secret string, registry bans.Registry, l ledger.Ledger, limiter ratelimit.Limiter, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		secret:    []byte(secret),
		bans:      registry,
		ledger:    l,
		limiter:   limiter,
		publisher: events.NoopPublisher{},
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authorize compares credential with the admin secret in constant time
func (s *Service) Authorize(credential string) error {
	if len(s.secret) == 0 || credential == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(credential), s.secret) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Overview returns every ledger entry and the current ban sets
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	logs, err := s.ledger.List(ctx, 0)
	if err != nil {
		return Overview{}, fmt.Errorf("list ledger: %w", err)
	}
	list, err := s.bans.List(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("list bans: %w", err)
	}
	return Overview{Logs: logs, Bans: list}, nil
}

// ApplyBanAction bans or unbans ip and/or wallet and returns the updated sets
func (s *Service) ApplyBanAction(ctx context.Context, ip, wallet, action string) (models.BanList, error) {
	if err := validation.ValidateBanAction(action); err != nil {
		return models.BanList{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	ip, wallet, err := normalizeTargets(ip, wallet)
	if err != nil {
		return models.BanList{}, err
	}

	if models.BanAction(action) == models.BanActionBan {
		err = s.bans.Ban(ctx, ip, wallet)
	} else {
		err = s.bans.Unban(ctx, ip, wallet)
	}
	if err != nil {
		return models.BanList{}, fmt.Errorf("%s: %w", action, err)
	}

	s.log.Info("ban_list_updated",
		zap.String("action", action),
		zap.String("ip", logpkg.SanitizeIdentifier(ip)),
		zap.String("wallet", logpkg.SanitizeIdentifier(wallet)),
	)
	return s.publishBans(ctx)
}

// Block adds ip and/or wallet to the ban sets
func (s *Service) Block(ctx context.Context, ip, wallet string) (models.BanList, error) {
	return s.ApplyBanAction(ctx, ip, wallet, string(models.BanActionBan))
}

// Reset clears the ledger, the rate-limit records and the ban sets
func (s *Service) Reset(ctx context.Context) error {
	if err := s.ledger.Reset(ctx); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	if err := s.limiter.Reset(ctx); err != nil {
		return fmt.Errorf("reset rate limits: %w", err)
	}
	if err := s.bans.Reset(ctx); err != nil {
		return fmt.Errorf("reset bans: %w", err)
	}

	s.log.Warn("faucet_state_reset")
	s.publish(ctx, events.NewAdminEvent(events.TypeReset))
	return nil
}

// Stats derives counts from the ledger along with the most recent entries
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st, err := s.ledger.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger stats: %w", err)
	}
	recent, err := s.ledger.List(ctx, RecentRequestsLimit)
	if err != nil {
		return Stats{}, fmt.Errorf("list ledger: %w", err)
	}
	return Stats{LedgerStats: st, RecentRequests: recent}, nil
}

// ReloadPolicy re-reads the policy file now
func (s *Service) ReloadPolicy(ctx context.Context) (models.Policy, bool, error) {
	if s.reloader == nil {
		return models.Policy{}, false, ErrReloadUnavailable
	}
	pol, changed, err := s.reloader.Reload()
	if err != nil {
		return models.Policy{}, false, err
	}
	if changed {
		event := events.NewAdminEvent(events.TypePolicy)
		event.Policy = &pol
		s.publish(ctx, event)
	}
	return pol, changed, nil
}

func (s *Service) publishBans(ctx context.Context) (models.BanList, error) {
	list, err := s.bans.List(ctx)
	if err != nil {
		return models.BanList{}, fmt.Errorf("list bans: %w", err)
	}
	event := events.NewAdminEvent(events.TypeBansChanged)
	event.Bans = &list
	s.publish(ctx, event)
	return list, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.log.Warn("event_publish_failed", zap.String("type", event.Type), zap.Error(err))
	}
}

// normalizeTargets requires at least one target. Wallets must be well-formed and are lower-cased
// to match the addresses the controller checks.
func normalizeTargets(ip, wallet string) (string, string, error) {
	if ip == "" && wallet == "" {
		return "", "", fmt.Errorf("%w: ip or wallet required", ErrInvalidAction)
	}
	if len(ip) > logpkg.MaxIdentifierLength {
		return "", "", fmt.Errorf("%w: ip too long", ErrInvalidAction)
	}
	if wallet != "" {
		if err := validation.ValidateAddress(wallet); err != nil {
			return "", "", fmt.Errorf("%w: %w", ErrInvalidAction, err)
		}
		wallet = validation.NormalizeAddress(wallet)
	}
	return ip, wallet, nil
}
