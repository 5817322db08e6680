// Package events publishes faucet outcomes and admin actions to a message broker.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/google/uuid"
)

// Event types. Request events carry the LogEntry; admin events carry the resulting ban list where relevant.
const (
	TypeRequest     = "faucet.request"
	TypeBansChanged = "admin.bans_changed"
	TypeReset       = "admin.reset"
	TypePolicy      = "admin.policy_reloaded"
)

// Event is the JSON envelope published to the broker
type Event struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	OccurredAt time.Time        `json:"occurredAt"`
	Entry      *models.LogEntry `json:"entry,omitempty"`
	Bans       *models.BanList  `json:"bans,omitempty"`
	Policy     *models.Policy   `json:"policy,omitempty"`
}

// RoutingKey derives the topic routing key. Request events are keyed by status so consumers
// can bind to faucet.request.success alone.
func (e Event) RoutingKey() string {
	if e.Type == TypeRequest && e.Entry != nil {
		return e.Type + "." + string(e.Entry.Status)
	}
	return e.Type
}

// NewRequestEvent wraps a ledger entry
func NewRequestEvent(entry models.LogEntry) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       TypeRequest,
		OccurredAt: entry.Timestamp,
		Entry:      &entry,
	}
}

// NewAdminEvent builds an admin action event stamped now
func NewAdminEvent(eventType string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events. Publishing is best-effort: callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// NoopPublisher discards every event. It is used when no broker is configured.
type NoopPublisher struct{}

var _ Publisher = NoopPublisher{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) HealthCheck(context.Context) error    { return nil }
func (NoopPublisher) Close() error                         { return nil }

// Recorder keeps published events in memory. Tests use it in place of a broker.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

var _ Publisher = (*Recorder)(nil)

// Publish records event, or returns r.Err when set
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) HealthCheck(context.Context) error { return nil }
func (r *Recorder) Close() error                      { return nil }
