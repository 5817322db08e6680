// Package ledger is the bounded, newest-first log of faucet request outcomes.
package ledger

import (
	"context"

	"github.com/benvon/testnet-faucet/internal/models"
)

// DefaultMaxEntries bounds the ledger; the oldest entries are evicted first
const DefaultMaxEntries = 200

// Ledger persists LogEntries. Append returns only once the entry is durable.
type Ledger interface {
	Append(ctx context.Context, entry models.LogEntry) error
	// List returns up to limit entries newest first; limit <= 0 returns all
	List(ctx context.Context, limit int) ([]models.LogEntry, error)
	Stats(ctx context.Context) (models.LedgerStats, error)
	Len(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

func clampLimit(limit, size int) int {
	if limit <= 0 || limit > size {
		return size
	}
	return limit
}
