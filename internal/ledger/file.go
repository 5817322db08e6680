package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benvon/testnet-faucet/internal/filestore"
	"github.com/benvon/testnet-faucet/internal/models"
	"go.uber.org/zap"
)

// FileLedger keeps the entries in memory, newest first, and rewrites the JSON array file on every change.
// Watch keeps the copy in step with writes made by another process, such as a faucetctl reset.
type FileLedger struct {
	mu         sync.Mutex
	path       string
	maxEntries int
	entries    []models.LogEntry
	log        *zap.Logger
}

// NewFileLedger loads path. A missing file starts an empty ledger; so does a corrupt one,
// after a warning, so that a damaged log never takes the faucet offline.
func NewFileLedger(path string, maxEntries int, log *zap.Logger) (*FileLedger, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	l := &FileLedger{
		path:       path,
		maxEntries: maxEntries,
		log:        log,
	}

	if err := l.Load(); err != nil {
		log.Warn("ledger_load_failed",
			zap.String("path", path),
			zap.Error(err),
		)
	}
	return l, nil
}

// Load replaces the in-memory entries with the file contents. A missing file empties the ledger;
// an unreadable one leaves the current entries untouched.
func (l *FileLedger) Load() error {
	var entries []models.LogEntry
	if _, err := filestore.ReadJSON(l.path, &entries); err != nil {
		return err
	}
	if len(entries) > l.maxEntries {
		entries = entries[:l.maxEntries]
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	return nil
}

// Watch reloads the entries whenever the file is replaced by another process
func (l *FileLedger) Watch(ctx context.Context) error {
	return filestore.Watch(ctx, l.path, 200*time.Millisecond, l.log, func() {
		if err := l.Load(); err != nil {
			l.log.Warn("ledger_reload_failed", zap.Error(err))
			return
		}
		l.log.Debug("ledger_reloaded")
	})
}

var _ Ledger = (*FileLedger)(nil)

// Append prepends entry, evicts overflow and persists. On a failed write the
// in-memory state is left as it was before the call.
func (l *FileLedger) Append(_ context.Context, entry models.LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries) + 1
	if n > l.maxEntries {
		n = l.maxEntries
	}
	next := make([]models.LogEntry, 0, n)
	next = append(next, entry)
	next = append(next, l.entries[:n-1]...)

	if err := filestore.WriteJSON(l.path, next); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	l.entries = next
	return nil
}

// List returns a copy of the newest limit entries
func (l *FileLedger) List(_ context.Context, limit int) ([]models.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := clampLimit(limit, len(l.entries))
	out := make([]models.LogEntry, n)
	copy(out, l.entries[:n])
	return out, nil
}

// Stats scans the current entries
func (l *FileLedger) Stats(_ context.Context) (models.LedgerStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.ComputeStats(l.entries), nil
}

// Len returns the number of retained entries
func (l *FileLedger) Len(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries), nil
}

// Reset clears the ledger and persists the empty array
func (l *FileLedger) Reset(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := filestore.WriteJSON(l.path, []models.LogEntry{}); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	l.entries = nil
	return nil
}
