package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the Redis list holding serialized entries, newest at the head
const DefaultRedisKey = "faucet:logs"

// RedisLedger stores entries in a capped Redis list
type RedisLedger struct {
	client     redis.UniversalClient
	key        string
	maxEntries int
}

// NewRedisLedger creates a ledger on DefaultRedisKey
func NewRedisLedger(client redis.UniversalClient, maxEntries int) *RedisLedger {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &RedisLedger{
		client:     client,
		key:        DefaultRedisKey,
		maxEntries: maxEntries,
	}
}

var _ Ledger = (*RedisLedger)(nil)

// Append pushes entry and trims the list in one MULTI/EXEC
func (l *RedisLedger) Append(ctx context.Context, entry models.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}

	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, l.key, data)
	pipe.LTrim(ctx, l.key, 0, int64(l.maxEntries-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// List returns up to limit entries newest first. Undecodable items are skipped.
func (l *RedisLedger) List(ctx context.Context, limit int) ([]models.LogEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := l.client.LRange(ctx, l.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}

	entries := make([]models.LogEntry, 0, len(raw))
	for _, item := range raw {
		var e models.LogEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Stats scans the whole list
func (l *RedisLedger) Stats(ctx context.Context) (models.LedgerStats, error) {
	entries, err := l.List(ctx, 0)
	if err != nil {
		return models.LedgerStats{}, err
	}
	return models.ComputeStats(entries), nil
}

// Len returns LLEN of the list
func (l *RedisLedger) Len(ctx context.Context) (int, error) {
	n, err := l.client.LLen(ctx, l.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count log entries: %w", err)
	}
	return int(n), nil
}

// Reset deletes the list
func (l *RedisLedger) Reset(ctx context.Context) error {
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	return nil
}
