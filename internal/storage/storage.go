// Package storage opens the configured backend and hands out the limiter, ban registry and ledger built on it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/benvon/testnet-faucet/internal/bans"
	"github.com/benvon/testnet-faucet/internal/config"
	"github.com/benvon/testnet-faucet/internal/ledger"
	"github.com/benvon/testnet-faucet/internal/ratelimit"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backend bundles the stores of one storage backend
type Backend struct {
	Kind    string
	Limiter ratelimit.Limiter
	Bans    bans.Registry
	Ledger  ledger.Ledger
	// Sweepable is set when the limiter expires records lazily in memory
	Sweepable ratelimit.Sweepable
	// Redis is set for the redis backend so other components can share the connection
	Redis redis.UniversalClient

	fileBans   *bans.FileRegistry
	fileLedger *ledger.FileLedger
}

// Open builds the backend selected by cfg.StorageBackend
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Backend, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendFile:
		return openFile(cfg, log)
	case config.StorageBackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Info("storage_backend_opened", zap.String("backend", cfg.StorageBackend), zap.String("addr", opts.Addr))
		return NewRedisBackend(client, cfg.LedgerMaxEntries), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func openFile(cfg *config.Config, log *zap.Logger) (*Backend, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	registry, err := bans.NewFileRegistry(cfg.BansPath(), log)
	if err != nil {
		return nil, fmt.Errorf("open ban list: %w", err)
	}
	l, err := ledger.NewFileLedger(cfg.LedgerPath(), cfg.LedgerMaxEntries, log)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	limiter := ratelimit.NewMemoryStore()

	log.Info("storage_backend_opened", zap.String("backend", config.StorageBackendFile), zap.String("data_dir", cfg.DataDir))
	return &Backend{
		Kind:       config.StorageBackendFile,
		Limiter:    limiter,
		Bans:       registry,
		Ledger:     l,
		Sweepable:  limiter,
		fileBans:   registry,
		fileLedger: l,
	}, nil
}

// NewRedisBackend builds every store on one redis client. The backend owns the client.
func NewRedisBackend(client redis.UniversalClient, ledgerMax int) *Backend {
	return &Backend{
		Kind:    config.StorageBackendRedis,
		Limiter: ratelimit.NewRedisStore(client),
		Bans:    bans.NewRedisRegistry(client),
		Ledger:  ledger.NewRedisLedger(client, ledgerMax),
		Redis:   client,
	}
}

// Watch follows out-of-process edits to the ban list and ledger files until ctx is cancelled.
// The redis backend is always current, so it just waits. Rate-limit state of the file backend
// lives only in this process; other processes cannot clear it.
func (b *Backend) Watch(ctx context.Context) error {
	if b.fileBans != nil {
		if err := b.fileBans.Watch(ctx); err != nil {
			return fmt.Errorf("watch ban list: %w", err)
		}
	}
	if b.fileLedger != nil {
		if err := b.fileLedger.Watch(ctx); err != nil {
			return fmt.Errorf("watch ledger: %w", err)
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

// Ping checks that the backend is reachable
func (b *Backend) Ping(ctx context.Context) error {
	if b.Redis != nil {
		return b.Redis.Ping(ctx).Err()
	}
	_, err := b.Ledger.Len(ctx)
	return err
}

// Close releases the redis connection if any
func (b *Backend) Close() error {
	if b.Redis == nil {
		return nil
	}
	if err := b.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
