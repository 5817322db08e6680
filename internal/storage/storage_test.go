package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benvon/testnet-faucet/internal/config"
	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/benvon/testnet-faucet/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StorageBackend:   config.StorageBackendFile,
		DataDir:          filepath.Join(t.TempDir(), "data"),
		LedgerMaxEntries: 200,
	}
}

func exercise(t *testing.T, b *Backend) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, b.Ping(ctx))
	require.NoError(t, b.Bans.Ban(ctx, "10.0.0.1", ""))
	banned, err := b.Bans.IsBanned(ctx, "10.0.0.1", "")
	require.NoError(t, err)
	assert.True(t, banned)

	require.NoError(t, b.Ledger.Append(ctx, models.LogEntry{ID: "1", Status: models.RequestStatusSuccess, Timestamp: time.Now()}))
	n, err := b.Ledger.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err := b.Limiter.CheckAndRecord(ctx,
		ratelimit.Key{IP: "10.0.0.2", Address: "0xabc"},
		ratelimit.Limit{MaxRequests: 1, Window: time.Hour},
	)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestOpen_File(t *testing.T) {
	cfg := baseConfig(t)

	b, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	assert.Equal(t, config.StorageBackendFile, b.Kind)
	assert.NotNil(t, b.Sweepable)
	assert.Nil(t, b.Redis)
	exercise(t, b)

	_, err = os.Stat(cfg.LedgerPath())
	assert.NoError(t, err, "ledger file should be written")
	_, err = os.Stat(cfg.BansPath())
	assert.NoError(t, err, "ban file should be written")
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig(t)
	cfg.StorageBackend = config.StorageBackendRedis
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"

	b, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	assert.Equal(t, config.StorageBackendRedis, b.Kind)
	assert.Nil(t, b.Sweepable)
	exercise(t, b)
	assert.True(t, mr.Exists("faucet:logs"))
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		url     string
	}{
		{name: "unknown backend", backend: "etcd"},
		{name: "bad redis url", backend: config.StorageBackendRedis, url: "://nope"},
		{name: "unreachable redis", backend: config.StorageBackendRedis, url: "redis://127.0.0.1:1/0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig(t)
			cfg.StorageBackend = tt.backend
			cfg.RedisURL = tt.url

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := Open(ctx, cfg, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestWatch_RedisWaitsForCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig(t)
	cfg.StorageBackend = config.StorageBackendRedis
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"

	b, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Watch(ctx), context.Canceled)
}

func TestWatch_FileFollowsOtherProcess(t *testing.T) {
	cfg := baseConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = server.Close() }()
	require.NoError(t, server.Ledger.Append(ctx, models.LogEntry{ID: "old", Status: models.RequestStatusSuccess, Timestamp: time.Now()}))

	done := make(chan error, 1)
	go func() { done <- server.Watch(ctx) }()
	// let the watchers register before the other process writes
	time.Sleep(100 * time.Millisecond)

	other, err := Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = other.Close() }()
	require.NoError(t, other.Ledger.Reset(ctx))
	require.NoError(t, other.Bans.Ban(ctx, "10.9.9.9", ""))

	assert.Eventually(t, func() bool {
		n, _ := server.Ledger.Len(ctx)
		banned, _ := server.Bans.IsBanned(ctx, "10.9.9.9", "")
		return n == 0 && banned
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
