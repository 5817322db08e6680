package bans

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisRegistry(t *testing.T) (*RedisRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRegistry(client), mr
}

func TestRedisRegistry_BanRoundTrip(t *testing.T) {
	r, mr := newTestRedisRegistry(t)
	ctx := context.Background()

	banned, err := r.IsBanned(ctx, "10.0.0.1", walletA)
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, r.Ban(ctx, "", walletA))
	require.NoError(t, r.Ban(ctx, "", walletA))

	members, err := mr.Members(DefaultWalletSetKey)
	require.NoError(t, err)
	assert.Equal(t, []string{walletA}, members)

	banned, err = r.IsBanned(ctx, "10.0.0.1", walletA)
	require.NoError(t, err)
	assert.True(t, banned)

	require.NoError(t, r.Unban(ctx, "", walletA))
	banned, err = r.IsBanned(ctx, "10.0.0.1", walletA)
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestRedisRegistry_IPBan(t *testing.T) {
	r, _ := newTestRedisRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Ban(ctx, "10.0.0.1", ""))

	banned, err := r.IsBanned(ctx, "10.0.0.1", walletB)
	require.NoError(t, err)
	assert.True(t, banned)

	banned, err = r.IsBanned(ctx, "10.0.0.2", walletB)
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestRedisRegistry_ListAndReset(t *testing.T) {
	r, _ := newTestRedisRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Ban(ctx, "10.0.0.2", walletB))
	require.NoError(t, r.Ban(ctx, "10.0.0.1", walletA))

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, list.IPs)
	assert.Equal(t, []string{walletA, walletB}, list.Wallets)

	require.NoError(t, r.Reset(ctx))
	list, err = r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.IPs)
	assert.Empty(t, list.Wallets)
	assert.NotNil(t, list.IPs)
}

func TestRedisRegistry_EmptyMutationIsNoop(t *testing.T) {
	r, _ := newTestRedisRegistry(t)
	require.NoError(t, r.Ban(context.Background(), "", ""))
	require.NoError(t, r.Unban(context.Background(), "", ""))
}
