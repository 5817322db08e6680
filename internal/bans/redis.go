package bans

import (
	"context"
	"fmt"

	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultIPSetKey is the Redis set of banned client IPs
	DefaultIPSetKey = "faucet:bans:ips"
	// DefaultWalletSetKey is the Redis set of banned recipient addresses
	DefaultWalletSetKey = "faucet:bans:wallets"
)

// RedisRegistry stores the ban sets as two Redis sets shared by every server replica
type RedisRegistry struct {
	client    redis.UniversalClient
	ipKey     string
	walletKey string
}

// NewRedisRegistry creates a registry on the default set keys
func NewRedisRegistry(client redis.UniversalClient) *RedisRegistry {
	return &RedisRegistry{
		client:    client,
		ipKey:     DefaultIPSetKey,
		walletKey: DefaultWalletSetKey,
	}
}

var _ Registry = (*RedisRegistry)(nil)

// IsBanned checks both sets in one round trip
func (r *RedisRegistry) IsBanned(ctx context.Context, ip, address string) (bool, error) {
	pipe := r.client.Pipeline()
	ipCmd := pipe.SIsMember(ctx, r.ipKey, ip)
	walletCmd := pipe.SIsMember(ctx, r.walletKey, address)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("check bans: %w", err)
	}
	return (ip != "" && ipCmd.Val()) || (address != "" && walletCmd.Val()), nil
}

// Ban adds the supplied identifiers
func (r *RedisRegistry) Ban(ctx context.Context, ip, address string) error {
	pipe := r.client.TxPipeline()
	if ip != "" {
		pipe.SAdd(ctx, r.ipKey, ip)
	}
	if address != "" {
		pipe.SAdd(ctx, r.walletKey, address)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ban: %w", err)
	}
	return nil
}

// Unban removes the supplied identifiers
func (r *RedisRegistry) Unban(ctx context.Context, ip, address string) error {
	pipe := r.client.TxPipeline()
	if ip != "" {
		pipe.SRem(ctx, r.ipKey, ip)
	}
	if address != "" {
		pipe.SRem(ctx, r.walletKey, address)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("unban: %w", err)
	}
	return nil
}

// List returns both sets sorted
func (r *RedisRegistry) List(ctx context.Context) (models.BanList, error) {
	ips, err := r.client.SMembers(ctx, r.ipKey).Result()
	if err != nil {
		return models.BanList{}, fmt.Errorf("list banned ips: %w", err)
	}
	wallets, err := r.client.SMembers(ctx, r.walletKey).Result()
	if err != nil {
		return models.BanList{}, fmt.Errorf("list banned wallets: %w", err)
	}
	return models.NewBanList(toSet(ips), toSet(wallets)), nil
}

// Reset deletes both sets
func (r *RedisRegistry) Reset(ctx context.Context) error {
	if err := r.client.Del(ctx, r.ipKey, r.walletKey).Err(); err != nil {
		return fmt.Errorf("reset bans: %w", err)
	}
	return nil
}
