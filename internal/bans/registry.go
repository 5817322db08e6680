// Package bans keeps the sets of banned client IPs and recipient addresses.
package bans

import (
	"context"

	"github.com/benvon/testnet-faucet/internal/models"
)

// Registry answers and mutates ban membership. Empty identifiers are ignored by Ban and Unban,
// and both are idempotent.
type Registry interface {
	IsBanned(ctx context.Context, ip, address string) (bool, error)
	Ban(ctx context.Context, ip, address string) error
	Unban(ctx context.Context, ip, address string) error
	List(ctx context.Context) (models.BanList, error)
	// Reset clears both sets
	Reset(ctx context.Context) error
}
