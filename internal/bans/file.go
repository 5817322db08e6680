package bans

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benvon/testnet-faucet/internal/filestore"
	"github.com/benvon/testnet-faucet/internal/models"
	"go.uber.org/zap"
)

// FileRegistry holds the ban sets in memory and persists them to a JSON file
// shaped {"ips": [], "wallets": []} after every mutation.
type FileRegistry struct {
	mu      sync.RWMutex
	path    string
	ips     map[string]struct{}
	wallets map[string]struct{}
	log     *zap.Logger
}

// NewFileRegistry loads path, treating a missing file as empty. A corrupt file is an error
// so that a bad edit never silently lifts every ban.
func NewFileRegistry(path string, log *zap.Logger) (*FileRegistry, error) {
	r := &FileRegistry{
		path:    path,
		ips:     make(map[string]struct{}),
		wallets: make(map[string]struct{}),
		log:     log,
	}
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

var _ Registry = (*FileRegistry)(nil)

// Load replaces the in-memory sets with the file contents
func (r *FileRegistry) Load() error {
	var list models.BanList
	if _, err := filestore.ReadJSON(r.path, &list); err != nil {
		return fmt.Errorf("load bans: %w", err)
	}

	ips := toSet(list.IPs)
	wallets := toSet(list.Wallets)

	r.mu.Lock()
	r.ips = ips
	r.wallets = wallets
	r.mu.Unlock()
	return nil
}

// Watch reloads the sets whenever the file is replaced by another process, such as faucetctl
func (r *FileRegistry) Watch(ctx context.Context) error {
	return filestore.Watch(ctx, r.path, 200*time.Millisecond, r.log, func() {
		if err := r.Load(); err != nil {
			r.log.Warn("ban_list_reload_failed", zap.Error(err))
			return
		}
		r.log.Info("ban_list_reloaded")
	})
}

// IsBanned reports whether ip or address is in its set
func (r *FileRegistry) IsBanned(_ context.Context, ip, address string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.ips[ip]; ok && ip != "" {
		return true, nil
	}
	if _, ok := r.wallets[address]; ok && address != "" {
		return true, nil
	}
	return false, nil
}

// Ban adds the supplied identifiers
func (r *FileRegistry) Ban(_ context.Context, ip, address string) error {
	return r.mutate(func() {
		if ip != "" {
			r.ips[ip] = struct{}{}
		}
		if address != "" {
			r.wallets[address] = struct{}{}
		}
	})
}

// Unban removes the supplied identifiers
func (r *FileRegistry) Unban(_ context.Context, ip, address string) error {
	return r.mutate(func() {
		delete(r.ips, ip)
		delete(r.wallets, address)
	})
}

// List returns both sets sorted
func (r *FileRegistry) List(_ context.Context) (models.BanList, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return models.NewBanList(r.ips, r.wallets), nil
}

// Reset empties both sets
func (r *FileRegistry) Reset(_ context.Context) error {
	return r.mutate(func() {
		r.ips = make(map[string]struct{})
		r.wallets = make(map[string]struct{})
	})
}

// mutate applies fn and persists under the write lock so file order matches memory order
func (r *FileRegistry) mutate(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
	if err := filestore.WriteJSON(r.path, models.NewBanList(r.ips, r.wallets)); err != nil {
		return fmt.Errorf("persist bans: %w", err)
	}
	return nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
