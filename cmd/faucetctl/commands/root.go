// Package commands implements the faucetctl operator CLI. Commands talk to the configured storage
// backend directly, so they work while the server is down and never need the admin credential.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/benvon/testnet-faucet/internal/admin"
	"github.com/benvon/testnet-faucet/internal/config"
	"github.com/benvon/testnet-faucet/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Env carries what every command needs
type Env struct {
	Config *config.Config
	Log    *zap.Logger
	// Open returns the storage backend; tests replace it
	Open func(ctx context.Context) (*storage.Backend, error)
}

// NewEnv opens storage as described by cfg
func NewEnv(cfg *config.Config, log *zap.Logger) *Env {
	return &Env{
		Config: cfg,
		Log:    log,
		Open: func(ctx context.Context) (*storage.Backend, error) {
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid configuration: %w", err)
			}
			return storage.Open(ctx, cfg, log)
		},
	}
}

// NewRootCmd builds the faucetctl command tree
func NewRootCmd(env *Env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "faucetctl",
		Short:         "Operator tool for the testnet faucet",
		Long:          "Inspect and manage faucet bans, the request ledger, rate-limit state and policy files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newBansCmd(env))
	rootCmd.AddCommand(newLogsCmd(env))
	rootCmd.AddCommand(newStatsCmd(env))
	rootCmd.AddCommand(newResetCmd(env))
	rootCmd.AddCommand(newPolicyCmd(env))
	rootCmd.AddCommand(newEventsCmd(env))
	return rootCmd
}

// withService opens storage, wraps it in an admin service and closes it after fn
func withService(cmd *cobra.Command, env *Env, fn func(ctx context.Context, svc *admin.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	backend, err := env.Open(ctx)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to close storage: %v\n", err)
		}
	}()

	// the credential is never checked here, so the service gets none
	svc := admin.NewService("", backend.Bans, backend.Ledger, backend.Limiter, env.Log)
	return fn(ctx, svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
