package commands

import (
	"context"
	"fmt"

	"github.com/benvon/testnet-faucet/internal/admin"
	"github.com/benvon/testnet-faucet/internal/config"
	"github.com/spf13/cobra"
)

func newStatsCmd(env *Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print request totals from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, env, func(ctx context.Context, svc *admin.Service) error {
				st, err := svc.Stats(ctx)
				if err != nil {
					return fmt.Errorf("compute stats: %w", err)
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), st)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Total requests:        %d\n", st.Total)
				fmt.Fprintf(out, "Successful requests:   %d\n", st.Successful)
				fmt.Fprintf(out, "Failed requests:       %d\n", st.Failed)
				fmt.Fprintf(out, "Rate limited requests: %d\n", st.RateLimited)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print stats as JSON, including recent requests")
	return cmd
}

func newResetCmd(env *Env) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the ledger, rate-limit state and ban list",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset deletes all faucet state; pass --yes to confirm")
			}
			return withService(cmd, env, func(ctx context.Context, svc *admin.Service) error {
				if err := svc.Reset(ctx); err != nil {
					return fmt.Errorf("reset: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Faucet data reset.")
				if env.Config.StorageBackend == config.StorageBackendFile {
					// the server reloads the ledger and ban files, but its limiter is in memory
					fmt.Fprintln(cmd.OutOrStdout(), "Note: a running server keeps its in-memory rate-limit state; use DELETE /api/admin to clear it.")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}
