package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/benvon/testnet-faucet/internal/admin"
	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/spf13/cobra"
)

func newLogsCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect the request ledger",
	}
	cmd.AddCommand(newLogsListCmd(env))
	return cmd
}

func newLogsListCmd(env *Env) *cobra.Command {
	var (
		limit  int
		asJSON bool
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch models.RequestStatus(status) {
			case "", models.RequestStatusSuccess, models.RequestStatusFailed, models.RequestStatusRateLimited:
			default:
				return fmt.Errorf("--status must be success, failed or rate_limited, got %q", status)
			}
			return withService(cmd, env, func(ctx context.Context, svc *admin.Service) error {
				overview, err := svc.Overview(ctx)
				if err != nil {
					return fmt.Errorf("list logs: %w", err)
				}
				entries := filterEntries(overview.Logs, models.RequestStatus(status), limit)
				if asJSON {
					return printJSON(cmd.OutOrStdout(), entries)
				}
				return printEntries(cmd, entries)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show (0 for all)")
	cmd.Flags().StringVar(&status, "status", "", "Only show entries with this status")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func filterEntries(entries []models.LogEntry, status models.RequestStatus, limit int) []models.LogEntry {
	out := make([]models.LogEntry, 0, len(entries))
	for _, e := range entries {
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func printEntries(cmd *cobra.Command, entries []models.LogEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No ledger entries")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATUS\tIP\tWALLET\tDETAIL")
	for _, e := range entries {
		detail := e.Error
		if e.IsSuccess() {
			detail = e.TxHash
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.UTC().Format(time.RFC3339), e.Status, e.IP, e.Address, detail)
	}
	return tw.Flush()
}
