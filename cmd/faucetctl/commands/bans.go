package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/benvon/testnet-faucet/internal/admin"
	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/spf13/cobra"
)

func newBansCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bans",
		Short: "Manage banned IPs and wallets",
	}
	cmd.AddCommand(newBansListCmd(env))
	cmd.AddCommand(newBanMutationCmd(env, "add", "Ban an IP and/or wallet", models.BanActionBan))
	cmd.AddCommand(newBanMutationCmd(env, "remove", "Lift a ban on an IP and/or wallet", models.BanActionUnban))
	return cmd
}

func newBansListCmd(env *Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List banned IPs and wallets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, env, func(ctx context.Context, svc *admin.Service) error {
				overview, err := svc.Overview(ctx)
				if err != nil {
					return fmt.Errorf("list bans: %w", err)
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), overview.Bans)
				}
				printBanList(cmd, overview.Bans)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the ban list as JSON")
	return cmd
}

func newBanMutationCmd(env *Env, use, short string, action models.BanAction) *cobra.Command {
	var ip, wallet string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ip = strings.TrimSpace(ip)
			wallet = strings.TrimSpace(wallet)
			if ip == "" && wallet == "" {
				return fmt.Errorf("--ip or --wallet is required")
			}
			return withService(cmd, env, func(ctx context.Context, svc *admin.Service) error {
				list, err := svc.ApplyBanAction(ctx, ip, wallet, string(action))
				if err != nil {
					return fmt.Errorf("%s ban: %w", action, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Ban list updated.")
				printBanList(cmd, list)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "", "Client IP address")
	cmd.Flags().StringVar(&wallet, "wallet", "", "Wallet address (0x + 64 hex characters)")
	return cmd
}

func printBanList(cmd *cobra.Command, list models.BanList) {
	out := cmd.OutOrStdout()
	if len(list.IPs) == 0 && len(list.Wallets) == 0 {
		fmt.Fprintln(out, "No bans")
		return
	}
	fmt.Fprintf(out, "Banned IPs (%d):\n", len(list.IPs))
	for _, ip := range list.IPs {
		fmt.Fprintf(out, "  - %s\n", ip)
	}
	fmt.Fprintf(out, "Banned wallets (%d):\n", len(list.Wallets))
	for _, w := range list.Wallets {
		fmt.Fprintf(out, "  - %s\n", w)
	}
}
