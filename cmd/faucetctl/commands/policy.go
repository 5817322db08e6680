package commands

import (
	"fmt"
	"os"

	"github.com/benvon/testnet-faucet/internal/middleware"
	"github.com/benvon/testnet-faucet/internal/policy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPolicyCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with policy files",
	}
	cmd.AddCommand(newPolicyCheckCmd(env))
	return cmd
}

func newPolicyCheckCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a policy file against the environment defaults",
		Long:  "Parse a YAML policy file, apply it over the environment policy and print the result without touching a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("policy file: %w", err)
			}
			p, err := policy.LoadFile(args[0], env.Config.DefaultPolicy())
			if err != nil {
				return fmt.Errorf("policy rejected: %w", err)
			}
			if p.ThrottleRate != "" {
				if _, err := middleware.NewThrottle(nil, p.ThrottleRate, zap.NewNop(), nil); err != nil {
					return fmt.Errorf("policy rejected: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Policy OK:")
			fmt.Fprintf(out, "  Max requests per window: %d\n", p.MaxRequests)
			fmt.Fprintf(out, "  Window:                  %s\n", p.Window)
			fmt.Fprintf(out, "  Amount:                  %d base units (%g tokens)\n", p.Amount, p.DisplayAmount())
			if p.ThrottleRate != "" {
				fmt.Fprintf(out, "  HTTP throttle:           %s\n", p.ThrottleRate)
			}
			return nil
		},
	}
}
