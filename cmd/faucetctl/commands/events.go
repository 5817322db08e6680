package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/testnet-faucet/internal/events"
	"github.com/spf13/cobra"
)

func newEventsCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Observe faucet outcome events",
	}
	cmd.AddCommand(newEventsTailCmd(env))
	return cmd
}

func newEventsTailCmd(env *Env) *cobra.Command {
	var pattern string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream events from the broker until interrupted",
		Long:  "Bind a temporary queue to the faucet events exchange and print each event as JSON (e.g. --pattern faucet.request.success)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.Config.RabbitMQURL == "" {
				return fmt.Errorf("RABBITMQ_URL is not set")
			}
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pub, err := events.ConnectRabbitMQ(ctx, env.Config.RabbitMQURL, 3, env.Log)
			if err != nil {
				return fmt.Errorf("connect to broker: %w", err)
			}
			defer func() { _ = pub.Close() }()

			stream, errs, err := pub.Subscribe(ctx, pattern)
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Tailing %q, Ctrl-C to stop\n", pattern)

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-stream:
					if !ok {
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ev.OccurredAt.UTC().Format(time.RFC3339), ev.RoutingKey())
					if err := printJSON(cmd.OutOrStdout(), ev); err != nil {
						return err
					}
				case err, ok := <-errs:
					if !ok {
						errs = nil
						continue
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
				}
			}
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "#", "Topic binding pattern (e.g. faucet.request.*)")
	return cmd
}
