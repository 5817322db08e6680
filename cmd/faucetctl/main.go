package main

import (
	"fmt"
	"os"

	"github.com/benvon/testnet-faucet/cmd/faucetctl/commands"
	"github.com/benvon/testnet-faucet/internal/config"
	"github.com/benvon/testnet-faucet/internal/logger"
)

func main() {
	cfg := config.LoadWithoutSecret()

	log, err := logger.NewDevelopmentLogger(cfg.ServerDebugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	rootCmd := commands.NewRootCmd(commands.NewEnv(cfg, log))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
