package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:   "auth47d",
		Short: "Bitcoin wallet login server",
		Long: `auth47d issues auth47 challenges, verifies the signed proofs wallets
send back and hands out session tokens.

Server commands:
  auth47d serve            Run the HTTP server

Wallet commands (for testing):
  auth47d keygen           Create a WIF key
  auth47d sign <uri>       Sign a challenge URI and print the proof`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSignCmd())
	rootCmd.AddCommand(newKeygenCmd())

	return rootCmd.ExecuteContext(context.Background())
}
