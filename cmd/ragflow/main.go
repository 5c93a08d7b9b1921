package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/as775116191/ragflow/internal/cli"
	"github.com/as775116191/ragflow/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ragflow",
		Short: "Ragflow CLI - knowledge bases, documents and sync",
		Long: `Ragflow CLI manages knowledge bases, uploads documents and controls
drive and mailbox synchronization.

Environment variables:
  RAGFLOW_API_KEY   API key for authentication (required)
  RAGFLOW_API_URL   API base URL (default: http://localhost:8080)`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.BindEnv(rootCmd, "api-key", "RAGFLOW_API_KEY")
	cli.BindEnv(rootCmd, "api-url", "RAGFLOW_API_URL")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.AuthCmd())
	rootCmd.AddCommand(client.KBCmd())
	rootCmd.AddCommand(client.DocCmd())
	rootCmd.AddCommand(client.SyncCmd())
	rootCmd.AddCommand(client.APIKeyCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
