package main

import (
	"context"
	"fmt"
	"os"

	"github.com/as775116191/ragflow/internal/cli"
	"github.com/as775116191/ragflow/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ragflowd",
		Short: "Ragflow server and administration",
		Long:  "Ragflow daemon for running the API server, syncing knowledge bases and managing users, tenants and API keys",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(admin.UserCmd())
	rootCmd.AddCommand(admin.TenantCmd())
	rootCmd.AddCommand(admin.APIKeyCmd())
	rootCmd.AddCommand(admin.SyncCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
