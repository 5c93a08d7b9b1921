package admin

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/as775116191/ragflow/internal/config"
	"github.com/as775116191/ragflow/internal/domain"
	"github.com/spf13/cobra"
)

func SyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run or reset knowledge base syncs",
		Long: `Run a knowledge base sync in the foreground, or reset its source cursor.

A foreground run does not coordinate with a running server. Stop scheduled
syncs for the knowledge base first.`,
	}

	cmd.AddCommand(syncRunCmd())
	cmd.AddCommand(syncResetCmd())

	return cmd
}

func withApp(ctx context.Context, fn func(a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	pool, err := getDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	a, err := newApp(ctx, cfg, pool)
	if err != nil {
		return err
	}
	if a.orch == nil {
		return errSyncUnavailable
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.SyncCancelWait)
		defer cancel()
		_ = a.orch.Shutdown(shutdownCtx)
	}()
	return fn(a)
}

func syncRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <kb-id>",
		Short: "Sync a knowledge base and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(a *app) error {
				result, err := a.orch.Sync(ctx, args[0], domain.SyncTriggerCLI)
				if err != nil && ctx.Err() != nil {
					// Interrupted: cancel the run so the cursor stays where it was.
					fmt.Fprintln(os.Stderr, "interrupted, cancelling sync...")
					result, err = a.orch.Cancel(context.Background(), args[0], a.cfg.SyncCancelWait)
				}
				if result != nil {
					printSyncResult(result, outputFormat)
				}
				return err
			})
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func syncResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <kb-id>",
		Short: "Forget the source cursor so the next sync starts from scratch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.orch.Reset(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("failed to reset cursor: %w", err)
				}
				fmt.Printf("Sync cursor reset for knowledge base %s\n", args[0])
				return nil
			})
		},
	}
}

func printSyncResult(r *domain.SyncResult, outputFormat string) {
	if outputFormat == "json" {
		printJSON(r)
		return
	}
	fmt.Printf("Sync %s for knowledge base %s (%s)\n", r.State, r.KBID, r.Kind)
	if r.Reason != "" {
		fmt.Printf("  Reason:    %s\n", r.Reason)
	}
	c := r.Counters
	fmt.Printf("  Records:   %d\n", c.Records)
	fmt.Printf("  Created:   %d\n", c.Created)
	fmt.Printf("  Replaced:  %d\n", c.Replaced)
	fmt.Printf("  Removed:   %d\n", c.Removed)
	fmt.Printf("  Skipped:   %d\n", c.Skipped)
	fmt.Printf("  Failed:    %d\n", c.Failed)
	fmt.Printf("  Cursor:    committed=%t\n", r.CursorSet)
	fmt.Printf("  Duration:  %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}
