package client

import (
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/spf13/cobra"
)

type syncStarted struct {
	RunID     string `json:"run_id"`
	KBID      string `json:"kb_id"`
	Kind      string `json:"kind"`
	Trigger   string `json:"trigger"`
	StartedAt string `json:"started_at"`
}

type syncCancelled struct {
	KBID    string             `json:"kb_id"`
	Stopped bool               `json:"stopped"`
	Result  *domain.SyncResult `json:"result,omitempty"`
}

func SyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Control knowledge base synchronization",
	}

	cmd.AddCommand(syncStartCmd())
	cmd.AddCommand(syncStatusCmd())
	cmd.AddCommand(syncCancelCmd())
	cmd.AddCommand(syncResetCmd())
	cmd.AddCommand(syncRunningCmd())

	return cmd
}

func syncPath(kbID string) string {
	return "/kbs/" + url.PathEscape(kbID) + "/sync"
}

func syncStartCmd() *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start <kb-id>",
		Short: "Start a sync run",
		Long: `Start a sync run for a knowledge base you own.

The run proceeds in the background on the server. With --wait the command
polls the status until the run finishes and prints its result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var started syncStarted
			if err := c.PostJSON(cmd.Context(), syncPath(args[0]), nil, &started); err != nil {
				return err
			}
			if !wait {
				return render(cmd, started, func(w io.Writer) {
					fmt.Fprintf(w, "Sync started: %s (%s)\n", started.RunID, started.Kind)
				})
			}

			status, err := waitForSync(cmd, c, args[0], interval)
			if err != nil {
				return err
			}
			return render(cmd, status, func(w io.Writer) { printSyncStatus(w, status) })
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the run to finish")
	cmd.Flags().DurationVar(&interval, "poll-interval", 2*time.Second, "Status poll interval with --wait")

	return cmd
}

func waitForSync(cmd *cobra.Command, c *APIClient, kbID string, interval time.Duration) (domain.SyncStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var status domain.SyncStatus
		if err := c.GetJSON(cmd.Context(), syncPath(kbID), &status); err != nil {
			return status, err
		}
		if status.State != domain.SyncStateRunning {
			return status, nil
		}
		select {
		case <-cmd.Context().Done():
			return status, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func printSyncStatus(w io.Writer, s domain.SyncStatus) {
	fmt.Fprintf(w, "Knowledge base: %s\n", s.KBID)
	fmt.Fprintf(w, "State:          %s\n", s.State)
	if s.StartedAt != nil {
		fmt.Fprintf(w, "Running since:  %s\n", s.StartedAt.Format(time.RFC3339))
	}
	if s.Last != nil {
		fmt.Fprintln(w, "Last run:")
		printSyncResult(w, s.Last)
	}
}

func printSyncResult(w io.Writer, r *domain.SyncResult) {
	fmt.Fprintf(w, "  State:    %s", r.State)
	if r.Partial {
		fmt.Fprint(w, " (partial)")
	}
	fmt.Fprintln(w)
	if r.Reason != "" {
		fmt.Fprintf(w, "  Reason:   %s\n", r.Reason)
	}
	fmt.Fprintf(w, "  Trigger:  %s\n", r.Trigger)
	fmt.Fprintf(w, "  Finished: %s (%s)\n", r.FinishedAt.Format(time.RFC3339), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	n := r.Counters
	fmt.Fprintf(w, "  Records:  %d in %d pages, %d created, %d replaced, %d removed, %d skipped, %d failed\n",
		n.Records, n.Pages, n.Created, n.Replaced, n.Removed, n.Skipped, n.Failed)
}

func syncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <kb-id>",
		Short: "Show the sync state and the last result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var status domain.SyncStatus
			if err := c.GetJSON(cmd.Context(), syncPath(args[0]), &status); err != nil {
				return err
			}
			return render(cmd, status, func(w io.Writer) { printSyncStatus(w, status) })
		},
	}
}

func syncCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <kb-id>",
		Short: "Cancel the running sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var out syncCancelled
			if err := c.PostJSON(cmd.Context(), syncPath(args[0])+"/cancel", nil, &out); err != nil {
				return err
			}
			return render(cmd, out, func(w io.Writer) {
				if !out.Stopped {
					fmt.Fprintln(w, "Cancellation requested; the run is still winding down")
					return
				}
				fmt.Fprintln(w, "Sync stopped")
				if out.Result != nil {
					printSyncResult(w, out.Result)
				}
			})
		},
	}
}

func syncResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <kb-id>",
		Short: "Forget the sync cursor so the next run starts from scratch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), syncPath(args[0])+"/cursor"); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Sync cursor reset")
			return nil
		},
	}
}

func syncRunningCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "running",
		Short: "List syncs currently running",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var running []domain.SyncStatus
			if err := c.GetJSON(cmd.Context(), "/syncs", &running); err != nil {
				return err
			}
			return render(cmd, running, func(w io.Writer) {
				if len(running) == 0 {
					fmt.Fprintln(w, "No syncs running")
					return
				}
				for _, s := range running {
					since := ""
					if s.StartedAt != nil {
						since = time.Since(*s.StartedAt).Round(time.Second).String()
					}
					fmt.Fprintf(w, "%s  %-8s  %s\n", s.KBID, s.Kind, since)
				}
			})
		},
	}
}
