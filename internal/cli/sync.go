package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/virtuallab/labsync/internal/models"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued writes now",
		Long: `Probe the remote once and run a single drain pass over the queue.

Runs even when offline mode is enabled. If the remote is unreachable the
pass stops before the first action and everything stays queued.

Examples:
  labsync sync
  labsync sync --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
	return cmd
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	app, err := loadApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	online := app.CheckConnectivity(ctx)
	result, _, err := app.Service.TriggerSync(ctx)
	if err != nil {
		return out.Error(ExitFailure, "sync failed", err)
	}

	return out.Success(result, func(w io.Writer) {
		if !online {
			fmt.Fprintln(w, "Remote unreachable, nothing sent.")
		}
		printSyncResult(w, result)
	})
}

func printSyncResult(w io.Writer, r *models.SyncResult) {
	fmt.Fprintf(w, "Synced:    %d\n", r.SyncedItems)
	fmt.Fprintf(w, "Remaining: %d\n", r.RemainingItems)
	if r.Aborted {
		fmt.Fprintln(w, "Pass stopped early; remaining actions were not attempted.")
	}
	for _, f := range r.PermanentFailures {
		fmt.Fprintf(w, "Dropped:   %s (%s) [%s] %s\n", f.Action.ID, f.Action.Kind, f.Code, f.Reason)
	}
	fmt.Fprintf(w, "Duration:  %s\n", r.Duration)
}
