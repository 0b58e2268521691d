package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/models"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit pending writes",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueRemoveCommand(rootOpts))
	cmd.AddCommand(newQueueClearCommand(rootOpts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List pending writes, oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

			app, err := loadApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			actions, err := app.Queue.List(ctx)
			if err != nil {
				return out.Error(ExitCommandError, "failed to read queue", err)
			}
			return out.Success(actions, func(w io.Writer) {
				printActions(w, actions, opts.Verbose)
			})
		},
	}
}

func printActions(w io.Writer, actions []models.QueuedAction, withPayload bool) {
	if len(actions) == 0 {
		fmt.Fprintln(w, "Queue is empty.")
		return
	}
	for _, a := range actions {
		enqueued := time.UnixMilli(a.EnqueuedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "%s  %-20s  %s  retries=%d\n", a.ID, a.Kind, enqueued, a.RetryCount)
		if withPayload {
			fmt.Fprintf(w, "    %s\n", a.Payload)
		}
	}
}

func newQueueRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Discard one pending write",
		Long: `Discard one pending write without sending it.

Examples:
  labsync queue remove 01927c3e-5b6a-7d1e-9f20-3a4b5c6d7e8f`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

			app, err := loadApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			id := args[0]
			removed, err := app.Queue.Remove(ctx, id)
			if err != nil {
				return out.Error(ExitCommandError, "failed to update queue", err)
			}
			if !removed {
				return out.Error(ExitFailure, "not found",
					apperrors.Newf(apperrors.ErrInvalid, "no queued action %s", id))
			}
			return out.Success(map[string]interface{}{"removed": id}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %s\n", id)
			})
		},
	}
}

func newQueueClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear",
		Short:         "Discard every pending write",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

			app, err := loadApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.Queue.Clear(ctx)
			if err != nil {
				return out.Error(ExitCommandError, "failed to clear queue", err)
			}
			return out.Success(map[string]interface{}{"removed": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %d pending write(s)\n", n)
			})
		},
	}
}
