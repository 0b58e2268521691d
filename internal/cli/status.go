package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/virtuallab/labsync/internal/models"
	"github.com/virtuallab/labsync/internal/sync/queue"
)

// StatusResult is the status command output.
type StatusResult struct {
	Online      bool                `json:"online"`
	OfflineMode bool                `json:"offline_mode"`
	LastSync    *time.Time          `json:"last_sync,omitempty"`
	Pending     int                 `json:"pending"`
	Queue       queue.Stats         `json:"queue"`
	CachedKeys  int                 `json:"cached_keys"`
	Handlers    []models.ActionKind `json:"handlers"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, offline mode and pending writes",
		Long: `Show whether the remote is reachable, whether offline mode is on, when
the last sync committed and what is waiting in the queue.

Examples:
  labsync status
  labsync status --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	app, err := loadApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	res := StatusResult{Online: app.CheckConnectivity(ctx)}
	if res.OfflineMode, err = app.Service.IsOfflineModeEnabled(ctx); err != nil {
		return out.Error(ExitCommandError, "failed to read offline mode", err)
	}
	if res.LastSync, err = app.Service.LastSyncTime(ctx); err != nil {
		return out.Error(ExitCommandError, "failed to read last sync time", err)
	}
	if res.Queue, err = app.Queue.Stats(ctx); err != nil {
		return out.Error(ExitCommandError, "failed to read queue", err)
	}
	res.Pending = res.Queue.Total
	keys, err := app.Cache.Keys(ctx)
	if err != nil {
		return out.Error(ExitCommandError, "failed to read cache", err)
	}
	res.CachedKeys = len(keys)
	res.Handlers = app.Handlers.Kinds()

	return out.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "Online:       %s\n", yesNo(res.Online))
		fmt.Fprintf(w, "Offline mode: %s\n", onOff(res.OfflineMode))
		if res.LastSync != nil {
			fmt.Fprintf(w, "Last sync:    %s\n", res.LastSync.Format(time.RFC3339))
		} else {
			fmt.Fprintln(w, "Last sync:    never")
		}
		fmt.Fprintf(w, "Pending:      %d\n", res.Pending)
		kinds := make([]string, 0, len(res.Queue.ByKind))
		for k := range res.Queue.ByKind {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-20s %d\n", k, res.Queue.ByKind[models.ActionKind(k)])
		}
		if res.Queue.Retrying > 0 {
			fmt.Fprintf(w, "Retrying:     %d\n", res.Queue.Retrying)
		}
		fmt.Fprintf(w, "Cached keys:  %d\n", res.CachedKeys)
		fmt.Fprintf(w, "Handlers:     %d registered\n", len(res.Handlers))
	})
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
