package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewOfflineCommand creates the offline command group.
func NewOfflineCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offline",
		Short: "Control offline mode",
		Long: `Offline mode makes every write queue locally and suspends automatic
sync, even while the remote is reachable. Turning it off replays the queue
right away when the remote can be reached.`,
	}
	cmd.AddCommand(newOfflineSetCommand(rootOpts, "on", true))
	cmd.AddCommand(newOfflineSetCommand(rootOpts, "off", false))
	cmd.AddCommand(newOfflineStatusCommand(rootOpts))
	return cmd
}

func newOfflineSetCommand(opts *RootOptions, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         "Turn offline mode " + use,
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
			// Close waits for the pass that turning offline mode off may start.
			defer app.Close()

			if !enabled {
				app.CheckConnectivity(ctx)
			}
			if err := app.Service.SetOfflineMode(ctx, enabled); err != nil {
				return out.Error(ExitCommandError, "failed to save offline mode", err)
			}
			return out.Success(map[string]interface{}{"enabled": enabled}, func(w io.Writer) {
				fmt.Fprintf(w, "Offline mode %s\n", onOff(enabled))
			})
		},
	}
}

func newOfflineStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show whether offline mode is on",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

			app, err := loadApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			enabled, err := app.Service.IsOfflineModeEnabled(cmd.Context())
			if err != nil {
				return out.Error(ExitCommandError, "failed to read offline mode", err)
			}
			return out.Success(map[string]interface{}{"enabled": enabled}, func(w io.Writer) {
				fmt.Fprintf(w, "Offline mode %s\n", onOff(enabled))
			})
		},
	}
}
