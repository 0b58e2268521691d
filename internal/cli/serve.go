package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/virtuallab/labsync/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon and local API",
		Long: `Run connectivity probing, background sync and the local HTTP API.

Queued writes are replayed automatically after the remote becomes reachable
again, and at the configured queue interval while work is pending. Clients
can follow sync and connectivity events on the /ws WebSocket.

Examples:
  labsync serve
  labsync serve --addr 127.0.0.1:9000 --config ./labsync.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	app, err := loadApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	addr := app.Config.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	srv := server.New(server.Deps{
		Service:   app.Service,
		Scheduler: app.Scheduler,
		Engine:    app.Engine,
		Queue:     app.Queue,
		Monitor:   app.Monitor,
		Metrics:   app.Metrics,
		Logger:    app.Logger,
	})
	defer srv.Close()

	// The scheduler subscribes before the first probe so an initial online
	// result counts as a reconnect and flushes leftovers from the last run.
	app.Scheduler.Start(ctx)
	app.Prober.Start(ctx)

	fmt.Fprintf(cmd.OutOrStdout(), "labsync serving on %s\n", addr)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return WrapExitError(ExitCommandError, "server failed", err)
	}
	return nil
}
