package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	apperrors "github.com/virtuallab/labsync/internal/errors"
)

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and invalidate cached reads",
	}
	cmd.AddCommand(newCacheListCommand(rootOpts))
	cmd.AddCommand(newCacheGetCommand(rootOpts))
	cmd.AddCommand(newCacheRemoveCommand(rootOpts))
	return cmd
}

func newCacheListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List cached keys",
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

			keys, err := app.Cache.Keys(cmd.Context())
			if err != nil {
				return out.Error(ExitCommandError, "failed to read cache", err)
			}
			return out.Success(keys, func(w io.Writer) {
				for _, k := range keys {
					fmt.Fprintln(w, k)
				}
			})
		},
	}
}

func newCacheGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a cached value if it has not expired",
		Long: `Print the cached value stored under key. Expired entries are evicted
and reported as missing.

Examples:
  labsync cache get quizzes/m1
  labsync cache get quizzes/m1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

			app, err := loadApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			key := args[0]
			data, ok, err := app.Cache.Get(cmd.Context(), key)
			if err != nil {
				return out.Error(ExitCommandError, "failed to read cache", err)
			}
			if !ok {
				return out.Error(ExitFailure, "not found",
					apperrors.Newf(apperrors.ErrInvalid, "no cached value for %s", key))
			}
			return out.Success(data, func(w io.Writer) {
				var pretty bytes.Buffer
				if err := json.Indent(&pretty, data, "", "  "); err != nil {
					w.Write(data)
				} else {
					pretty.WriteTo(w)
				}
				fmt.Fprintln(w)
			})
		},
	}
}

func newCacheRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <key>",
		Short:         "Drop a cached value",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

			app, err := loadApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			key := args[0]
			if err := app.Cache.Remove(cmd.Context(), key); err != nil {
				return out.Error(ExitCommandError, "failed to update cache", err)
			}
			return out.Success(map[string]interface{}{"removed": key}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %s\n", key)
			})
		},
	}
}
