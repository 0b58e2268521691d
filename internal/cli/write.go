package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	apperrors "github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/models"
	"github.com/virtuallab/labsync/internal/offline"
)

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	CacheKey string
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write <kind> <json>",
		Short: "Send a write, queueing it if the remote cannot take it now",
		Long: `Send one mutation through the sync facade. The write goes out directly
when the remote is reachable and offline mode is off; otherwise it is queued
and replayed by the next sync.

Kinds: submit-quiz-result, update-progress, save-simulation-run

Examples:
  labsync write update-progress '{"moduleId":"m1","progress":50}'
  labsync write submit-quiz-result '{"quiz_id":"q1","score":8}' --cache-as results/q1`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, cmd, models.ActionKind(args[0]), args[1])
		},
	}

	cmd.Flags().StringVar(&opts.CacheKey, "cache-as", "", "also cache the payload under this key")

	return cmd
}

func runWrite(opts *WriteOptions, cmd *cobra.Command, kind models.ActionKind, body string) error {
	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if !json.Valid([]byte(body)) {
		return out.Error(ExitCommandError, "invalid payload",
			apperrors.New(apperrors.ErrInvalid, "payload is not valid JSON"))
	}

	app, err := loadApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	app.CheckConnectivity(ctx)

	var wopts []offline.WriteOption
	if opts.CacheKey != "" {
		wopts = append(wopts, offline.CacheAs(opts.CacheKey, -1))
	}
	res, err := app.Service.Write(ctx, kind, json.RawMessage(body), nil, wopts...)
	if err != nil {
		return out.Error(ExitFailure, "write failed", err)
	}

	data := map[string]interface{}{"outcome": res.Outcome}
	if res.ActionID != "" {
		data["action_id"] = res.ActionID
	}
	return out.Success(data, func(w io.Writer) {
		switch res.Outcome {
		case offline.OutcomeQueued:
			fmt.Fprintf(w, "Queued as %s (%v)\n", res.ActionID, res.RemoteErr)
		default:
			fmt.Fprintln(w, "Sent")
		}
	})
}
