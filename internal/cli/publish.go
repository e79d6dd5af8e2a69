package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/carrel/internal/library"
)

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	var noSync bool

	cmd := &cobra.Command{
		Use:   "publish <id>",
		Short: "Queue a document for publication to the catalog",
		Long: `Queue a document for publication.

The document snapshot is stored durably and pushed on the next sync cycle.
By default a sync cycle runs immediately; --no-sync leaves the operation
queued for later (e.g. when offline).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(rootOpts, args[0], noSync, cmd)
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "queue only, do not sync now")
	return cmd
}

func runPublish(opts *RootOptions, id string, noSync bool, cmd *cobra.Command) error {
	app, err := openApp(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	if err := app.svc.Publish(ctx, id); err != nil {
		switch {
		case errors.Is(err, library.ErrNotFound):
			return WrapExitError(ExitCommandError, "publish", err)
		case errors.Is(err, library.ErrSyncInFlight):
			return WrapExitError(ExitFailure, "publish", err)
		default:
			return WrapExitError(ExitCommandError, "publish", err)
		}
	}

	if !noSync {
		if err := syncAndCheck(ctx, app); err != nil {
			return err
		}
	}

	doc, err := app.svc.GetDocument(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "load document", err)
	}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := formatter.Print(summarize(doc), func(w io.Writer) {
		fmt.Fprintf(w, "%s: %s\n", doc.ID, doc.SyncStatus)
	}); err != nil {
		return err
	}
	if doc.SyncStatus == library.SyncFailed {
		return NewExitError(ExitFailure, "publish failed")
	}
	return nil
}
