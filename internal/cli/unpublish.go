package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/carrel/internal/library"
)

// NewUnpublishCommand creates the unpublish command.
func NewUnpublishCommand(rootOpts *RootOptions) *cobra.Command {
	var noSync bool

	cmd := &cobra.Command{
		Use:           "unpublish <id>",
		Short:         "Queue removal of a document from the catalog",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnpublish(rootOpts, args[0], noSync, cmd)
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "queue only, do not sync now")
	return cmd
}

func runUnpublish(opts *RootOptions, id string, noSync bool, cmd *cobra.Command) error {
	app, err := openApp(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	if err := app.svc.Unpublish(ctx, id); err != nil {
		if errors.Is(err, library.ErrSyncInFlight) {
			return WrapExitError(ExitFailure, "unpublish", err)
		}
		return WrapExitError(ExitCommandError, "unpublish", err)
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
	return formatter.Print(summarize(doc), func(w io.Writer) {
		fmt.Fprintf(w, "%s: %s\n", doc.ID, doc.SyncStatus)
	})
}
