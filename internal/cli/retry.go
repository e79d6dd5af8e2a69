package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	var noSync bool

	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry failed sync operations for a document",
		Long: `Reset the retry budget of a document's failed operations and queue
them again. By default a sync cycle runs immediately.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(rootOpts, args[0], noSync, cmd)
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "queue only, do not sync now")
	return cmd
}

func runRetry(opts *RootOptions, id string, noSync bool, cmd *cobra.Command) error {
	app, err := openApp(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	if err := app.svc.Retry(ctx, id); err != nil {
		return WrapExitError(ExitCommandError, "retry", err)
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
