package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document from the library",
		Long: `Delete a document and any queued sync operations for it.

Deleting does not remove an already-published copy from the catalog;
unpublish first if the document should disappear remotely too.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, args[0], cmd)
		},
	}
}

func runDelete(opts *RootOptions, id string, cmd *cobra.Command) error {
	app, err := openApp(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.svc.DeleteDocument(cmd.Context(), id); err != nil {
		return WrapExitError(ExitCommandError, "delete", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Print(map[string]string{"deleted": id}, func(w io.Writer) {
		fmt.Fprintf(w, "deleted %s\n", id)
	})
}
