package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/carrel/internal/library"
)

// documentSummary is the JSON row the list command emits.
type documentSummary struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Kind       string  `json:"kind"`
	Visibility string  `json:"visibility"`
	SyncStatus string  `json:"sync_status"`
	SyncError  *string `json:"sync_error,omitempty"`
	PublicID   *string `json:"public_id,omitempty"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List library documents",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	app, err := openApp(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	docs, err := app.svc.ListDocuments(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "list documents", err)
	}

	summaries := make([]documentSummary, 0, len(docs))
	for _, doc := range docs {
		summaries = append(summaries, summarize(doc))
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Print(summaries, func(w io.Writer) {
		if len(summaries) == 0 {
			fmt.Fprintln(w, "library is empty")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tKIND\tVISIBILITY\tSYNC")
		for _, s := range summaries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.Title, s.Kind, s.Visibility, s.SyncStatus)
		}
		tw.Flush()
	})
}

func summarize(doc *library.Document) documentSummary {
	return documentSummary{
		ID:         doc.ID,
		Title:      doc.Title,
		Kind:       string(doc.Kind),
		Visibility: string(doc.Visibility),
		SyncStatus: string(doc.SyncStatus),
		SyncError:  doc.SyncError,
		PublicID:   doc.PublicID,
	}
}
