package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/carrel/internal/library"
)

// syncStatus is the JSON shape the status command emits.
type syncStatus struct {
	Syncing   bool              `json:"syncing"`
	Pending   int               `json:"pending"`
	Failed    int               `json:"failed"`
	LastDrain *time.Time        `json:"last_drain,omitempty"`
	Documents []documentSummary `json:"documents"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync queue status",
		Long: `Show queue counts plus every document that is not fully synced.

A clean library prints zero pending and zero failed and lists nothing.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	app, err := openApp(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	status, err := app.coord.Status(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "read status", err)
	}
	docs, err := app.svc.ListDocuments(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "list documents", err)
	}

	out := syncStatus{
		Syncing:   status.IsSyncing,
		Pending:   status.Pending,
		Failed:    status.Failed,
		Documents: []documentSummary{},
	}
	if !status.LastDrain.IsZero() {
		t := status.LastDrain
		out.LastDrain = &t
	}
	for _, doc := range docs {
		if doc.SyncStatus != library.SyncSynced {
			out.Documents = append(out.Documents, summarize(doc))
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Print(out, func(w io.Writer) {
		fmt.Fprintf(w, "pending: %d\nfailed: %d\n", out.Pending, out.Failed)
		for _, s := range out.Documents {
			line := fmt.Sprintf("  %s  %s  %s", s.ID, s.SyncStatus, s.Title)
			if s.SyncError != nil {
				line += "  (" + *s.SyncError + ")"
			}
			fmt.Fprintln(w, line)
		}
	})
}
