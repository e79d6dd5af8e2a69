package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle now",
		Long: `Drain the sync queue against the catalog once.

When the catalog is unreachable the cycle is a no-op and the queue is
left untouched.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	app, err := openApp(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.coord.SyncNow(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "sync cycle", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	printErr := formatter.Print(result, func(w io.Writer) {
		if result.Offline {
			fmt.Fprintln(w, "offline, nothing synced")
			return
		}
		fmt.Fprintf(w, "completed %d, retried %d, failed %d, deferred %d\n",
			result.Completed, result.Retried, result.Failed, result.Deferred)
	})
	if printErr != nil {
		return printErr
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d operation(s) failed", result.Failed))
	}
	return nil
}
