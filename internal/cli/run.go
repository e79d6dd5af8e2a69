package cli

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync coordinator until interrupted",
		Long: `Run the background sync loop.

The coordinator drains the queue immediately, then again on every
configured interval. Stop with Ctrl-C.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(rootOpts, cmd)
		},
	}
}

func runLoop(opts *RootOptions, cmd *cobra.Command) error {
	app, err := openApp(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("sync coordinator running",
		slog.String("catalog", app.cfg.Catalog.BaseURL),
		slog.Duration("interval", app.cfg.Sync.Interval))

	if err := app.coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "sync loop", err)
	}
	slog.Info("sync coordinator stopped")
	return nil
}
