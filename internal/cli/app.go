package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/carrel/internal/catalog"
	"github.com/roach88/carrel/internal/config"
	"github.com/roach88/carrel/internal/coordinator"
	"github.com/roach88/carrel/internal/library"
	"github.com/roach88/carrel/internal/queue"
	"github.com/roach88/carrel/internal/storage"
)

// app bundles the wired-up services a command needs. Every command opens
// one, does its work, and closes it.
type app struct {
	cfg   config.Config
	db    *storage.DB
	docs  *library.Store
	ops   *queue.Store
	svc   *library.Service
	coord *coordinator.Coordinator
}

func openApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "create data directory", err)
	}
	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}

	logger := slog.Default()
	docs := library.NewStore(db)
	ops := queue.New(db)
	svc := library.NewService(docs, ops, logger)

	client := catalog.NewClient(cfg.Catalog.BaseURL, catalog.StaticToken(cfg.Catalog.Token))
	prober := coordinator.HTTPProber{URL: cfg.Catalog.BaseURL}
	coord := coordinator.New(ops, docs, client, prober, logger,
		coordinator.WithInterval(cfg.Sync.Interval),
		coordinator.WithMaxRetries(cfg.Sync.MaxRetries),
		coordinator.WithBackoffBase(cfg.Sync.BackoffBase),
	)
	svc.SetWaker(coord)

	return &app{
		cfg:   cfg,
		db:    db,
		docs:  docs,
		ops:   ops,
		svc:   svc,
		coord: coord,
	}, nil
}

func (a *app) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
