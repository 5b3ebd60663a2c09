package app

import (
	"context"
	"fmt"
	"log/slog"

	"codereview/internal/config"
	"codereview/internal/db"
	"codereview/internal/engine"
	"codereview/internal/migrate"
	"codereview/internal/repo"
	"codereview/internal/repo/pgstore"
)

const DefaultActor = "local-user"

type Options struct {
	Workspace string
	Secrets   config.Secrets
	Logger    *slog.Logger
}

// App bundles the resolved config, the store and an engine bound to both.
type App struct {
	Config  *config.Config
	Secrets config.Secrets
	Store   repo.Store
	Engine  engine.Engine
	Logger  *slog.Logger
	Backend string
}

// Open resolves config from the workspace and opens storage. A database URL
// in the secrets selects Postgres; otherwise the workspace SQLite file is
// opened and migrated.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	store, backend, err := openStore(ctx, opts.Workspace, opts.Secrets.DatabaseURL)
	if err != nil {
		return nil, err
	}
	e := engine.New(store, cfg, opts.Secrets)
	e.Logger = logger
	logger.Debug("storage ready", "backend", backend)
	return &App{
		Config:  cfg,
		Secrets: opts.Secrets,
		Store:   store,
		Engine:  e,
		Logger:  logger,
		Backend: backend,
	}, nil
}

func openStore(ctx context.Context, workspace, databaseURL string) (repo.Store, string, error) {
	if databaseURL != "" {
		s, err := pgstore.Open(ctx, databaseURL)
		if err != nil {
			return nil, "", err
		}
		return s, "postgres", nil
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("migrate: %w", err)
	}
	return repo.Repo{DB: conn}, "sqlite", nil
}

func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
