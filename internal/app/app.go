// Package app assembles the stores, repositories and services shared by the fitsync binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/fitsync/internal/batch"
	"example.com/fitsync/internal/changefeed"
	"example.com/fitsync/internal/config"
	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/docstore/memory"
	"example.com/fitsync/internal/docstore/postgres"
	"example.com/fitsync/internal/localstore"
	"example.com/fitsync/internal/migration"
	"example.com/fitsync/internal/platform/logger"
	"example.com/fitsync/internal/repository"
)

// App holds the constructed components. Pool is nil for the memory backend.
type App struct {
	Config   config.Config
	Pool     *pgxpool.Pool
	Remote   docstore.Store
	Hub      *changefeed.Hub
	Local    localstore.Store
	Repos    *repository.Repositories
	Migrator *migration.Orchestrator
	Executor *batch.Executor
}

// Open builds every component from cfg. owner resolves the authenticated owner per request.
func Open(ctx context.Context, cfg config.Config, owner repository.OwnerFunc, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg}

	switch cfg.RemoteStore {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store, err := postgres.New(ctx, pool, postgres.Config{Topic: cfg.ChangefeedTopic, MaxAttempts: cfg.TxMaxAttempts}, log)
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.Pool, a.Remote, a.Hub = pool, store, store.Hub()
	default:
		store := memory.New(log, memory.WithMaxAttempts(cfg.TxMaxAttempts))
		a.Remote, a.Hub = store, store.Hub()
	}

	local, err := localstore.Open(cfg.LocalStore, cfg.LocalStorePath, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Local = local

	a.Repos = repository.NewRepositories(a.Remote, owner, cfg.CacheFreshness, log)
	a.Migrator = migration.New(a.Local, a.Repos, migration.Config{
		Version:         cfg.MigrationVersion,
		WritesPerSecond: cfg.MigrationRate,
		Owner:           owner,
	}, log)
	a.Executor = batch.NewExecutor(a.Remote, owner, log, batch.WithEvictor(a.Repos))
	return a, nil
}

// Close releases the stores.
func (a *App) Close() error {
	var errs []error
	if a.Local != nil {
		errs = append(errs, a.Local.Close())
	}
	if a.Remote != nil {
		errs = append(errs, a.Remote.Close())
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	return errors.Join(errs...)
}
