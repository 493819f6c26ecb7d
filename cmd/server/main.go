// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

// Command server runs the data portability service: backup, restore and
// purge of business records over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/api"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/backup"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/config"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/logging"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/operations"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/progress"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/purge"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/restore"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/store"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("service failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("driver", cfg.Database.Driver).
		Str("backup_dir", cfg.Backup.Dir).
		Msg("starting portability service")

	exclusions := schema.DefaultExclusions
	if len(cfg.Backup.ExcludeEntities) > 0 {
		exclusions = cfg.Backup.ExcludeEntities
	}
	catalog := schema.NewCatalog(exclusions...)
	schema.RegisterBuiltin(catalog)
	catalog.Validate()
	for _, w := range catalog.Warnings() {
		logging.Warn().Str("detail", w).Msg("catalog warning")
	}

	st, closeStore, err := openStore(cfg, catalog)
	if err != nil {
		return err
	}
	defer closeStore()

	progStore, closeProgress, err := openProgress(cfg)
	if err != nil {
		return err
	}
	defer closeProgress()

	repo, err := backup.NewRepository(cfg.Backup.Dir)
	if err != nil {
		return err
	}

	serializer := backup.NewSerializer(st, catalog, backup.SerializerConfig{
		ChunkFloor:      cfg.Backup.ChunkFloor,
		ChunkCeiling:    cfg.Backup.ChunkCeiling,
		ChunksPerSecond: cfg.Backup.ChunksPerSecond,
	})
	planner := purge.NewPlanner(st, catalog)
	engine := restore.NewEngine(st, catalog, planner)
	manager := operations.NewManager(st, catalog, serializer, engine, planner, progStore, repo)

	server := api.NewServer(manager, cfg.Server, cfg.Restore)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		logging.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logging.Info().Msg("shutdown complete")
	return nil
}

func openStore(cfg *config.Config, catalog *schema.Catalog) (store.Store, func(), error) {
	if cfg.Database.Driver == "memory" {
		mem := store.NewMemory(catalog)
		return mem, func() {}, nil
	}
	db, err := store.OpenDuckDB(store.DuckDBConfig{
		Path:      cfg.Database.Path,
		MaxMemory: cfg.Database.MaxMemory,
		Threads:   cfg.Database.Threads,
	}, catalog)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	closer := func() {
		if err := db.Close(); err != nil {
			logging.Err(err).Msg("close database")
		}
	}
	return db, closer, nil
}

func openProgress(cfg *config.Config) (*progress.Store, func(), error) {
	opts := []progress.Option{}
	closer := func() {}
	if cfg.Progress.PersistDir != "" {
		persister, closeFn, err := progress.OpenBadgerPersister(cfg.Progress.PersistDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open progress persistence: %w", err)
		}
		opts = append(opts, progress.WithPersister(persister))
		closer = func() {
			if err := closeFn(); err != nil {
				logging.Err(err).Msg("close progress persistence")
			}
		}
	}
	return progress.NewStore(cfg.Progress.WatchdogTimeout, cfg.Progress.StallTimeout, opts...), closer, nil
}
