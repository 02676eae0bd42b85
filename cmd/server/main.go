// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

// Package main is the entry point for the Coursevault server.
//
// Coursevault is the administrative backend for a training platform:
// users, groups, courses, viewing logs, and instructors, served over a
// REST API backed by a tiered persistence layer (in-process cache, durable
// JSON files, optional remote key/value service).
//
// # Startup order
//
//  1. Configuration: Koanf v2 layered sources (defaults, config.yaml,
//     environment variables)
//  2. Logging: zerolog, JSON by default
//  3. Journal: BadgerDB operational event journal (optional)
//  4. Backends: durable-file backend (always), remote key/value backend
//     (when REMOTE_KV_URL and REMOTE_KV_TOKEN are set)
//  5. Coordinator, Reconciler, BackupManager, DiagnosticProbe
//  6. Supervisor: backup scheduler and drift monitor under suture
//  7. HTTP server with graceful shutdown on SIGINT/SIGTERM
//
// # Configuration
//
// Key environment variables:
//
//	DATA_DIR          directory for the durable-file backend
//	RUNTIME_MODE      local | remote (default active backend)
//	REMOTE_KV_URL     base URL of the Redis-compatible REST service
//	REMOTE_KV_TOKEN   bearer credential for the remote service
//	BACKUP_ENABLED    enable interval backups
//	LOG_LEVEL         trace | debug | info | warn | error
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/thejerf/suture/v4"

	"github.com/mwhitman/coursevault/internal/api"
	"github.com/mwhitman/coursevault/internal/backup"
	"github.com/mwhitman/coursevault/internal/config"
	"github.com/mwhitman/coursevault/internal/diag"
	"github.com/mwhitman/coursevault/internal/journal"
	"github.com/mwhitman/coursevault/internal/logging"
	"github.com/mwhitman/coursevault/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Configuration load failed")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("mode", cfg.Store.RuntimeMode).Msg("Coursevault starting")

	events := store.NopSink()
	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path, cfg.Journal.TTL)
		if err != nil {
			logging.Fatal().Err(err).Msg("Journal open failed")
		}
		defer func() { _ = jnl.Close() }()
		events = jnl
	}

	fileBackend, err := store.NewFileBackend(cfg.Store.DataDir, events)
	if err != nil {
		logging.Fatal().Err(err).Msg("File backend init failed")
	}

	var remoteBackend store.Backend
	if cfg.RemoteKV.Configured() {
		remoteBackend = store.NewRemoteBackend(store.RemoteConfig{
			URL:        cfg.RemoteKV.URL,
			Token:      cfg.RemoteKV.Token,
			Namespace:  cfg.RemoteKV.Namespace,
			Timeout:    cfg.RemoteKV.Timeout,
			MaxRetries: cfg.RemoteKV.MaxRetries,
		}, events)
		logging.Info().Str("namespace", cfg.RemoteKV.Namespace).Msg("Remote key/value backend configured")
	}

	cache := store.NewCache()
	coord := store.NewCoordinator(cache, fileBackend, remoteBackend, cfg.Store.RuntimeMode, events)
	reconciler := store.NewReconciler(coord, events)
	backups := backup.NewManager(coord, events)

	var eventSource diag.EventSource
	if jnl != nil {
		eventSource = jnl
	}
	probe := diag.NewProbe(coord, reconciler, eventSource, cfg.Journal.RecentLimit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := suture.New("coursevault", suture.Spec{
		EventHook: func(ev suture.Event) {
			logging.Warn().Str("event", ev.String()).Msg("Supervisor event")
		},
	})
	if cfg.Backup.Enabled {
		sup.Add(backup.NewScheduler(backups, cfg.Backup.Interval))
	}
	if cfg.Store.DriftCheckInterval > 0 {
		sup.Add(diag.NewDriftMonitor(reconciler, cfg.Store.DriftCheckInterval))
	}
	supErr := sup.ServeBackground(ctx)

	handler := api.NewHandler(coord, reconciler, backups, probe)
	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewRouter(handler, api.RouterConfig{
			RateLimitReqs:   cfg.Server.RateLimitReqs,
			RateLimitWindow: cfg.Server.RateLimitWindow,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	stop()
	if err := <-supErr; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor exited with error")
	}

	logging.Info().Msg("Coursevault stopped")
}
