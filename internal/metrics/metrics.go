// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

// Package metrics provides Prometheus instrumentation for the persistence
// layer and the admin API: store operation counts, snapshot save/load
// outcomes per tier, divergence and at-risk gauges, reconciliation runs,
// remote client lifecycle, backups, and HTTP request metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store operation metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Total number of coordinator mutations applied to the cache",
		},
		[]string{"operation", "collection"},
	)

	SnapshotSaveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_snapshot_save_duration_seconds",
			Help:    "Duration of snapshot saves per backend tier",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier", "collection"},
	)

	SnapshotSaveFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_snapshot_save_failures_total",
			Help: "Total number of failed snapshot saves per backend tier",
		},
		[]string{"tier", "collection"},
	)

	SnapshotLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_snapshot_loads_total",
			Help: "Total number of snapshot loads per backend tier and outcome",
		},
		[]string{"tier", "collection", "outcome"},
	)

	// Consistency metrics
	CollectionsAtRisk = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_collections_at_risk",
			Help: "Number of collections whose latest state is cache-only",
		},
	)

	DivergenceDetected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "store_divergence_mismatches",
			Help: "Mismatches found by the most recent divergence diagnosis per collection",
		},
		[]string{"collection"},
	)

	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_reconcile_runs_total",
			Help: "Total number of reconciliation repairs",
		},
		[]string{"collection", "strategy", "outcome"},
	)

	// Remote backend metrics
	RemoteClientReinits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remote_kv_client_reinits_total",
			Help: "Total number of remote key/value client reinitializations",
		},
	)

	RemoteRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_kv_retries_total",
			Help: "Total number of retried remote key/value commands",
		},
		[]string{"command"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	// Backup metrics
	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backups_total",
			Help: "Total number of consolidated backups by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	BackupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backup_duration_seconds",
			Help:    "Duration of consolidated backup creation",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of in-flight API requests",
		},
	)
)
