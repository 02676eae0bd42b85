// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	// RateLimitReqs requests per RateLimitWindow per client IP on data
	// endpoints. Health endpoints get 10x this allowance so monitoring
	// can poll freely.
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// NewRouter assembles the admin API.
func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	r := chi.NewRouter()

	// Global middleware, applied in order.
	r.Use(RequestID())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogging())
	r.Use(PrometheusMetrics())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs*10, cfg.RateLimitWindow))
		r.Get("/live", handler.HealthLive)
		r.Get("/ready", handler.HealthReady)
		r.Get("/", handler.Health)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))

		r.Route("/collections/{collection}", func(r chi.Router) {
			r.Get("/", handler.CollectionList)
			r.Post("/", handler.CollectionCreate)
			r.Post("/bulk", handler.CollectionBulkSet)
			r.Get("/{id}", handler.CollectionGet)
			r.Put("/{id}", handler.CollectionUpdate)
			r.Delete("/{id}", handler.CollectionDelete)
		})

		r.Get("/diagnostics/{collection}", handler.Divergence)
		r.Post("/reconcile/{collection}", handler.Reconcile)

		r.Route("/backup", func(r chi.Router) {
			r.Get("/", handler.BackupLatest)
			r.Post("/", handler.BackupCreate)
			r.Post("/restore", handler.BackupRestore)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
