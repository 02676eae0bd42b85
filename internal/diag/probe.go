// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

// Package diag aggregates connectivity tests, consistency summaries, and
// recent operational events into a single health object for operators. The
// probe is read-only: it diagnoses and reports, never repairs.
package diag

import (
	"context"
	"time"

	"github.com/mwhitman/coursevault/internal/store"
)

// EventSource reads back recent operational events. *journal.Journal
// implements it; a nil source simply omits events from the health object.
type EventSource interface {
	Recent(limit int) ([]store.Event, error)
}

// Environment describes which backends are configured and active.
type Environment struct {
	RuntimeMode      string `json:"runtime_mode"`
	ActiveBackend    string `json:"active_backend"`
	RemoteConfigured bool   `json:"remote_configured"`
}

// BackendStatus separates "available" (configuration present) from
// "connected" (a live round trip just succeeded).
type BackendStatus struct {
	Available bool   `json:"available"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// Health is the full diagnostic object. A probe is healthy iff every
// collection reports zero divergence and the remote backend, when
// configured, is connected.
type Health struct {
	Status      string                             `json:"status"`
	Environment Environment                        `json:"environment"`
	Backends    map[string]BackendStatus           `json:"backends"`
	Collections map[string]*store.DivergenceReport `json:"collections"`
	AtRisk      map[string]store.RiskEntry         `json:"at_risk"`
	Events      []store.Event                      `json:"recent_events,omitempty"`
	ObservedAt  time.Time                          `json:"observed_at"`
}

// Probe aggregates diagnostics over the coordinator's tiers.
type Probe struct {
	coord       *store.Coordinator
	reconciler  *store.Reconciler
	events      EventSource
	recentLimit int
}

// NewProbe builds a diagnostic probe. events may be nil.
func NewProbe(coord *store.Coordinator, reconciler *store.Reconciler, events EventSource, recentLimit int) *Probe {
	if recentLimit <= 0 {
		recentLimit = 100
	}
	return &Probe{
		coord:       coord,
		reconciler:  reconciler,
		events:      events,
		recentLimit: recentLimit,
	}
}

// Health runs connectivity tests against every configured backend,
// diagnoses every collection, and reports collections currently at risk of
// loss. Any divergence, an unreachable configured remote, or at-risk
// collections degrade the status.
func (p *Probe) Health(ctx context.Context) *Health {
	h := &Health{
		Status:      "healthy",
		Backends:    make(map[string]BackendStatus),
		Collections: make(map[string]*store.DivergenceReport),
		AtRisk:      p.coord.AtRisk(),
		ObservedAt:  time.Now().UTC(),
	}

	h.Environment = Environment{
		RuntimeMode:   p.coord.Mode(),
		ActiveBackend: p.coord.Active().Name(),
	}

	for _, backend := range p.coord.Backends() {
		status := BackendStatus{Available: backend.Available()}
		if err := backend.TestConnection(ctx); err != nil {
			status.Error = err.Error()
		} else {
			status.Connected = true
		}
		h.Backends[backend.Name()] = status

		if backend.Name() == store.TierRemote {
			h.Environment.RemoteConfigured = true
			if !status.Connected {
				h.Status = "degraded"
			}
		}
	}

	for _, col := range store.Collections {
		report, err := p.reconciler.Diagnose(ctx, col.Name)
		if err != nil {
			h.Status = "degraded"
			continue
		}
		h.Collections[col.Name] = report
		if report.Divergent {
			h.Status = "degraded"
		}
	}

	if len(h.AtRisk) > 0 {
		h.Status = "degraded"
	}

	if p.events != nil {
		if events, err := p.events.Recent(p.recentLimit); err == nil {
			h.Events = events
		}
	}

	return h
}
