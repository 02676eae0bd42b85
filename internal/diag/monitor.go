// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package diag

import (
	"context"
	"time"

	"github.com/mwhitman/coursevault/internal/logging"
	"github.com/mwhitman/coursevault/internal/store"
)

// DriftMonitor periodically diagnoses every collection so drift between
// tiers shows up in metrics and logs without waiting for an operator to
// ask. It only observes; repair stays an explicit operator action.
//
// It implements suture's Serve contract.
type DriftMonitor struct {
	reconciler *store.Reconciler
	interval   time.Duration
}

// NewDriftMonitor builds the background drift diagnosis service.
func NewDriftMonitor(reconciler *store.Reconciler, interval time.Duration) *DriftMonitor {
	return &DriftMonitor{reconciler: reconciler, interval: interval}
}

// String names the service in supervisor logs.
func (m *DriftMonitor) String() string { return "drift-monitor" }

// Serve diagnoses all collections on an interval until the context is
// canceled.
func (m *DriftMonitor) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", m.interval).Msg("Drift monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			reports, err := m.reconciler.DiagnoseAll(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("Drift diagnosis failed")
				continue
			}
			for name, report := range reports {
				if report.Divergent {
					logging.Warn().
						Str("collection", name).
						Int("mismatches", len(report.Mismatches)).
						Msg("Tier divergence detected")
				}
			}
		}
	}
}
