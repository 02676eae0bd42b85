// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package backup

import (
	"context"
	"time"

	"github.com/mwhitman/coursevault/internal/logging"
)

// Scheduler runs interval backups as a supervised service. It implements
// suture's Serve contract: Serve blocks until the context is canceled and
// the supervisor restarts it if it ever returns early.
type Scheduler struct {
	manager  *Manager
	interval time.Duration
}

// NewScheduler builds an interval backup service.
func NewScheduler(manager *Manager, interval time.Duration) *Scheduler {
	return &Scheduler{manager: manager, interval: interval}
}

// String names the service in supervisor logs.
func (s *Scheduler) String() string { return "backup-scheduler" }

// Serve runs scheduled backups until the context is canceled.
func (s *Scheduler) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.interval).Msg("Backup scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.manager.Create(ctx, TriggerScheduled); err != nil {
				logging.Error().Err(err).Msg("Scheduled backup failed")
			}
		}
	}
}
