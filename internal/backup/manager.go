// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

// Package backup produces and restores a single consolidated snapshot of
// every collection, for disaster recovery distinct from the ongoing
// tier-sync of the reconciler.
//
// A backup reads every collection through the coordinator's read path (so
// it sees exactly what the process serves, cache included) and is persisted
// through the active backend under a reserved name outside the live
// collection namespace. A restore replaces each cache snapshot and then
// saves it to the active backend, in that order, so restores are subject to
// the same best-effort persistence semantics as any other write.
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mwhitman/coursevault/internal/logging"
	"github.com/mwhitman/coursevault/internal/metrics"
	"github.com/mwhitman/coursevault/internal/store"
)

// ReservedName is the backend document name for the consolidated backup.
// It is deliberately outside the collection registry so a backup can never
// collide with live data.
const ReservedName = "backup"

// Triggers indicate what initiated a backup.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerPreRepair = "pre_repair"
)

// Backup is the consolidated snapshot object: every collection's
// serialized snapshot plus record counts, stamped with creation time.
type Backup struct {
	ID          string                     `json:"id"`
	Timestamp   time.Time                  `json:"timestamp"`
	Trigger     string                     `json:"trigger"`
	Collections map[string]json.RawMessage `json:"collections"`
	Counts      map[string]int             `json:"counts"`
}

// RestoreResult reports the per-collection persistence outcome of a
// restore.
type RestoreResult struct {
	BackupID  string          `json:"backup_id"`
	Restored  map[string]int  `json:"restored"`
	Persisted map[string]bool `json:"persisted"`
}

// Manager creates and restores consolidated backups.
type Manager struct {
	coord  *store.Coordinator
	events store.EventSink
}

// NewManager builds a backup manager over the coordinator.
func NewManager(coord *store.Coordinator, events store.EventSink) *Manager {
	if events == nil {
		events = store.NopSink()
	}
	return &Manager{coord: coord, events: events}
}

// Create reads every collection through the coordinator and persists the
// consolidated backup through the active backend under ReservedName.
func (m *Manager) Create(ctx context.Context, trigger string) (*Backup, error) {
	if trigger == "" {
		trigger = TriggerManual
	}
	start := time.Now()

	b := &Backup{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Trigger:     trigger,
		Collections: make(map[string]json.RawMessage, len(store.Collections)),
		Counts:      make(map[string]int, len(store.Collections)),
	}

	for _, col := range store.Collections {
		snap, err := m.coord.Snapshot(ctx, col.Name)
		if err != nil {
			metrics.BackupsTotal.WithLabelValues(trigger, store.OutcomeFailure).Inc()
			return nil, fmt.Errorf("read %s for backup: %w", col.Name, err)
		}
		data, err := store.MarshalSnapshot(col, snap)
		if err != nil {
			metrics.BackupsTotal.WithLabelValues(trigger, store.OutcomeFailure).Inc()
			return nil, err
		}
		b.Collections[col.Name] = data
		b.Counts[col.Name] = snap.Count()
	}

	payload, err := json.Marshal(b)
	if err != nil {
		metrics.BackupsTotal.WithLabelValues(trigger, store.OutcomeFailure).Inc()
		return nil, fmt.Errorf("marshal backup: %w", err)
	}

	if err := m.coord.Active().SaveRaw(ctx, ReservedName, payload); err != nil {
		metrics.BackupsTotal.WithLabelValues(trigger, store.OutcomeFailure).Inc()
		return nil, fmt.Errorf("persist backup: %w", err)
	}

	metrics.BackupsTotal.WithLabelValues(trigger, store.OutcomeSuccess).Inc()
	metrics.BackupDuration.Observe(time.Since(start).Seconds())
	logging.Info().
		Str("backup_id", b.ID).
		Str("trigger", trigger).
		Int("collections", len(b.Collections)).
		Msg("Consolidated backup created")
	return b, nil
}

// Latest loads the most recent consolidated backup from the active
// backend, or nil if none exists.
func (m *Manager) Latest(ctx context.Context) (*Backup, error) {
	data, found, err := m.coord.Active().LoadRaw(ctx, ReservedName)
	if err != nil {
		return nil, fmt.Errorf("load backup: %w", err)
	}
	if !found {
		return nil, nil
	}

	b := &Backup{}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	return b, nil
}

// Restore replaces each collection's cache snapshot from the backup and
// then saves it to the active backend. A failed save marks the collection
// Persisted=false in the result; the cache replacement still stands, the
// same risk window as any other write.
func (m *Manager) Restore(ctx context.Context, b *Backup) (*RestoreResult, error) {
	if b == nil {
		return nil, fmt.Errorf("no backup to restore")
	}

	result := &RestoreResult{
		BackupID:  b.ID,
		Restored:  make(map[string]int, len(b.Collections)),
		Persisted: make(map[string]bool, len(b.Collections)),
	}

	for name, raw := range b.Collections {
		col, ok := store.LookupCollection(name)
		if !ok {
			logging.Warn().Str("collection", name).Msg("Backup contains unknown collection, skipped")
			continue
		}
		snap, _, err := store.UnmarshalSnapshot(col, raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s snapshot in backup %s: %w", name, b.ID, err)
		}

		res, err := m.coord.Restore(ctx, name, snap)
		if err != nil {
			return nil, err
		}
		result.Restored[name] = snap.Count()
		result.Persisted[name] = res
	}

	logging.Info().Str("backup_id", b.ID).Msg("Backup restored")
	return result, nil
}
