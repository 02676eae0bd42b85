// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwhitman/coursevault/internal/logging"
	"github.com/mwhitman/coursevault/internal/metrics"
)

const (
	backupSuffix  = ".backup"
	corruptSuffix = ".corrupt"
)

// FileBackend stores one JSON file per collection in a data directory.
//
// Write path: the existing primary is copied to a .backup sibling, the
// primary is overwritten, and the .backup is removed on success. On a write
// failure the primary is restored from the .backup copy. A leftover .backup
// file found at startup signals a crash mid-write; the primary is restored
// from it before the backend serves any request.
//
// The local filesystem is assumed always present, so a read failure here is
// a genuine error rather than a fallback case (unlike the remote tier).
type FileBackend struct {
	dir    string
	events EventSink
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates the data directory if needed and recovers any
// write that was interrupted by a crash.
func NewFileBackend(dir string, events EventSink) (*FileBackend, error) {
	if dir == "" {
		return nil, &ValidationError{Field: "data_dir", Reason: "must not be empty"}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dir, err)
	}
	if events == nil {
		events = NopSink()
	}

	b := &FileBackend{dir: dir, events: events}
	if err := b.recoverInterruptedWrites(); err != nil {
		return nil, err
	}
	return b, nil
}

// Name implements Backend.
func (b *FileBackend) Name() string { return TierFile }

// Available implements Backend. The local filesystem is always configured.
func (b *FileBackend) Available() bool { return true }

func (b *FileBackend) path(name string) string {
	return filepath.Join(b.dir, name+".json")
}

// recoverInterruptedWrites restores primaries from leftover .backup files.
// A .backup sibling only exists transiently during a write, so its presence
// at startup means the previous write never completed.
func (b *FileBackend) recoverInterruptedWrites() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("scan data directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json"+backupSuffix) {
			continue
		}
		backupPath := filepath.Join(b.dir, entry.Name())
		primaryPath := strings.TrimSuffix(backupPath, backupSuffix)

		data, err := os.ReadFile(backupPath)
		if err != nil {
			return fmt.Errorf("read leftover backup %s: %w", backupPath, err)
		}
		if err := os.WriteFile(primaryPath, data, 0o640); err != nil {
			return fmt.Errorf("restore %s from backup: %w", primaryPath, err)
		}
		if err := os.Remove(backupPath); err != nil {
			return fmt.Errorf("remove leftover backup %s: %w", backupPath, err)
		}

		logging.Warn().Str("file", primaryPath).Msg("Restored collection file from interrupted write")
		emit(b.events, Event{
			Operation: "startup_recovery",
			Tier:      TierFile,
			Outcome:   OutcomeRecovered,
			Detail:    filepath.Base(primaryPath),
		})
	}
	return nil
}

// Load implements Backend. An absent file initializes (and persists) a
// default empty snapshot. A structurally damaged file is repaired by
// merging in the default shape without discarding valid data, and the
// repaired form is persisted. An unparseable file is quarantined to a
// .corrupt sibling and replaced with a default snapshot; nothing is
// deleted.
func (b *FileBackend) Load(ctx context.Context, collection string) (*Snapshot, bool, error) {
	col, ok := LookupCollection(collection)
	if !ok {
		return nil, false, errUnknownCollection(collection)
	}

	start := time.Now()
	path := b.path(col.Name)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		snap := NewSnapshot()
		if err := b.Save(ctx, collection, snap); err != nil {
			return nil, false, err
		}
		metrics.SnapshotLoads.WithLabelValues(TierFile, collection, "absent").Inc()
		return snap, false, nil
	}
	if err != nil {
		metrics.SnapshotLoads.WithLabelValues(TierFile, collection, OutcomeFailure).Inc()
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	snap, repaired, err := UnmarshalSnapshot(col, data)
	if err != nil {
		// Shape is beyond repair. Keep the payload aside and start
		// from a default snapshot.
		quarantine := path + corruptSuffix
		if qerr := os.WriteFile(quarantine, data, 0o640); qerr != nil {
			return nil, false, fmt.Errorf("quarantine corrupt %s: %w", path, qerr)
		}
		logging.Error().Err(err).Str("file", path).Str("quarantine", quarantine).Msg("Collection file corrupt, reinitialized")
		emit(b.events, Event{
			Operation:  "load",
			Collection: collection,
			Tier:       TierFile,
			Outcome:    OutcomeRecovered,
			Latency:    time.Since(start),
			Detail:     err.Error(),
		})
		metrics.SnapshotLoads.WithLabelValues(TierFile, collection, "corrupt").Inc()

		snap = NewSnapshot()
		if serr := b.Save(ctx, collection, snap); serr != nil {
			return nil, false, serr
		}
		return snap, false, nil
	}

	if repaired {
		logging.Warn().Str("collection", collection).Msg("Collection file shape repaired")
		emit(b.events, Event{
			Operation:  "load",
			Collection: collection,
			Tier:       TierFile,
			Outcome:    OutcomeRepaired,
			Latency:    time.Since(start),
		})
		metrics.SnapshotLoads.WithLabelValues(TierFile, collection, OutcomeRepaired).Inc()
		if err := b.Save(ctx, collection, snap); err != nil {
			return nil, false, err
		}
		return snap, true, nil
	}

	metrics.SnapshotLoads.WithLabelValues(TierFile, collection, OutcomeSuccess).Inc()
	return snap, true, nil
}

// Save implements Backend using the backup-then-overwrite-then-cleanup
// pattern.
func (b *FileBackend) Save(ctx context.Context, collection string, snap *Snapshot) error {
	col, ok := LookupCollection(collection)
	if !ok {
		return errUnknownCollection(collection)
	}

	data, err := MarshalSnapshot(col, snap)
	if err != nil {
		return err
	}

	start := time.Now()
	err = b.writeGuarded(b.path(col.Name), data)
	metrics.SnapshotSaveDuration.WithLabelValues(TierFile, collection).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SnapshotSaveFailures.WithLabelValues(TierFile, collection).Inc()
		emit(b.events, Event{
			Operation:  "save",
			Collection: collection,
			Tier:       TierFile,
			Outcome:    OutcomeFailure,
			Latency:    time.Since(start),
			Detail:     err.Error(),
		})
		return err
	}

	emit(b.events, Event{
		Operation:  "save",
		Collection: collection,
		Tier:       TierFile,
		Outcome:    OutcomeSuccess,
		Latency:    time.Since(start),
	})
	return nil
}

// writeGuarded writes data to path, guarding the existing content with a
// transient .backup sibling that is removed on success and used to restore
// the primary on failure.
func (b *FileBackend) writeGuarded(path string, data []byte) error {
	backupPath := path + backupSuffix

	prev, err := os.ReadFile(path)
	hadPrev := err == nil
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read existing %s: %w", path, err)
	}
	if hadPrev {
		if err := os.WriteFile(backupPath, prev, 0o640); err != nil {
			return fmt.Errorf("write backup %s: %w", backupPath, err)
		}
	}

	if err := os.WriteFile(path, data, 0o640); err != nil {
		if hadPrev {
			if rerr := os.WriteFile(path, prev, 0o640); rerr != nil {
				return fmt.Errorf("write %s failed (%v) and restore failed: %w", path, err, rerr)
			}
			_ = os.Remove(backupPath)
		}
		return fmt.Errorf("write %s: %w", path, err)
	}

	if hadPrev {
		if err := os.Remove(backupPath); err != nil {
			return fmt.Errorf("remove backup %s: %w", backupPath, err)
		}
	}
	return nil
}

// LoadRaw implements Backend for reserved documents (backups).
func (b *FileBackend) LoadRaw(ctx context.Context, name string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path(name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", b.path(name), err)
	}
	return data, true, nil
}

// SaveRaw implements Backend for reserved documents (backups).
func (b *FileBackend) SaveRaw(ctx context.Context, name string, data []byte) error {
	return b.writeGuarded(b.path(name), data)
}

// TestConnection implements Backend with a write+remove probe file,
// proving the data directory is present and writable.
func (b *FileBackend) TestConnection(ctx context.Context) error {
	probe := filepath.Join(b.dir, ".probe")
	if err := os.WriteFile(probe, []byte(time.Now().UTC().Format(time.RFC3339Nano)), 0o640); err != nil {
		return fmt.Errorf("data directory not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("remove probe file: %w", err)
	}
	return nil
}
