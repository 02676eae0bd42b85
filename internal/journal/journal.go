// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

// Package journal persists the persistence layer's structured operational
// events (operation, collection, tier, outcome, latency) in BadgerDB.
//
// The journal is the durable half of the observability story: metrics
// answer "how often", the journal answers "what exactly happened", and the
// diagnostics surface reads recent entries back instead of parsing log
// text. Entries carry a TTL so the journal is self-pruning.
package journal

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/mwhitman/coursevault/internal/logging"
	"github.com/mwhitman/coursevault/internal/store"
)

const keyPrefix = "event:"

// Journal is a durable, TTL-bounded event journal. It implements
// store.EventSink.
type Journal struct {
	db  *badger.DB
	ttl time.Duration
	seq atomic.Uint64
}

var _ store.EventSink = (*Journal)(nil)

// Open opens (or creates) the journal at path. ttl bounds entry
// retention; zero means entries never expire.
func Open(path string, ttl time.Duration) (*Journal, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal at %s: %w", path, err)
	}
	return &Journal{db: db, ttl: ttl}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record implements store.EventSink. A journal write failure is logged and
// dropped: the journal observes the write path and must never fail it.
func (j *Journal) Record(ev store.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		logging.Error().Err(err).Msg("Journal event marshal failed")
		return
	}

	// Nanosecond timestamp plus a process-local sequence keeps keys
	// unique and time-ordered under concurrent writers.
	key := fmt.Sprintf("%s%020d:%d", keyPrefix, ev.Time.UnixNano(), j.seq.Add(1))

	err = j.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data)
		if j.ttl > 0 {
			entry = entry.WithTTL(j.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		logging.Error().Err(err).Msg("Journal event write failed")
	}
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	events := make([]store.Event, 0, limit)
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		// Seek past the last possible event key, then walk backwards.
		seekKey := append(append([]byte(nil), prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(events) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var ev store.Event
				if err := json.Unmarshal(val, &ev); err != nil {
					return err
				}
				events = append(events, ev)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return events, nil
}

// RunGC triggers Badger's value-log garbage collection once. Safe to call
// periodically; ErrNoRewrite (nothing to collect) is not an error.
func (j *Journal) RunGC() {
	if err := j.db.RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
		logging.Warn().Err(err).Msg("Journal value log GC failed")
	}
}
