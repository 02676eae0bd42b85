// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mwhitman/coursevault/internal/logging"
	"github.com/mwhitman/coursevault/internal/metrics"
)

// Runtime modes selecting the default active backend.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// PutResult carries a mutated record together with the outcome of the
// best-effort backend persist. Persisted=false means the record currently
// lives only in the cache and is at risk of loss on process restart until
// the Reconciler (or a later successful write) heals the backend.
type PutResult struct {
	Record    Record `json:"record"`
	Persisted bool   `json:"persisted"`
}

// DeleteResult reports whether a record was removed and whether the
// post-delete snapshot reached the active backend.
type DeleteResult struct {
	Deleted   bool `json:"deleted"`
	Persisted bool `json:"persisted"`
}

// BulkResult reports a bulk upsert outcome.
type BulkResult struct {
	Records   []Record `json:"records"`
	Persisted bool     `json:"persisted"`
}

// RiskEntry describes a collection whose latest state exists only in the
// cache.
type RiskEntry struct {
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error"`
	FailedOps int       `json:"failed_ops"`
}

// Coordinator is the single entry point for collection mutations. Writes
// mutate the cache first (the durability floor within the process), then
// persist the whole updated snapshot to the active backend best-effort.
// Reads serve from the cache, seeding it from the active backend on the
// first access to each collection.
type Coordinator struct {
	cache  *Cache
	file   Backend
	remote Backend // nil when not configured
	mode   string
	events EventSink

	mu     sync.Mutex
	seeded map[string]bool
	atRisk map[string]*RiskEntry
}

// NewCoordinator wires the cache and backends. remote may be nil. mode is
// ModeLocal or ModeRemote; remote mode with an unavailable remote backend
// degrades to the file backend.
func NewCoordinator(cache *Cache, file Backend, remote Backend, mode string, events EventSink) *Coordinator {
	if events == nil {
		events = NopSink()
	}
	if mode != ModeRemote {
		mode = ModeLocal
	}
	return &Coordinator{
		cache:  cache,
		file:   file,
		remote: remote,
		mode:   mode,
		events: events,
		seeded: make(map[string]bool),
		atRisk: make(map[string]*RiskEntry),
	}
}

// Cache exposes the in-memory tier to the Reconciler and backup restore.
func (c *Coordinator) Cache() *Cache { return c.cache }

// Mode returns the configured runtime mode.
func (c *Coordinator) Mode() string { return c.mode }

// Active returns the backend writes currently target.
func (c *Coordinator) Active() Backend {
	if c.mode == ModeRemote && c.remote != nil && c.remote.Available() {
		return c.remote
	}
	return c.file
}

// Backends returns every configured backend, file first.
func (c *Coordinator) Backends() []Backend {
	out := []Backend{c.file}
	if c.remote != nil && c.remote.Available() {
		out = append(out, c.remote)
	}
	return out
}

// ensureSeeded performs the one-time load of a collection from the active
// backend into the cache. A remote load failure falls back to a default
// snapshot rather than propagating: the remote store is optional
// infrastructure and must not take reads down with it.
func (c *Coordinator) ensureSeeded(ctx context.Context, collection string) error {
	c.mu.Lock()
	if c.seeded[collection] {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	backend := c.Active()
	snap, _, err := backend.Load(ctx, collection)
	if err != nil {
		if backend.Name() == TierRemote {
			logging.Warn().Err(err).Str("collection", collection).Msg("Remote seed failed, starting from empty snapshot")
			emit(c.events, Event{
				Operation:  "seed",
				Collection: collection,
				Tier:       TierRemote,
				Outcome:    OutcomeFallback,
				Detail:     err.Error(),
			})
			snap = NewSnapshot()
		} else {
			// The local filesystem is assumed present; failing to read
			// it is a real fault.
			return fmt.Errorf("seed %s from %s backend: %w", collection, backend.Name(), err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seeded[collection] {
		return nil
	}
	c.cache.ReplaceSnapshot(collection, snap)
	c.seeded[collection] = true
	return nil
}

// markSeeded records that a collection's cache state is authoritative
// without loading from a backend. Restore and backend-authoritative repair
// use this after replacing the snapshot.
func (c *Coordinator) markSeeded(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seeded[collection] = true
}

// persist pushes the collection's current snapshot to the active backend.
// The snapshot copy is taken under the collection lock; the backend call
// runs without it. Failure is recorded, not propagated.
func (c *Coordinator) persist(ctx context.Context, collection string) bool {
	snap := c.cache.SnapshotView(collection)
	backend := c.Active()

	if err := backend.Save(ctx, collection, snap); err != nil {
		c.markAtRisk(collection, err)
		logging.Warn().Err(err).
			Str("collection", collection).
			Str("tier", backend.Name()).
			Msg("Best-effort persist failed, collection is cache-only")
		return false
	}

	c.clearRisk(collection)
	return true
}

func (c *Coordinator) markAtRisk(collection string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.atRisk[collection]
	if entry == nil {
		entry = &RiskEntry{Since: time.Now().UTC()}
		c.atRisk[collection] = entry
	}
	entry.FailedOps++
	entry.LastError = err.Error()
	metrics.CollectionsAtRisk.Set(float64(len(c.atRisk)))
}

func (c *Coordinator) clearRisk(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.atRisk[collection]; ok {
		delete(c.atRisk, collection)
		metrics.CollectionsAtRisk.Set(float64(len(c.atRisk)))
	}
}

// AtRisk answers the single most important failure question this layer
// exists to produce: which collections are currently cache-only. The
// returned map is a copy.
func (c *Coordinator) AtRisk() map[string]RiskEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]RiskEntry, len(c.atRisk))
	for name, entry := range c.atRisk {
		out[name] = *entry
	}
	return out
}

// Create inserts a new record. Any caller-supplied id is rejected: ids are
// assigned by the store, never by the caller.
func (c *Coordinator) Create(ctx context.Context, collection string, rec Record) (PutResult, error) {
	if _, ok := LookupCollection(collection); !ok {
		return PutResult{}, errUnknownCollection(collection)
	}
	if rec == nil {
		return PutResult{}, &ValidationError{Field: "record", Reason: "must not be nil"}
	}
	if rec.ID() != 0 {
		return PutResult{}, &ValidationError{Field: "id", Reason: "must not be set on create"}
	}
	if err := c.ensureSeeded(ctx, collection); err != nil {
		return PutResult{}, err
	}

	stored := c.cache.Put(collection, rec)
	if stored == nil {
		return PutResult{}, ErrCacheFault
	}
	metrics.StoreOperations.WithLabelValues("create", collection).Inc()

	persisted := c.persist(ctx, collection)
	return PutResult{Record: stored, Persisted: persisted}, nil
}

// Update upserts a record with an explicit id. The id is required; the
// record need not already exist (put has upsert semantics).
func (c *Coordinator) Update(ctx context.Context, collection string, rec Record) (PutResult, error) {
	if _, ok := LookupCollection(collection); !ok {
		return PutResult{}, errUnknownCollection(collection)
	}
	if rec == nil {
		return PutResult{}, &ValidationError{Field: "record", Reason: "must not be nil"}
	}
	if rec.ID() <= 0 {
		return PutResult{}, &ValidationError{Field: "id", Reason: "required for update"}
	}
	if err := c.ensureSeeded(ctx, collection); err != nil {
		return PutResult{}, err
	}

	stored := c.cache.Put(collection, rec)
	if stored == nil {
		return PutResult{}, ErrCacheFault
	}
	metrics.StoreOperations.WithLabelValues("update", collection).Inc()

	persisted := c.persist(ctx, collection)
	return PutResult{Record: stored, Persisted: persisted}, nil
}

// Delete removes a record. Deleting a non-existent id is not an error; the
// result reports Deleted=false and no persist is attempted.
func (c *Coordinator) Delete(ctx context.Context, collection string, id int64) (DeleteResult, error) {
	if _, ok := LookupCollection(collection); !ok {
		return DeleteResult{}, errUnknownCollection(collection)
	}
	if id <= 0 {
		return DeleteResult{}, &ValidationError{Field: "id", Reason: "required for delete"}
	}
	if err := c.ensureSeeded(ctx, collection); err != nil {
		return DeleteResult{}, err
	}

	if !c.cache.Delete(collection, id) {
		return DeleteResult{Deleted: false, Persisted: true}, nil
	}
	metrics.StoreOperations.WithLabelValues("delete", collection).Inc()

	persisted := c.persist(ctx, collection)
	return DeleteResult{Deleted: true, Persisted: persisted}, nil
}

// BulkSet upserts a batch of records with a single persist at the end,
// used by import tooling and restore paths.
func (c *Coordinator) BulkSet(ctx context.Context, collection string, recs []Record) (BulkResult, error) {
	if _, ok := LookupCollection(collection); !ok {
		return BulkResult{}, errUnknownCollection(collection)
	}
	for _, rec := range recs {
		if rec == nil {
			return BulkResult{}, &ValidationError{Field: "record", Reason: "must not be nil"}
		}
	}
	if err := c.ensureSeeded(ctx, collection); err != nil {
		return BulkResult{}, err
	}

	stored := make([]Record, 0, len(recs))
	for _, rec := range recs {
		stored = append(stored, c.cache.Put(collection, rec))
	}
	metrics.StoreOperations.WithLabelValues("bulk_set", collection).Inc()

	persisted := c.persist(ctx, collection)
	return BulkResult{Records: stored, Persisted: persisted}, nil
}

// Get reads a record through the cache, seeding it on first access.
func (c *Coordinator) Get(ctx context.Context, collection string, id int64) (Record, error) {
	if _, ok := LookupCollection(collection); !ok {
		return nil, errUnknownCollection(collection)
	}
	if err := c.ensureSeeded(ctx, collection); err != nil {
		return nil, err
	}

	rec, ok := c.cache.Get(collection, id)
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List reads all records of a collection in insertion order.
func (c *Coordinator) List(ctx context.Context, collection string) ([]Record, error) {
	if _, ok := LookupCollection(collection); !ok {
		return nil, errUnknownCollection(collection)
	}
	if err := c.ensureSeeded(ctx, collection); err != nil {
		return nil, err
	}
	return c.cache.List(collection), nil
}

// Restore atomically replaces a collection's cache snapshot and then
// persists it to the active backend, in that order, so a restore is
// subject to the same best-effort persistence semantics as any other
// write. Returns whether the persist succeeded.
func (c *Coordinator) Restore(ctx context.Context, collection string, snap *Snapshot) (bool, error) {
	if _, ok := LookupCollection(collection); !ok {
		return false, errUnknownCollection(collection)
	}
	if snap == nil {
		return false, &ValidationError{Field: "snapshot", Reason: "must not be nil"}
	}

	c.cache.ReplaceSnapshot(collection, snap)
	c.markSeeded(collection)
	metrics.StoreOperations.WithLabelValues("restore", collection).Inc()

	return c.persist(ctx, collection), nil
}

// Snapshot returns a copy of the collection's current snapshot, seeding
// the cache first. The backup manager reads through this so backups see
// exactly what the process serves.
func (c *Coordinator) Snapshot(ctx context.Context, collection string) (*Snapshot, error) {
	if _, ok := LookupCollection(collection); !ok {
		return nil, errUnknownCollection(collection)
	}
	if err := c.ensureSeeded(ctx, collection); err != nil {
		return nil, err
	}
	return c.cache.SnapshotView(collection), nil
}
