// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package store

import "sync"

// Cache is the in-process tier: one snapshot per collection, protected by
// a per-collection lock so writers to different collections never contend.
// All operations are linearizable within a single collection; there are no
// cross-collection transactions.
//
// The cache exclusively owns its snapshots. Records are cloned on the way
// in and on the way out, so callers can never mutate cached state through
// a retained reference.
type Cache struct {
	mu          sync.RWMutex
	collections map[string]*collectionState
}

type collectionState struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewCache returns an empty cache. Collections materialize lazily on first
// access.
func NewCache() *Cache {
	return &Cache{collections: make(map[string]*collectionState)}
}

// state returns the per-collection state, creating it on first access.
func (c *Cache) state(collection string) *collectionState {
	c.mu.RLock()
	st, ok := c.collections[collection]
	c.mu.RUnlock()
	if ok {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok = c.collections[collection]; ok {
		return st
	}
	st = &collectionState{snap: NewSnapshot()}
	c.collections[collection] = st
	return st
}

// Get returns a copy of the record with the given id, or false if absent.
func (c *Cache) Get(collection string, id int64) (Record, bool) {
	st := c.state(collection)
	st.mu.RLock()
	defer st.mu.RUnlock()

	rec, ok := st.snap.Records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// List returns copies of all records in insertion order.
func (c *Cache) List(collection string) []Record {
	st := c.state(collection)
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]Record, 0, len(st.snap.Order))
	for _, id := range st.snap.Order {
		if rec, ok := st.snap.Records[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Put upserts a record. An unset (zero) id gets the collection's next id;
// an explicit id overwrites any existing record with that id. The stored
// record, with its id populated, is returned as a copy.
func (c *Cache) Put(collection string, rec Record) Record {
	st := c.state(collection)
	st.mu.Lock()
	defer st.mu.Unlock()

	stored := st.snap.put(rec.Clone())
	return stored.Clone()
}

// Delete removes a record by id, reporting whether a record was removed.
func (c *Cache) Delete(collection string, id int64) bool {
	st := c.state(collection)
	st.mu.Lock()
	defer st.mu.Unlock()

	return st.snap.remove(id)
}

// Count returns the number of records currently cached for a collection.
func (c *Cache) Count(collection string) int {
	st := c.state(collection)
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snap.Count()
}

// SnapshotView returns a deep copy of the collection's snapshot, taken
// atomically under the collection lock. Backend I/O operates on this copy
// so the lock is never held across a syscall or network call.
func (c *Cache) SnapshotView(collection string) *Snapshot {
	st := c.state(collection)
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snap.Clone()
}

// ReplaceSnapshot atomically swaps in a full snapshot. Only the Reconciler
// (backend-authoritative repair), the backup restore path, and first-access
// seeding use this; normal writes go through Put and Delete.
func (c *Cache) ReplaceSnapshot(collection string, snap *Snapshot) {
	st := c.state(collection)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.snap = snap.Clone()
}
