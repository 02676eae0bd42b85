// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

// Package store implements the persistence and consistency layer for
// Coursevault collections (users, groups, courses, viewing logs,
// instructors).
//
// The layer is built from three storage tiers:
//
//   - Cache: an in-process snapshot per collection, the fast path for all
//     reads and writes. Writes always land here first.
//   - FileBackend: one JSON file per collection under a data directory,
//     written with a backup-then-overwrite-then-cleanup pattern so a crash
//     mid-write never corrupts the primary file.
//   - RemoteBackend: an optional Redis-compatible HTTP key/value service
//     (bearer-token REST API) used when the process runs in a hosted
//     environment.
//
// The Coordinator is the single entry point for mutations: it applies the
// change to the cache synchronously, then persists the whole collection
// snapshot to the active backend on a best-effort basis. A failed persist
// never fails the caller's request; it is surfaced as Persisted=false and
// tracked so the Reconciler and the diagnostics surface can detect and heal
// the divergence later.
//
// The Reconciler compares record id sets across tiers, classifies
// mismatches, and repairs them with an explicit authority choice: the cache
// wins by default because every write lands there first; pulling from a
// backend instead is a deliberate operator decision (for example after a
// process restart against a previously used remote store).
package store
