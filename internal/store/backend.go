// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package store

import "context"

// Backend is the durable storage contract. A type either
// implements it completely or is not a backend; there is no optional-method
// probing anywhere in the store.
type Backend interface {
	// Name identifies the tier ("file" or "remote").
	Name() string

	// Available reports whether the backend's configuration is present.
	// An unavailable backend is a mode, not an error.
	Available() bool

	// Load reads a collection snapshot. found is false when the backend
	// had no data for the collection, in which case snap is a usable
	// default. Implementations must never return partial data: a snapshot
	// is read atomically as a whole.
	Load(ctx context.Context, collection string) (snap *Snapshot, found bool, err error)

	// Save writes a collection snapshot atomically as a whole. A failure
	// must be reported so the caller can flag the collection as
	// cache-only; data is never dropped silently.
	Save(ctx context.Context, collection string, snap *Snapshot) error

	// LoadRaw and SaveRaw store a single document under a reserved name
	// outside the live collection namespace. The backup manager uses them
	// for the consolidated backup object.
	LoadRaw(ctx context.Context, name string) (data []byte, found bool, err error)
	SaveRaw(ctx context.Context, name string, data []byte) error

	// TestConnection performs a live round trip against the backend.
	// Distinct from Available: "available" means credentials are
	// configured, "connected" means a round trip just succeeded.
	TestConnection(ctx context.Context) error
}
