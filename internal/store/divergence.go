// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package store

import "time"

// Mismatch kinds. Cache-ahead is the common, recoverable case after a
// best-effort save failure; backend-ahead indicates the cache was never
// seeded or was reset; backend-vs-backend only matters when both backends
// are configured.
const (
	MismatchCacheAhead     = "cache-ahead-of-backend"
	MismatchBackendAhead   = "backend-ahead-of-cache"
	MismatchBackendBackend = "backend-vs-backend"
)

// TierView is the record set observed in one tier at diagnosis time.
type TierView struct {
	Tier      string  `json:"tier"`
	Reachable bool    `json:"reachable"`
	Count     int     `json:"count"`
	IDs       []int64 `json:"ids"`
	Error     string  `json:"error,omitempty"`
}

// Mismatch is one specific inconsistency between two tiers: Ahead holds
// ids that Behind lacks.
type Mismatch struct {
	Kind   string  `json:"kind"`
	Ahead  string  `json:"ahead"`
	Behind string  `json:"behind"`
	IDs    []int64 `json:"ids"`
}

// DivergenceReport captures, for one collection, what every tier held at a
// point in time plus the specific pairwise mismatches.
type DivergenceReport struct {
	Collection string     `json:"collection"`
	ObservedAt time.Time  `json:"observed_at"`
	Tiers      []TierView `json:"tiers"`
	Mismatches []Mismatch `json:"mismatches"`
	Divergent  bool       `json:"divergent"`
}

// idSet builds a set from a sorted id slice.
func idSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// missingFrom returns the ids in have that are absent from want's set,
// preserving order.
func missingFrom(have []int64, want map[int64]struct{}) []int64 {
	var out []int64
	for _, id := range have {
		if _, ok := want[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
