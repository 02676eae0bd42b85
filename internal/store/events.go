// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package store

import "time"

// Event outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeFallback  = "fallback"
	OutcomeRepaired  = "repaired"
	OutcomeRecovered = "recovered"
)

// Tier names used in events and divergence reports.
const (
	TierCache  = "cache"
	TierFile   = "file"
	TierRemote = "remote"
)

// Event is one structured operational occurrence in the persistence layer:
// what happened, against which collection and tier, how it ended, and how
// long it took. Events replace free-text logging as the machine-readable
// substrate the diagnostics surface consumes.
type Event struct {
	Time       time.Time     `json:"time"`
	Operation  string        `json:"operation"`
	Collection string        `json:"collection,omitempty"`
	Tier       string        `json:"tier,omitempty"`
	Outcome    string        `json:"outcome"`
	Latency    time.Duration `json:"latency_ns,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

// EventSink receives persistence-layer events. Implementations must be
// safe for concurrent use and must not block the caller for long; the
// store emits events inline on the write path.
type EventSink interface {
	Record(ev Event)
}

type nopSink struct{}

func (nopSink) Record(Event) {}

// NopSink returns an EventSink that discards everything.
func NopSink() EventSink { return nopSink{} }

// emit fills in the timestamp and forwards to the sink.
func emit(sink EventSink, ev Event) {
	if sink == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	sink.Record(ev)
}
