// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwhitman/coursevault/internal/logging"
	"github.com/mwhitman/coursevault/internal/metrics"
)

// Repair strategies. When no strategy is given, cache wins: every write
// lands in the cache first, so it is the freshest tier by construction.
// Pulling from a backend instead is only correct across process restarts,
// which the operator must recognize explicitly.
const (
	StrategyCacheAuthoritative   = "cache-authoritative"
	StrategyBackendAuthoritative = "backend-authoritative"
)

// RepairResult reports which tiers a repair touched.
type RepairResult struct {
	Collection string   `json:"collection"`
	Strategy   string   `json:"strategy"`
	Source     string   `json:"source"`
	Updated    []string `json:"updated"`
}

// Reconciler detects and repairs divergence between the cache and the
// configured backends for a collection. It reads every tier and writes
// only for repair.
type Reconciler struct {
	coord  *Coordinator
	events EventSink
}

// NewReconciler builds a reconciler over the coordinator's tiers.
func NewReconciler(coord *Coordinator, events EventSink) *Reconciler {
	if events == nil {
		events = NopSink()
	}
	return &Reconciler{coord: coord, events: events}
}

// Diagnose compares record counts and id sets across the cache and every
// configured backend, classifying each inconsistency. An unreachable
// backend is reported in its TierView rather than failing the diagnosis;
// unreachable tiers are excluded from mismatch classification.
func (r *Reconciler) Diagnose(ctx context.Context, collection string) (*DivergenceReport, error) {
	if _, ok := LookupCollection(collection); !ok {
		return nil, errUnknownCollection(collection)
	}

	report := &DivergenceReport{
		Collection: collection,
		ObservedAt: time.Now().UTC(),
	}

	cacheSnap := r.coord.Cache().SnapshotView(collection)
	cacheView := TierView{
		Tier:      TierCache,
		Reachable: true,
		Count:     cacheSnap.Count(),
		IDs:       cacheSnap.IDs(),
	}
	report.Tiers = append(report.Tiers, cacheView)

	var reachable []TierView
	for _, backend := range r.coord.Backends() {
		view := TierView{Tier: backend.Name()}
		snap, _, err := backend.Load(ctx, collection)
		if err != nil {
			view.Error = err.Error()
		} else {
			view.Reachable = true
			view.Count = snap.Count()
			view.IDs = snap.IDs()
			reachable = append(reachable, view)
		}
		report.Tiers = append(report.Tiers, view)
	}

	cacheSet := idSet(cacheView.IDs)
	for _, bv := range reachable {
		backendSet := idSet(bv.IDs)
		if ahead := missingFrom(cacheView.IDs, backendSet); len(ahead) > 0 {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Kind:   MismatchCacheAhead,
				Ahead:  TierCache,
				Behind: bv.Tier,
				IDs:    ahead,
			})
		}
		if behind := missingFrom(bv.IDs, cacheSet); len(behind) > 0 {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Kind:   MismatchBackendAhead,
				Ahead:  bv.Tier,
				Behind: TierCache,
				IDs:    behind,
			})
		}
	}
	for i := 0; i < len(reachable); i++ {
		for j := i + 1; j < len(reachable); j++ {
			a, b := reachable[i], reachable[j]
			aSet, bSet := idSet(a.IDs), idSet(b.IDs)
			if diff := missingFrom(a.IDs, bSet); len(diff) > 0 {
				report.Mismatches = append(report.Mismatches, Mismatch{
					Kind:   MismatchBackendBackend,
					Ahead:  a.Tier,
					Behind: b.Tier,
					IDs:    diff,
				})
			}
			if diff := missingFrom(b.IDs, aSet); len(diff) > 0 {
				report.Mismatches = append(report.Mismatches, Mismatch{
					Kind:   MismatchBackendBackend,
					Ahead:  b.Tier,
					Behind: a.Tier,
					IDs:    diff,
				})
			}
		}
	}

	report.Divergent = len(report.Mismatches) > 0
	if report.Divergent {
		metrics.DivergenceDetected.WithLabelValues(collection).Set(float64(len(report.Mismatches)))
	} else {
		metrics.DivergenceDetected.WithLabelValues(collection).Set(0)
	}
	return report, nil
}

// DiagnoseAll runs Diagnose for every managed collection.
func (r *Reconciler) DiagnoseAll(ctx context.Context) (map[string]*DivergenceReport, error) {
	out := make(map[string]*DivergenceReport, len(Collections))
	for _, col := range Collections {
		report, err := r.Diagnose(ctx, col.Name)
		if err != nil {
			return nil, err
		}
		out[col.Name] = report
	}
	return out, nil
}

// Repair makes the tiers agree under an explicit authority choice.
//
// Cache-authoritative (the default, idempotent): the current cache
// snapshot is saved to every configured backend; repeating it with no new
// divergence is a no-op.
//
// Backend-authoritative (destructive, operator-only): the snapshot of the
// named source backend replaces the cache, discarding any cache-only
// records not yet persisted. source is required for this strategy.
func (r *Reconciler) Repair(ctx context.Context, collection, strategy, source string) (*RepairResult, error) {
	if _, ok := LookupCollection(collection); !ok {
		return nil, errUnknownCollection(collection)
	}
	if strategy == "" {
		strategy = StrategyCacheAuthoritative
	}

	start := time.Now()
	result := &RepairResult{Collection: collection, Strategy: strategy, Source: source}

	switch strategy {
	case StrategyCacheAuthoritative:
		snap := r.coord.Cache().SnapshotView(collection)
		var errs []error
		for _, backend := range r.coord.Backends() {
			if err := backend.Save(ctx, collection, snap); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
				continue
			}
			result.Updated = append(result.Updated, backend.Name())
		}
		if len(errs) > 0 {
			metrics.ReconcileRuns.WithLabelValues(collection, strategy, OutcomeFailure).Inc()
			return result, errors.Join(errs...)
		}
		result.Source = TierCache
		r.coord.clearRisk(collection)

	case StrategyBackendAuthoritative:
		backend, err := r.backendByName(source)
		if err != nil {
			return nil, err
		}
		snap, _, err := backend.Load(ctx, collection)
		if err != nil {
			metrics.ReconcileRuns.WithLabelValues(collection, strategy, OutcomeFailure).Inc()
			return nil, fmt.Errorf("load %s from %s: %w", collection, source, err)
		}
		r.coord.Cache().ReplaceSnapshot(collection, snap)
		r.coord.markSeeded(collection)
		r.coord.clearRisk(collection)
		result.Updated = append(result.Updated, TierCache)

	default:
		return nil, &ValidationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}

	metrics.ReconcileRuns.WithLabelValues(collection, strategy, OutcomeSuccess).Inc()
	logging.Info().
		Str("collection", collection).
		Str("strategy", strategy).
		Strs("updated", result.Updated).
		Msg("Reconciliation repair complete")
	emit(r.events, Event{
		Operation:  "repair",
		Collection: collection,
		Tier:       result.Source,
		Outcome:    OutcomeSuccess,
		Latency:    time.Since(start),
		Detail:     strategy,
	})
	return result, nil
}

func (r *Reconciler) backendByName(name string) (Backend, error) {
	if name == "" {
		return nil, &ValidationError{Field: "source", Reason: "required for backend-authoritative repair"}
	}
	for _, backend := range r.coord.Backends() {
		if backend.Name() == name {
			return backend, nil
		}
	}
	return nil, &ValidationError{Field: "source", Reason: fmt.Sprintf("no configured backend named %q", name)}
}
