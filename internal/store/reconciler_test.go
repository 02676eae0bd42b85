// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package store

import (
	"context"
	"testing"
)

func TestReconcilerDiagnoseNoDivergence(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	rec := NewReconciler(coord, NopSink())
	ctx := context.Background()

	if _, err := coord.Create(ctx, "users", Record{"name": "alice"}); err != nil {
		t.Fatal(err)
	}

	report, err := rec.Diagnose(ctx, "users")
	if err != nil {
		t.Fatalf("diagnose failed: %v", err)
	}
	if report.Divergent {
		t.Errorf("healthy tiers reported divergent: %+v", report.Mismatches)
	}
	if len(report.Tiers) != 2 {
		t.Fatalf("expected cache+file tier views, got %d", len(report.Tiers))
	}
	for _, view := range report.Tiers {
		if !view.Reachable || view.Count != 1 {
			t.Errorf("unexpected tier view: %+v", view)
		}
	}
}

func TestReconcilerDiagnoseClassifiesCacheAhead(t *testing.T) {
	coord, file := newTestCoordinator(t)
	rec := NewReconciler(coord, NopSink())
	ctx := context.Background()

	// One persisted write, then a cache-only write.
	if _, err := coord.Create(ctx, "users", Record{"name": "persisted"}); err != nil {
		t.Fatal(err)
	}
	file.setFailing(true)
	res, err := coord.Create(ctx, "users", Record{"name": "cache-only"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Persisted {
		t.Fatal("expected cache-only write")
	}
	file.setFailing(false)

	report, err := rec.Diagnose(ctx, "users")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Divergent {
		t.Fatal("expected divergence after a failed persist")
	}
	if len(report.Mismatches) != 1 {
		t.Fatalf("expected one mismatch, got %+v", report.Mismatches)
	}
	m := report.Mismatches[0]
	if m.Kind != MismatchCacheAhead || m.Ahead != TierCache || m.Behind != TierFile {
		t.Errorf("unexpected classification: %+v", m)
	}
	if len(m.IDs) != 1 || m.IDs[0] != res.Record.ID() {
		t.Errorf("expected the cache-only id %d, got %v", res.Record.ID(), m.IDs)
	}
}

func TestReconcilerDiagnoseClassifiesBackendAhead(t *testing.T) {
	coord, file := newTestCoordinator(t)
	rec := NewReconciler(coord, NopSink())
	ctx := context.Background()

	if _, err := coord.Create(ctx, "groups", Record{"name": "shared"}); err != nil {
		t.Fatal(err)
	}

	// Another writer's record appears in the backend behind our back.
	snap := file.stored("groups")
	snap.put(Record{"name": "foreign"})
	file.snaps["groups"] = snap

	report, err := rec.Diagnose(ctx, "groups")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Divergent {
		t.Fatal("expected divergence")
	}
	m := report.Mismatches[0]
	if m.Kind != MismatchBackendAhead || m.Ahead != TierFile || m.Behind != TierCache {
		t.Errorf("unexpected classification: %+v", m)
	}
}

func TestReconcilerDiagnoseUnreachableTier(t *testing.T) {
	file := newMemBackend(TierFile)
	remote := newMemBackend(TierRemote)
	coord := NewCoordinator(NewCache(), file, remote, ModeLocal, NopSink())
	rec := NewReconciler(coord, NopSink())
	ctx := context.Background()

	if _, err := coord.Create(ctx, "users", Record{"name": "alice"}); err != nil {
		t.Fatal(err)
	}
	remote.setFailing(true)

	report, err := rec.Diagnose(ctx, "users")
	if err != nil {
		t.Fatalf("an unreachable tier must not fail the diagnosis: %v", err)
	}

	var remoteView *TierView
	for i := range report.Tiers {
		if report.Tiers[i].Tier == TierRemote {
			remoteView = &report.Tiers[i]
		}
	}
	if remoteView == nil {
		t.Fatal("remote tier missing from report")
	}
	if remoteView.Reachable || remoteView.Error == "" {
		t.Errorf("expected unreachable remote view with error, got %+v", remoteView)
	}

	// Unreachable tiers are excluded from classification, so the healthy
	// cache/file pair alone produces no mismatch.
	for _, m := range report.Mismatches {
		if m.Ahead == TierRemote || m.Behind == TierRemote {
			t.Errorf("unreachable tier classified: %+v", m)
		}
	}
}

func TestReconcilerRepairCacheAuthoritative(t *testing.T) {
	coord, file := newTestCoordinator(t)
	rec := NewReconciler(coord, NopSink())
	ctx := context.Background()

	if _, err := coord.Create(ctx, "users", Record{"name": "persisted"}); err != nil {
		t.Fatal(err)
	}
	file.setFailing(true)
	if _, err := coord.Create(ctx, "users", Record{"name": "cache-only"}); err != nil {
		t.Fatal(err)
	}
	file.setFailing(false)

	result, err := rec.Repair(ctx, "users", "", "")
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if result.Strategy != StrategyCacheAuthoritative {
		t.Errorf("default strategy must be cache-authoritative, got %s", result.Strategy)
	}
	if len(result.Updated) != 1 || result.Updated[0] != TierFile {
		t.Errorf("expected file tier updated, got %v", result.Updated)
	}

	report, err := rec.Diagnose(ctx, "users")
	if err != nil {
		t.Fatal(err)
	}
	if report.Divergent {
		t.Errorf("divergence survived repair: %+v", report.Mismatches)
	}
	if len(coord.AtRisk()) != 0 {
		t.Error("risk flag not cleared by repair")
	}

	// Idempotence: repairing an already consistent collection changes
	// nothing and succeeds.
	if _, err := rec.Repair(ctx, "users", StrategyCacheAuthoritative, ""); err != nil {
		t.Fatalf("repeat repair failed: %v", err)
	}
	if file.stored("users").Count() != 2 {
		t.Error("repeat repair altered backend state")
	}
}

func TestReconcilerRepairBackendAuthoritative(t *testing.T) {
	coord, file := newTestCoordinator(t)
	rec := NewReconciler(coord, NopSink())
	ctx := context.Background()

	if _, err := coord.Create(ctx, "users", Record{"name": "will-be-discarded"}); err != nil {
		t.Fatal(err)
	}

	// The backend holds the state the operator wants back.
	authoritative := NewSnapshot()
	authoritative.put(Record{"name": "restored-a"})
	authoritative.put(Record{"name": "restored-b"})
	file.snaps["users"] = authoritative

	result, err := rec.Repair(ctx, "users", StrategyBackendAuthoritative, TierFile)
	if err != nil {
		t.Fatalf("backend-authoritative repair failed: %v", err)
	}
	if len(result.Updated) != 1 || result.Updated[0] != TierCache {
		t.Errorf("expected cache updated, got %v", result.Updated)
	}

	list, err := coord.List(ctx, "users")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0]["name"] != "restored-a" {
		t.Errorf("cache not replaced by backend state: %v", list)
	}
}

func TestReconcilerRepairValidation(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	rec := NewReconciler(coord, NopSink())
	ctx := context.Background()

	if _, err := rec.Repair(ctx, "users", StrategyBackendAuthoritative, ""); err == nil {
		t.Error("backend-authoritative repair without a source must fail")
	}
	if _, err := rec.Repair(ctx, "users", "coin-flip", ""); err == nil {
		t.Error("unknown strategy must fail")
	}
	if _, err := rec.Repair(ctx, "invoices", "", ""); err == nil {
		t.Error("unknown collection must fail")
	}
}

func TestReconcilerDiagnoseAll(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	rec := NewReconciler(coord, NopSink())

	reports, err := rec.DiagnoseAll(context.Background())
	if err != nil {
		t.Fatalf("diagnose all failed: %v", err)
	}
	if len(reports) != len(Collections) {
		t.Errorf("expected %d reports, got %d", len(Collections), len(reports))
	}
	for name, report := range reports {
		if report.Collection != name {
			t.Errorf("report for %s labeled %s", name, report.Collection)
		}
	}
}
