// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// memBackend is an in-memory Backend test double. failSaves and failLoads
// switch it into a failure mode mid-test.
type memBackend struct {
	name string

	mu        sync.Mutex
	snaps     map[string]*Snapshot
	raw       map[string][]byte
	failSaves bool
	failLoads bool
	saveCalls int
}

func newMemBackend(name string) *memBackend {
	return &memBackend{
		name:  name,
		snaps: make(map[string]*Snapshot),
		raw:   make(map[string][]byte),
	}
}

func (m *memBackend) Name() string    { return m.name }
func (m *memBackend) Available() bool { return true }

func (m *memBackend) Load(ctx context.Context, collection string) (*Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoads {
		return nil, false, &ConnectionError{Tier: m.name, Err: errors.New("injected load failure")}
	}
	snap, ok := m.snaps[collection]
	if !ok {
		return NewSnapshot(), false, nil
	}
	return snap.Clone(), true, nil
}

func (m *memBackend) Save(ctx context.Context, collection string, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.failSaves {
		return &ConnectionError{Tier: m.name, Err: errors.New("injected save failure")}
	}
	m.snaps[collection] = snap.Clone()
	return nil
}

func (m *memBackend) LoadRaw(ctx context.Context, name string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.raw[name]
	return data, ok, nil
}

func (m *memBackend) SaveRaw(ctx context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw[name] = append([]byte(nil), data...)
	return nil
}

func (m *memBackend) TestConnection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoads || m.failSaves {
		return &ConnectionError{Tier: m.name, Err: errors.New("injected probe failure")}
	}
	return nil
}

func (m *memBackend) setFailing(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSaves = fail
	m.failLoads = fail
}

func (m *memBackend) stored(collection string) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[collection]
	if !ok {
		return NewSnapshot()
	}
	return snap.Clone()
}

func newTestCoordinator(t *testing.T) (*Coordinator, *memBackend) {
	t.Helper()
	file := newMemBackend(TierFile)
	coord := NewCoordinator(NewCache(), file, nil, ModeLocal, NopSink())
	return coord, file
}

func TestCoordinatorCreateAssignsSequentialIDs(t *testing.T) {
	coord, file := newTestCoordinator(t)
	ctx := context.Background()

	res, err := coord.Create(ctx, "groups", Record{"name": "admins"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if res.Record.ID() != 1 {
		t.Errorf("expected id 1 for first record, got %d", res.Record.ID())
	}
	if !res.Persisted {
		t.Error("expected persisted=true with a healthy backend")
	}

	// The persisted snapshot carries both the record and the advanced
	// counter, written together.
	snap := file.stored("groups")
	if snap.Count() != 1 || snap.NextID != 2 {
		t.Errorf("backend snapshot out of step: %d records, NextID %d", snap.Count(), snap.NextID)
	}

	second, err := coord.Create(ctx, "groups", Record{"name": "readers"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Record.ID() != 2 {
		t.Errorf("expected id 2 for second record, got %d", second.Record.ID())
	}
}

func TestCoordinatorCreateRejectsPresetID(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	_, err := coord.Create(context.Background(), "users", Record{"id": int64(7), "name": "intruder"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCoordinatorReadYourWriteOnBackendFailure(t *testing.T) {
	coord, file := newTestCoordinator(t)
	ctx := context.Background()

	// Seed the collection while healthy, then break the backend.
	if _, err := coord.List(ctx, "users"); err != nil {
		t.Fatal(err)
	}
	file.setFailing(true)

	res, err := coord.Create(ctx, "users", Record{"name": "alice"})
	if err != nil {
		t.Fatalf("a failed persist must not fail the write: %v", err)
	}
	if res.Persisted {
		t.Error("expected persisted=false with a broken backend")
	}

	// Read-your-write: the record is immediately visible from the cache.
	got, err := coord.Get(ctx, "users", res.Record.ID())
	if err != nil {
		t.Fatalf("record invisible after cache-only write: %v", err)
	}
	if got["name"] != "alice" {
		t.Errorf("unexpected record content: %v", got)
	}

	atRisk := coord.AtRisk()
	entry, ok := atRisk["users"]
	if !ok {
		t.Fatal("collection not flagged at risk after persist failure")
	}
	if entry.FailedOps != 1 || entry.LastError == "" {
		t.Errorf("unexpected risk entry: %+v", entry)
	}

	// A later successful write clears the flag.
	file.setFailing(false)
	if _, err := coord.Create(ctx, "users", Record{"name": "bob"}); err != nil {
		t.Fatal(err)
	}
	if len(coord.AtRisk()) != 0 {
		t.Errorf("risk flag not cleared after successful persist: %v", coord.AtRisk())
	}
}

func TestCoordinatorSeedsFromBackend(t *testing.T) {
	file := newMemBackend(TierFile)
	seed := NewSnapshot()
	seed.put(Record{"name": "pre-existing"})
	file.snaps["courses"] = seed

	coord := NewCoordinator(NewCache(), file, nil, ModeLocal, NopSink())

	list, err := coord.List(context.Background(), "courses")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0]["name"] != "pre-existing" {
		t.Errorf("seed from backend lost data: %v", list)
	}

	// Counters continue where the backend left off.
	res, err := coord.Create(context.Background(), "courses", Record{"name": "new"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.ID() != 2 {
		t.Errorf("expected id 2 after seeding, got %d", res.Record.ID())
	}
}

func TestCoordinatorRemoteSeedFailureFallsBack(t *testing.T) {
	file := newMemBackend(TierFile)
	remote := newMemBackend(TierRemote)
	remote.setFailing(true)

	coord := NewCoordinator(NewCache(), file, remote, ModeRemote, NopSink())

	// Remote mode with an unreachable remote: reads start from an empty
	// snapshot instead of failing.
	list, err := coord.List(context.Background(), "users")
	if err != nil {
		t.Fatalf("remote seed failure must not fail reads: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty fallback snapshot, got %d records", len(list))
	}
}

func TestCoordinatorFileSeedFailureIsFatal(t *testing.T) {
	file := newMemBackend(TierFile)
	file.setFailing(true)
	coord := NewCoordinator(NewCache(), file, nil, ModeLocal, NopSink())

	if _, err := coord.List(context.Background(), "users"); err == nil {
		t.Error("a file backend read failure must propagate")
	}
}

func TestCoordinatorUpdateUpserts(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	created, err := coord.Create(ctx, "users", Record{"name": "alice"})
	if err != nil {
		t.Fatal(err)
	}

	updated := created.Record.Clone()
	updated["name"] = "alice-renamed"
	if _, err := coord.Update(ctx, "users", updated); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ := coord.Get(ctx, "users", created.Record.ID())
	if got["name"] != "alice-renamed" {
		t.Errorf("update not applied: %v", got)
	}

	// Upsert: an id with no existing record inserts it and advances the
	// counter past it.
	if _, err := coord.Update(ctx, "users", Record{"id": int64(10), "name": "imported"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	res, err := coord.Create(ctx, "users", Record{"name": "fresh"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.ID() != 11 {
		t.Errorf("counter not advanced past upserted id, got %d", res.Record.ID())
	}

	// Update without an id is rejected.
	if _, err := coord.Update(ctx, "users", Record{"name": "no-id"}); err == nil {
		t.Error("expected validation error for update without id")
	}
}

func TestCoordinatorDeleteSemantics(t *testing.T) {
	coord, file := newTestCoordinator(t)
	ctx := context.Background()

	created, err := coord.Create(ctx, "groups", Record{"name": "ephemeral"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := coord.Delete(ctx, "groups", created.Record.ID())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Deleted || !res.Persisted {
		t.Errorf("expected deleted+persisted, got %+v", res)
	}

	// Deleting a missing id is a no-op: reported, not an error, and no
	// snapshot write happens.
	savesBefore := fileSaveCalls(file)
	res, err = coord.Delete(ctx, "groups", 999)
	if err != nil {
		t.Fatal(err)
	}
	if res.Deleted {
		t.Error("expected deleted=false for missing id")
	}
	if !res.Persisted {
		t.Error("a no-op delete reports persisted=true")
	}
	if fileSaveCalls(file) != savesBefore {
		t.Error("no-op delete must not write to the backend")
	}
}

func fileSaveCalls(m *memBackend) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCalls
}

func TestCoordinatorBulkSetSinglePersist(t *testing.T) {
	coord, file := newTestCoordinator(t)
	ctx := context.Background()

	// Seed first so the bulk write's save count is isolated.
	if _, err := coord.List(ctx, "viewing_logs"); err != nil {
		t.Fatal(err)
	}
	before := fileSaveCalls(file)

	recs := []Record{
		{"userId": 1, "courseId": 2},
		{"userId": 1, "courseId": 3},
		{"id": int64(50), "userId": 2, "courseId": 2},
	}
	res, err := coord.BulkSet(ctx, "viewing_logs", recs)
	if err != nil {
		t.Fatalf("bulk set failed: %v", err)
	}
	if len(res.Records) != 3 || !res.Persisted {
		t.Fatalf("unexpected bulk result: %+v", res)
	}
	if fileSaveCalls(file)-before != 1 {
		t.Errorf("bulk set must persist once, got %d saves", fileSaveCalls(file)-before)
	}

	snap := file.stored("viewing_logs")
	if snap.Count() != 3 || snap.NextID != 51 {
		t.Errorf("unexpected backend state: %d records, NextID %d", snap.Count(), snap.NextID)
	}
}

func TestCoordinatorBulkSetRejectsNilRecordWithoutMutating(t *testing.T) {
	coord, file := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := coord.Create(ctx, "users", Record{"name": "a"}); err != nil {
		t.Fatal(err)
	}
	before := fileSaveCalls(file)

	recs := []Record{
		{"name": "b"},
		nil,
		{"name": "c"},
	}
	_, err := coord.BulkSet(ctx, "users", recs)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// A rejected batch must leave no partial writes behind.
	list, err := coord.List(ctx, "users")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected cache untouched with 1 record, got %d", len(list))
	}
	if fileSaveCalls(file) != before {
		t.Errorf("expected no persist for rejected batch, got %d saves", fileSaveCalls(file)-before)
	}
	if len(coord.AtRisk()) != 0 {
		t.Errorf("expected no at-risk entries, got %v", coord.AtRisk())
	}
}

func TestCoordinatorUnknownCollection(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := coord.Get(ctx, "invoices", 1); err == nil {
		t.Error("expected error for unknown collection")
	}
	if _, err := coord.Create(ctx, "invoices", Record{"x": 1}); err == nil {
		t.Error("expected error for unknown collection")
	}
}

func TestCoordinatorGetNotFound(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	_, err := coord.Get(context.Background(), "users", 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCoordinatorActiveBackendSelection(t *testing.T) {
	file := newMemBackend(TierFile)
	remote := newMemBackend(TierRemote)

	t.Run("local mode targets file", func(t *testing.T) {
		coord := NewCoordinator(NewCache(), file, remote, ModeLocal, NopSink())
		if coord.Active().Name() != TierFile {
			t.Errorf("expected file backend, got %s", coord.Active().Name())
		}
	})

	t.Run("remote mode targets remote", func(t *testing.T) {
		coord := NewCoordinator(NewCache(), file, remote, ModeRemote, NopSink())
		if coord.Active().Name() != TierRemote {
			t.Errorf("expected remote backend, got %s", coord.Active().Name())
		}
	})

	t.Run("remote mode without remote degrades to file", func(t *testing.T) {
		coord := NewCoordinator(NewCache(), file, nil, ModeRemote, NopSink())
		if coord.Active().Name() != TierFile {
			t.Errorf("expected file backend, got %s", coord.Active().Name())
		}
	})
}

func TestCoordinatorRestore(t *testing.T) {
	coord, file := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := coord.Create(ctx, "users", Record{"name": "current"}); err != nil {
		t.Fatal(err)
	}

	restored := NewSnapshot()
	restored.put(Record{"name": "from-backup-a"})
	restored.put(Record{"name": "from-backup-b"})

	persisted, err := coord.Restore(ctx, "users", restored)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if !persisted {
		t.Error("expected restore to persist")
	}

	list, _ := coord.List(ctx, "users")
	if len(list) != 2 {
		t.Fatalf("expected restored state, got %d records", len(list))
	}
	if file.stored("users").Count() != 2 {
		t.Error("restored snapshot not pushed to the backend")
	}
}
