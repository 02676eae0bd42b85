// Coursevault - Training Content Administration and Progress Tracking
// Copyright 2026 M. Whitman (mwhitman)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mwhitman/coursevault

package store

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
)

// IDField is the record field that carries the store-assigned identifier.
const IDField = "id"

// Record is a schema-free JSON document. The store only cares about the
// numeric id field, which it assigns; domain validation (referential
// integrity between users and groups, course structure, and so on) is the
// caller's responsibility.
type Record map[string]interface{}

// ID returns the record's id, or 0 if unset. JSON decoding produces
// float64 for numbers, so all numeric representations are accepted.
func (r Record) ID() int64 {
	switch v := r[IDField].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// SetID overwrites the record's id field.
func (r Record) SetID(id int64) {
	r[IDField] = id
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Snapshot is the complete state of one collection at a point in time:
// every record keyed by id, the insertion order of those ids, and the
// monotonically increasing next id.
//
// Invariants: NextID is strictly greater than every id present; ids are
// never reused after deletion within a process lifetime.
type Snapshot struct {
	Records map[int64]Record
	Order   []int64
	NextID  int64
}

// NewSnapshot returns an empty snapshot with NextID starting at 1.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Records: make(map[int64]Record),
		NextID:  1,
	}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Records: make(map[int64]Record, len(s.Records)),
		Order:   append([]int64(nil), s.Order...),
		NextID:  s.NextID,
	}
	for id, rec := range s.Records {
		out.Records[id] = rec.Clone()
	}
	return out
}

// Count returns the number of records in the snapshot.
func (s *Snapshot) Count() int {
	return len(s.Records)
}

// IDs returns the snapshot's record ids in ascending order.
func (s *Snapshot) IDs() []int64 {
	ids := make([]int64, 0, len(s.Records))
	for id := range s.Records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// put inserts or overwrites a record. An id of 0 means "assign the next
// id". The record is stored as-is; callers clone before handing it over.
func (s *Snapshot) put(rec Record) Record {
	id := rec.ID()
	if id <= 0 {
		id = s.NextID
		s.NextID++
		rec.SetID(id)
	} else {
		rec.SetID(id)
		if id >= s.NextID {
			s.NextID = id + 1
		}
	}
	if _, exists := s.Records[id]; !exists {
		s.Order = append(s.Order, id)
	}
	s.Records[id] = rec
	return rec
}

// remove deletes a record by id, reporting whether anything was removed.
// NextID is deliberately not decremented: ids are never reused.
func (s *Snapshot) remove(id int64) bool {
	if _, ok := s.Records[id]; !ok {
		return false
	}
	delete(s.Records, id)
	for i, oid := range s.Order {
		if oid == id {
			s.Order = append(s.Order[:i], s.Order[i+1:]...)
			break
		}
	}
	return true
}

// Collection describes one of the fixed Coursevault collections and the
// key names used in its serialized form. The on-disk and remote wire shape
// for a collection is:
//
//	{ "<RecordsKey>": { "<id>": record, ... }, "<NextIDKey>": n }
type Collection struct {
	// Name is the collection identifier used in APIs and file names.
	Name string

	// RecordsKey is the top-level key holding the id->record map.
	RecordsKey string

	// NextIDKey is the top-level key holding the next id counter.
	NextIDKey string
}

// Collections lists every collection the store manages, in a stable order.
var Collections = []Collection{
	{Name: "users", RecordsKey: "users", NextIDKey: "nextUserId"},
	{Name: "groups", RecordsKey: "groups", NextIDKey: "nextGroupId"},
	{Name: "courses", RecordsKey: "courses", NextIDKey: "nextCourseId"},
	{Name: "viewing_logs", RecordsKey: "viewingLogs", NextIDKey: "nextViewingLogId"},
	{Name: "instructors", RecordsKey: "instructors", NextIDKey: "nextInstructorId"},
}

// LookupCollection resolves a collection by name.
func LookupCollection(name string) (Collection, bool) {
	for _, c := range Collections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// CollectionNames returns the names of all managed collections.
func CollectionNames() []string {
	names := make([]string, len(Collections))
	for i, c := range Collections {
		names[i] = c.Name
	}
	return names
}

// MarshalSnapshot serializes a snapshot into the collection's wire shape.
func MarshalSnapshot(col Collection, s *Snapshot) ([]byte, error) {
	records := make(map[string]Record, len(s.Records))
	for id, rec := range s.Records {
		records[strconv.FormatInt(id, 10)] = rec
	}
	doc := map[string]interface{}{
		col.RecordsKey: records,
		col.NextIDKey:  s.NextID,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal %s snapshot: %w", col.Name, err)
	}
	return data, nil
}

// UnmarshalSnapshot parses a serialized snapshot, defensively repairing
// structural problems without discarding valid data: a missing records map
// becomes empty, a missing or inconsistent next-id counter is recomputed
// from the highest id present, and entries with non-numeric keys or
// non-object values are skipped. The repaired flag reports whether any
// repair was applied so callers can re-persist the healed form.
//
// Data that is not a JSON object at all cannot be repaired and yields a
// *CorruptionError.
func UnmarshalSnapshot(col Collection, data []byte) (snap *Snapshot, repaired bool, err error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, &CorruptionError{Collection: col.Name, Detail: err.Error()}
	}

	snap = NewSnapshot()

	raw, ok := doc[col.RecordsKey]
	if !ok {
		repaired = true
	} else {
		var records map[string]Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, false, &CorruptionError{Collection: col.Name, Detail: fmt.Sprintf("%s: %v", col.RecordsKey, err)}
		}
		ids := make([]int64, 0, len(records))
		byID := make(map[int64]Record, len(records))
		for key, rec := range records {
			id, perr := strconv.ParseInt(key, 10, 64)
			if perr != nil || id <= 0 || rec == nil {
				repaired = true
				continue
			}
			// The map key is authoritative over any id field inside
			// the record.
			rec.SetID(id)
			byID[id] = rec
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			snap.Records[id] = byID[id]
			snap.Order = append(snap.Order, id)
		}
	}

	var maxID int64
	for id := range snap.Records {
		if id > maxID {
			maxID = id
		}
	}

	if raw, ok := doc[col.NextIDKey]; ok {
		var next int64
		if err := json.Unmarshal(raw, &next); err != nil || next <= maxID {
			repaired = true
			snap.NextID = maxID + 1
		} else {
			snap.NextID = next
		}
	} else {
		repaired = true
		snap.NextID = maxID + 1
	}

	return snap, repaired, nil
}
