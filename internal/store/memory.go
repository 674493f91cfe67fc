package store

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PratikDhanave/event-pipeline/internal/model"
)

// MemoryStore is an in-memory EventStore with the same filter,
// ordering, and dedup semantics as PostgresStore. It backs handler and
// pipeline tests that must not depend on a running database.
type MemoryStore struct {
	mut    sync.RWMutex
	events []model.Event
	seen   map[idemKey]struct{}
	now    func() time.Time
}

type idemKey struct {
	projectID uuid.UUID
	key       string
}

var _ EventStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen: make(map[idemKey]struct{}),
		now:  time.Now,
	}
}

func (m *MemoryStore) BulkInsert(_ context.Context, events []model.Event) (int, error) {
	m.mut.Lock()
	defer m.mut.Unlock()

	now := m.now().UTC()
	inserted := 0
	for _, e := range events {
		if e.IdempotencyKey != nil {
			k := idemKey{projectID: e.ProjectID, key: *e.IdempotencyKey}
			if _, dup := m.seen[k]; dup {
				continue
			}
			m.seen[k] = struct{}{}
		}
		e.TS = e.TS.UTC()
		e.CreatedAt = now
		e.UpdatedAt = now
		m.events = append(m.events, e)
		inserted++
	}
	return inserted, nil
}

// matches applies the filter the way the jsonb/SQL predicates do.
func matches(e model.Event, f EventFilter) bool {
	if e.ProjectID != f.ProjectID {
		return false
	}
	if len(f.Names) > 0 {
		found := false
		for _, n := range f.Names {
			if e.Name == n {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.UserID != nil && (e.UserID == nil || *e.UserID != *f.UserID) {
		return false
	}
	if f.Since != nil && e.TS.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !e.TS.Before(*f.Until) {
		return false
	}
	if len(f.PropsContains) > 0 && !containsValue(e.Props, f.PropsContains) {
		return false
	}
	return true
}

// containsValue mirrors Postgres jsonb @>: objects contain the filter
// when every filter key is present with a containing value, arrays when
// every filter element is contained in some target element, scalars on
// equality. Values go through a JSON round trip so number comparison
// matches jsonb semantics.
func containsValue(target, filter any) bool {
	switch fv := filter.(type) {
	case map[string]any:
		tv, ok := target.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range fv {
			got, ok := tv[k]
			if !ok || !containsValue(got, v) {
				return false
			}
		}
		return true
	case []any:
		tv, ok := target.([]any)
		if !ok {
			return false
		}
		for _, want := range fv {
			found := false
			for _, got := range tv {
				if containsValue(got, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(normalizeJSON(target), normalizeJSON(filter))
	}
}

func normalizeJSON(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// less orders a strictly before b under (ts DESC, id DESC). UUIDs
// compare byte-wise, matching Postgres.
func less(a, b model.Event) bool {
	if !a.TS.Equal(b.TS) {
		return a.TS.After(b.TS)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) > 0
}

func (m *MemoryStore) filtered(f EventFilter) []model.Event {
	m.mut.RLock()
	defer m.mut.RUnlock()

	var out []model.Event
	for _, e := range m.events {
		if matches(e, f) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (m *MemoryStore) ListOffset(_ context.Context, f EventFilter, limit, offset int) ([]model.Event, int64, error) {
	all := m.filtered(f)
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *MemoryStore) ListKeyset(_ context.Context, f EventFilter, limit int, after Cursor) ([]model.Event, *Cursor, error) {
	all := m.filtered(f)

	var page []model.Event
	for _, e := range all {
		afterRow := model.Event{TS: after.AfterTS, ID: after.AfterID}
		if !less(afterRow, e) {
			continue
		}
		page = append(page, e)
		if len(page) == limit {
			break
		}
	}

	var next *Cursor
	if len(page) > 0 {
		last := page[len(page)-1]
		next = &Cursor{AfterTS: last.TS, AfterID: last.ID}
	}
	return page, next, nil
}

func (m *MemoryStore) RollupSince(_ context.Context, since time.Time) ([]model.RollupBucket, error) {
	m.mut.RLock()
	defer m.mut.RUnlock()

	counts := make(map[uuid.UUID]map[time.Time]int)
	for _, e := range m.events {
		if e.TS.Before(since) {
			continue
		}
		bucket := e.TS.Truncate(time.Minute)
		if counts[e.ProjectID] == nil {
			counts[e.ProjectID] = make(map[time.Time]int)
		}
		counts[e.ProjectID][bucket]++
	}

	var buckets []model.RollupBucket
	for project, perBucket := range counts {
		for start, n := range perBucket {
			buckets = append(buckets, model.RollupBucket{
				ProjectID:   project,
				BucketStart: start,
				Count:       n,
			})
		}
	}
	return buckets, nil
}

func (m *MemoryStore) CountSeries(_ context.Context, projectID uuid.UUID, limit int) ([]model.SeriesPoint, error) {
	m.mut.RLock()
	defer m.mut.RUnlock()

	counts := make(map[time.Time]int)
	for _, e := range m.events {
		if e.ProjectID != projectID {
			continue
		}
		counts[e.TS.Truncate(time.Hour)]++
	}

	starts := make([]time.Time, 0, len(counts))
	for start := range counts {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].After(starts[j]) })
	if len(starts) > limit {
		starts = starts[:limit]
	}

	series := make([]model.SeriesPoint, 0, len(starts))
	for i := len(starts) - 1; i >= 0; i-- {
		series = append(series, model.SeriesPoint{
			TS:    starts[i].UTC().Format("2006-01-02T15:04:05Z"),
			Value: counts[starts[i]],
		})
	}
	return series, nil
}
