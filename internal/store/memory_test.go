package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/PratikDhanave/event-pipeline/internal/model"
)

func seedEvents(t *testing.T, st *MemoryStore, projectID uuid.UUID, n int) []model.Event {
	t.Helper()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	events := make([]model.Event, n)
	for i := range events {
		name := "page_view"
		if i%3 == 0 {
			name = "signup"
		}
		user := "alice"
		if i%2 == 0 {
			user = "bob"
		}
		events[i] = model.Event{
			ID:        uuid.New(),
			ProjectID: projectID,
			Name:      name,
			// Duplicate timestamps on purpose: the id tie-break must
			// keep the order total.
			TS:     base.Add(time.Duration(i/2) * time.Second),
			UserID: &user,
			Props:  map[string]any{"plan": "pro", "n": i},
		}
	}
	if _, err := st.BulkInsert(context.Background(), events); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	return events
}

// startCursor sorts after every real row, so keyset traversal can start
// from the top of the (ts DESC, id DESC) order.
func startCursor() Cursor {
	return Cursor{
		AfterTS: time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC),
		AfterID: uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff"),
	}
}

func TestListOffsetOrdering(t *testing.T) {
	st := NewMemoryStore()
	projectID := uuid.New()
	seedEvents(t, st, projectID, 20)

	events, total, err := st.ListOffset(context.Background(), EventFilter{ProjectID: projectID}, 200, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 20 {
		t.Fatalf("expected total 20, got %d", total)
	}
	for i := 1; i < len(events); i++ {
		a, b := events[i-1], events[i]
		if a.TS.Before(b.TS) {
			t.Fatalf("ts order violated at %d: %v before %v", i, a.TS, b.TS)
		}
		if a.TS.Equal(b.TS) && !less(a, b) {
			t.Fatalf("id tie-break violated at %d", i)
		}
	}
}

func TestKeysetMatchesOffset(t *testing.T) {
	st := NewMemoryStore()
	projectID := uuid.New()
	seedEvents(t, st, projectID, 57)

	filter := EventFilter{ProjectID: projectID}

	all, total, err := st.ListOffset(context.Background(), filter, 200, 0)
	if err != nil {
		t.Fatalf("offset list: %v", err)
	}
	if int64(len(all)) != total {
		t.Fatalf("expected %d rows, got %d", total, len(all))
	}

	// Walk every keyset page; the concatenation must equal the offset
	// scan, id for id, and the final page must end the traversal.
	var walked []model.Event
	cursor := startCursor()
	for {
		page, next, err := st.ListKeyset(context.Background(), filter, 10, cursor)
		if err != nil {
			t.Fatalf("keyset list: %v", err)
		}
		if len(page) == 0 {
			if next != nil {
				t.Fatal("empty page must return a nil cursor")
			}
			break
		}
		walked = append(walked, page...)
		cursor = *next
	}

	if len(walked) != len(all) {
		t.Fatalf("keyset walk returned %d rows, offset scan %d", len(walked), len(all))
	}
	for i := range all {
		if walked[i].ID != all[i].ID {
			t.Fatalf("row %d differs: keyset %s offset %s", i, walked[i].ID, all[i].ID)
		}
	}
}

func TestListFilters(t *testing.T) {
	st := NewMemoryStore()
	projectID := uuid.New()
	seedEvents(t, st, projectID, 12)

	// Another project's rows never leak in.
	otherID := uuid.New()
	seedEvents(t, st, otherID, 5)

	ctx := context.Background()

	_, total, err := st.ListOffset(ctx, EventFilter{ProjectID: projectID}, 200, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 12 {
		t.Fatalf("expected 12 rows for project, got %d", total)
	}

	_, total, _ = st.ListOffset(ctx, EventFilter{ProjectID: projectID, Names: []string{"signup"}}, 200, 0)
	if total != 4 {
		t.Fatalf("expected 4 signup rows, got %d", total)
	}

	_, total, _ = st.ListOffset(ctx, EventFilter{ProjectID: projectID, Names: []string{"signup", "page_view"}}, 200, 0)
	if total != 12 {
		t.Fatalf("expected 12 rows for both names, got %d", total)
	}

	alice := "alice"
	_, total, _ = st.ListOffset(ctx, EventFilter{ProjectID: projectID, UserID: &alice}, 200, 0)
	if total != 6 {
		t.Fatalf("expected 6 alice rows, got %d", total)
	}

	// since inclusive, until exclusive: [12:00:01, 12:00:03) covers the
	// four rows at seconds 1 and 2.
	since := time.Date(2024, 1, 1, 12, 0, 1, 0, time.UTC)
	until := time.Date(2024, 1, 1, 12, 0, 3, 0, time.UTC)
	_, total, _ = st.ListOffset(ctx, EventFilter{ProjectID: projectID, Since: &since, Until: &until}, 200, 0)
	if total != 4 {
		t.Fatalf("expected 4 rows in window, got %d", total)
	}

	// Containment, not substring: {"plan":"pro"} matches every row,
	// {"plan":"pro","n":3} only row 3.
	_, total, _ = st.ListOffset(ctx, EventFilter{ProjectID: projectID, PropsContains: map[string]any{"plan": "pro"}}, 200, 0)
	if total != 12 {
		t.Fatalf("expected 12 rows containing plan=pro, got %d", total)
	}
	_, total, _ = st.ListOffset(ctx, EventFilter{ProjectID: projectID, PropsContains: map[string]any{"plan": "pro", "n": 3}}, 200, 0)
	if total != 1 {
		t.Fatalf("expected 1 row containing n=3, got %d", total)
	}
	_, total, _ = st.ListOffset(ctx, EventFilter{ProjectID: projectID, PropsContains: map[string]any{"plan": "p"}}, 200, 0)
	if total != 0 {
		t.Fatalf("substring must not match, got %d rows", total)
	}
}

func TestRollupSinceGroupsByMinute(t *testing.T) {
	st := NewMemoryStore()
	projectID := uuid.New()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var events []model.Event
	for i := 0; i < 3; i++ {
		events = append(events, model.Event{
			ID: uuid.New(), ProjectID: projectID, Name: "page_view",
			TS: base.Add(time.Duration(i*10) * time.Second), Props: map[string]any{},
		})
	}
	events = append(events, model.Event{
		ID: uuid.New(), ProjectID: projectID, Name: "page_view",
		TS: base.Add(90 * time.Second), Props: map[string]any{},
	})
	if _, err := st.BulkInsert(context.Background(), events); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	buckets, err := st.RollupSince(context.Background(), base)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	counts := map[time.Time]int{}
	for _, b := range buckets {
		counts[b.BucketStart] = b.Count
	}
	if counts[base] != 3 {
		t.Fatalf("expected 3 in first minute, got %d", counts[base])
	}
	if counts[base.Add(time.Minute)] != 1 {
		t.Fatalf("expected 1 in second minute, got %d", counts[base.Add(time.Minute)])
	}
}
