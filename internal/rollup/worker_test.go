package rollup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/PratikDhanave/event-pipeline/internal/model"
	"github.com/PratikDhanave/event-pipeline/internal/pubsub"
	"github.com/PratikDhanave/event-pipeline/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCyclePublishesMinuteBuckets(t *testing.T) {
	st := store.NewMemoryStore()
	mem := pubsub.NewMemory()
	projectID := uuid.New()

	now := time.Date(2024, 1, 1, 12, 1, 30, 0, time.UTC)
	bucket := time.Date(2024, 1, 1, 12, 1, 0, 0, time.UTC)

	var events []model.Event
	for i := 0; i < 5; i++ {
		events = append(events, model.Event{
			ID: uuid.New(), ProjectID: projectID, Name: "page_view",
			TS: bucket.Add(time.Duration(i) * time.Second), Props: map[string]any{},
		})
	}
	if _, err := st.BulkInsert(context.Background(), events); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	var got [][]byte
	mem.Subscribe(pubsub.MetricsTopic(projectID.String()), func(_ string, payload []byte) {
		got = append(got, payload)
	})

	w := NewWorker(st, mem, discardLogger())
	w.now = func() time.Time { return now }

	if err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 published bucket, got %d", len(got))
	}

	var msg struct {
		Series []model.SeriesPoint `json:"series"`
	}
	if err := json.Unmarshal(got[0], &msg); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if len(msg.Series) != 1 {
		t.Fatalf("expected one series point, got %d", len(msg.Series))
	}
	if msg.Series[0].Value != 5 {
		t.Fatalf("expected bucket value 5, got %d", msg.Series[0].Value)
	}
	if msg.Series[0].TS != "2024-01-01T12:01:00Z" {
		t.Fatalf("unexpected bucket ts %q", msg.Series[0].TS)
	}
}

func TestCycleIgnoresEventsOutsideLookback(t *testing.T) {
	st := store.NewMemoryStore()
	mem := pubsub.NewMemory()
	projectID := uuid.New()

	now := time.Date(2024, 1, 1, 12, 10, 0, 0, time.UTC)
	if _, err := st.BulkInsert(context.Background(), []model.Event{{
		ID: uuid.New(), ProjectID: projectID, Name: "page_view",
		TS: now.Add(-3 * time.Minute), Props: map[string]any{},
	}}); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	published := 0
	mem.Subscribe(pubsub.MetricsTopic(projectID.String()), func(string, []byte) {
		published++
	})

	w := NewWorker(st, mem, discardLogger())
	w.now = func() time.Time { return now }

	if err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if published != 0 {
		t.Fatalf("stale event should not publish, got %d messages", published)
	}
}

type failingStore struct{}

func (failingStore) RollupSince(context.Context, time.Time) ([]model.RollupBucket, error) {
	return nil, errors.New("store unreachable")
}

func TestCycleFailureIsIsolated(t *testing.T) {
	w := NewWorker(failingStore{}, pubsub.NewMemory(), discardLogger())

	if err := w.runCycle(context.Background()); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestWorkerStartStop(t *testing.T) {
	st := store.NewMemoryStore()
	w := NewWorker(st, pubsub.NewMemory(), discardLogger())
	w.interval = 5 * time.Millisecond

	w.Start()
	time.Sleep(25 * time.Millisecond)
	w.Stop()

	// Stop must be final: no goroutine left ticking.
	select {
	case <-w.done:
	default:
		t.Fatal("worker loop still running after Stop")
	}
}
