// Package rollup hosts the background worker that aggregates recent
// events into per-minute counters and fans them out to live
// subscribers. It shares nothing with the request path except the event
// store and the fanout channel.
package rollup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/PratikDhanave/event-pipeline/internal/model"
	"github.com/PratikDhanave/event-pipeline/internal/pubsub"
)

// Default cadence: a new cycle starts Interval after the previous one
// ended, so cycles never overlap. Lookback covers one extra cycle so
// events committed just before a boundary are still counted; downstream
// subscribers must treat repeated buckets as overwrites, not
// increments.
const (
	Interval = 60 * time.Second
	Lookback = 2 * time.Minute
)

// Store is the slice of the event store the worker reads.
type Store interface {
	RollupSince(ctx context.Context, since time.Time) ([]model.RollupBucket, error)
}

// message is the wire form of one bucket update.
type message struct {
	Series []model.SeriesPoint `json:"series"`
}

// Worker periodically publishes per-project minute counts. It has two
// states: idle between ticks and aggregating during a cycle. A failed
// cycle is logged and skipped; the next tick starts fresh.
type Worker struct {
	store    Store
	pub      pubsub.Publisher
	log      *slog.Logger
	interval time.Duration
	lookback time.Duration
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
}

func NewWorker(store Store, pub pubsub.Publisher, log *slog.Logger) *Worker {
	return &Worker{
		store:    store,
		pub:      pub,
		log:      log,
		interval: Interval,
		lookback: Lookback,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the worker loop. Call Stop to shut it down.
func (w *Worker) Start() {
	go w.run()
}

// Stop halts the loop and waits for any in-flight cycle to finish.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.interval)
		if err := w.runCycle(ctx); err != nil {
			w.log.Error("rollup cycle failed", "error", err)
		}
		cancel()

		// Re-armed after the cycle ends, not on a fixed schedule, so a
		// slow cycle delays the next one instead of overlapping it.
		timer.Reset(w.interval)
	}
}

// runCycle reads minute buckets for the lookback window and publishes
// one message per (project, bucket).
func (w *Worker) runCycle(ctx context.Context) error {
	since := w.now().UTC().Add(-w.lookback)
	buckets, err := w.store.RollupSince(ctx, since)
	if err != nil {
		return fmt.Errorf("aggregating: %w", err)
	}

	for _, b := range buckets {
		payload, err := json.Marshal(message{Series: []model.SeriesPoint{{
			TS:    b.BucketStart.UTC().Format("2006-01-02T15:04:05Z"),
			Value: b.Count,
		}}})
		if err != nil {
			return fmt.Errorf("encoding bucket: %w", err)
		}
		topic := pubsub.MetricsTopic(b.ProjectID.String())
		if err := w.pub.Publish(ctx, topic, payload); err != nil {
			return fmt.Errorf("publishing bucket: %w", err)
		}
	}

	if len(buckets) > 0 {
		w.log.Debug("rollup cycle published", "buckets", len(buckets))
	}
	return nil
}
