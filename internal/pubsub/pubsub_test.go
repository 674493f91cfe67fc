package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMetricsTopic(t *testing.T) {
	got := MetricsTopic("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d")
	if got != "metrics:9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d" {
		t.Fatalf("unexpected topic %q", got)
	}
}

func TestMemoryPubsubFanout(t *testing.T) {
	mem := NewMemory()

	var a, b [][]byte
	mem.Subscribe("metrics:p1", func(_ string, payload []byte) { a = append(a, payload) })
	mem.Subscribe("metrics:p1", func(_ string, payload []byte) { b = append(b, payload) })
	mem.Subscribe("metrics:p2", func(_ string, payload []byte) {
		t.Fatal("other topic must not receive")
	})

	if err := mem.Publish(context.Background(), "metrics:p1", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("both subscribers should receive: a=%d b=%d", len(a), len(b))
	}
	if string(a[0]) != "hello" {
		t.Fatalf("unexpected payload %q", a[0])
	}
}

func TestRedisPublisherDeliversToSubscribers(t *testing.T) {
	mr := miniredis.RunT(t)

	pub, err := NewRedisPublisher(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("connecting publisher: %v", err)
	}
	defer pub.Close()

	// Subscribe the way a live dashboard gateway would.
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	channel := sub.Subscribe(context.Background(), "metrics:p1")
	defer channel.Close()
	if _, err := channel.Receive(context.Background()); err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	payload := []byte(`{"series":[{"ts":"2024-01-01T12:00:00Z","value":3}]}`)
	if err := pub.Publish(context.Background(), "metrics:p1", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-channel.Channel():
		if msg.Payload != string(payload) {
			t.Fatalf("unexpected payload %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRedisPublisherRejectsBadURL(t *testing.T) {
	if _, err := NewRedisPublisher(context.Background(), "not-a-url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}
