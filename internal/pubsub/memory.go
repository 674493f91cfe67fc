package pubsub

import (
	"context"
	"sync"
)

// Listener receives one published payload.
type Listener func(topic string, payload []byte)

// MemoryPubsub is an in-process Publisher for tests. Subscribers are
// invoked synchronously from Publish.
type MemoryPubsub struct {
	mut       sync.RWMutex
	listeners map[string][]Listener
}

var _ Publisher = (*MemoryPubsub)(nil)

func NewMemory() *MemoryPubsub {
	return &MemoryPubsub{listeners: make(map[string][]Listener)}
}

// Subscribe registers a listener for one topic. There is no unsubscribe;
// the tests that need it throw the whole pubsub away.
func (m *MemoryPubsub) Subscribe(topic string, l Listener) {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.listeners[topic] = append(m.listeners[topic], l)
}

func (m *MemoryPubsub) Publish(_ context.Context, topic string, payload []byte) error {
	m.mut.RLock()
	defer m.mut.RUnlock()
	for _, l := range m.listeners[topic] {
		l(topic, payload)
	}
	return nil
}

func (m *MemoryPubsub) Close() error {
	return nil
}
