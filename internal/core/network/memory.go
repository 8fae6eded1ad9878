package network

import (
	"sync"
	"sync/atomic"
)

const defaultMemoryBuffer = 64

// MemoryPubSub is a process-local PubSub used for tests and single-process
// deployments. Delivery is best effort: a full subscriber queue drops the
// message, the same way a lossy network would.
type MemoryPubSub struct {
	mu      sync.RWMutex
	nextID  int
	buffer  int
	closed  bool
	subs    map[string]map[int]chan Message
	dropped atomic.Uint64
}

func NewMemoryPubSub() *MemoryPubSub {
	return NewMemoryPubSubWithBuffer(defaultMemoryBuffer)
}

// NewMemoryPubSubWithBuffer sets the per-subscriber queue length.
func NewMemoryPubSubWithBuffer(size int) *MemoryPubSub {
	if size <= 0 {
		size = defaultMemoryBuffer
	}
	return &MemoryPubSub{buffer: size, subs: make(map[string]map[int]chan Message)}
}

func (m *MemoryPubSub) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, ch := range m.subs[topic] {
		msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
		select {
		case ch <- msg:
		default:
			m.dropped.Add(1)
		}
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	if _, ok := m.subs[topic]; !ok {
		m.subs[topic] = make(map[int]chan Message)
	}
	id := m.nextID
	m.nextID++
	ch := make(chan Message, m.buffer)
	m.subs[topic][id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if subsByTopic, ok := m.subs[topic]; ok {
			if sub, exists := subsByTopic[id]; exists {
				delete(subsByTopic, id)
				close(sub)
			}
			if len(subsByTopic) == 0 {
				delete(m.subs, topic)
			}
		}
	}
	return ch, cancel, nil
}

// Dropped reports how many messages were discarded on full queues.
func (m *MemoryPubSub) Dropped() uint64 {
	return m.dropped.Load()
}

// Close closes every open subscription. Further calls fail with ErrClosed.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, subsByTopic := range m.subs {
		for id, ch := range subsByTopic {
			close(ch)
			delete(subsByTopic, id)
		}
		delete(m.subs, topic)
	}
	return nil
}
