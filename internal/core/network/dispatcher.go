package network

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type subscriber struct {
	id      Subscription
	handler Handler
	active  atomic.Bool
}

// Dispatcher keeps the ordered subscriber list of one transport and fans every
// inbound payload out to it. Links call Dispatch from a single goroutine, so
// handlers of one link never run concurrently with each other.
type Dispatcher struct {
	mu     sync.Mutex
	nextID Subscription
	subs   []*subscriber
	logger zerolog.Logger
}

func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// OnMessage appends h to the subscriber list.
func (d *Dispatcher) OnMessage(h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	s := &subscriber{id: d.nextID, handler: h}
	s.active.Store(true)
	d.subs = append(d.subs, s)
	return s.id
}

// RemoveSubscription detaches one subscriber. Unknown ids are ignored.
func (d *Dispatcher) RemoveSubscription(id Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s.id == id {
			s.active.Store(false)
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return
		}
	}
}

// Len reports the number of attached subscribers.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Dispatch delivers payload to every subscriber in registration order.
// A subscriber removed while an earlier one runs is skipped.
func (d *Dispatcher) Dispatch(payload []byte) {
	d.mu.Lock()
	snapshot := append([]*subscriber(nil), d.subs...)
	d.mu.Unlock()

	for _, s := range snapshot {
		if !s.active.Load() {
			continue
		}
		if err := s.handler(payload); err != nil {
			d.logger.Warn().Err(err).Uint64("subscription", uint64(s.id)).Msg("message handler failed")
		}
	}
}
