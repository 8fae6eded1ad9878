package protoframe

import (
	"sync"

	"github.com/seandlg/protoframe/internal/core/network"
)

// registry records every transport subscription a connector created so that
// Destroy can detach them all without touching the transport itself.
type registry struct {
	mu        sync.Mutex
	transport network.Transport
	subs      []network.Subscription
	destroyed bool
}

func newRegistry(t network.Transport) *registry {
	return &registry{transport: t}
}

func (r *registry) add(h network.Handler) (network.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return 0, ErrDestroyed
	}
	sub := r.transport.OnMessage(h)
	r.subs = append(r.subs, sub)
	return sub, nil
}

// destroy detaches all recorded subscriptions. It reports whether this call
// did the work, so repeated calls are harmless.
func (r *registry) destroy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return false
	}
	r.destroyed = true
	for _, sub := range r.subs {
		r.transport.RemoveSubscription(sub)
	}
	r.subs = nil
	return true
}
