package protoframe

import (
	"context"
	"sync"
)

// inbox runs handler work in arrival order on one goroutine of its own, so
// the transport's dispatch goroutine stays free to deliver ask responses
// while a handler waits on one. The queue is unbounded: pushing never blocks
// the dispatch goroutine.
type inbox struct {
	ctx   context.Context
	start sync.Once
	wake  chan struct{}

	mu    sync.Mutex
	queue []func()
}

func newInbox(ctx context.Context) *inbox {
	return &inbox{ctx: ctx, wake: make(chan struct{}, 1)}
}

// push queues fn. Work still queued when ctx ends is dropped.
func (b *inbox) push(fn func()) {
	b.start.Do(func() { go b.run() })
	b.mu.Lock()
	b.queue = append(b.queue, fn)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *inbox) run() {
	for {
		b.mu.Lock()
		batch := b.queue
		b.queue = nil
		b.mu.Unlock()

		for _, fn := range batch {
			if b.ctx.Err() != nil {
				return
			}
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-b.ctx.Done():
			return
		case <-b.wake:
		}
	}
}
