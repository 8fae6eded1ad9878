package network

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// PubSubLink turns a PubSub into a full-duplex Transport by publishing on one
// topic and consuming another. Two links with crossed topics form a pipe.
type PubSubLink struct {
	*Dispatcher

	ps       PubSub
	inTopic  string
	outTopic string

	cancel    func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewPubSubLink subscribes to inTopic and starts the dispatch goroutine.
func NewPubSubLink(ps PubSub, inTopic, outTopic string, logger zerolog.Logger) (*PubSubLink, error) {
	ch, cancel, err := ps.Subscribe(inTopic)
	if err != nil {
		return nil, err
	}
	l := &PubSubLink{
		Dispatcher: NewDispatcher(logger.With().Str("topic", inTopic).Logger()),
		ps:         ps,
		inTopic:    inTopic,
		outTopic:   outTopic,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go l.consume(ch)
	return l, nil
}

// Side selects which end of a named pipe a process holds.
type Side int

const (
	SideA Side = iota
	SideB
)

// ParseSide accepts "a" or "b".
func ParseSide(raw string) (Side, error) {
	switch raw {
	case "a", "A":
		return SideA, nil
	case "b", "B":
		return SideB, nil
	default:
		return SideA, fmt.Errorf("network: unknown pipe side %q", raw)
	}
}

// NewPipeEnd opens one end of the pipe called name. Side A publishes on
// "<name>/a" and consumes "<name>/b"; side B the reverse. Processes sharing a
// libp2p gossip mesh use this to hold opposite ends.
func NewPipeEnd(ps PubSub, name string, side Side, logger zerolog.Logger) (*PubSubLink, error) {
	a2b, b2a := name+"/a", name+"/b"
	if side == SideB {
		return NewPubSubLink(ps, a2b, b2a, logger)
	}
	return NewPubSubLink(ps, b2a, a2b, logger)
}

// NewPipe returns both ends of a link named name over ps.
func NewPipe(ps PubSub, name string, logger zerolog.Logger) (*PubSubLink, *PubSubLink, error) {
	left, err := NewPipeEnd(ps, name, SideA, logger)
	if err != nil {
		return nil, nil, err
	}
	right, err := NewPipeEnd(ps, name, SideB, logger)
	if err != nil {
		_ = left.Close()
		return nil, nil, err
	}
	return left, right, nil
}

// NewMemoryPipe is NewPipe over a fresh MemoryPubSub.
func NewMemoryPipe(name string, logger zerolog.Logger) (*PubSubLink, *PubSubLink, error) {
	return NewPipe(NewMemoryPubSub(), name, logger)
}

func (l *PubSubLink) Send(payload []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	return l.ps.Publish(l.outTopic, payload)
}

// Close stops consuming the inbound topic. The PubSub itself stays open.
func (l *PubSubLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.cancel()
	})
	return nil
}

func (l *PubSubLink) consume(ch <-chan Message) {
	for {
		select {
		case <-l.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			l.Dispatch(msg.Payload)
		}
	}
}
