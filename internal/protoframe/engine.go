package protoframe

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/seandlg/protoframe/internal/core/network"
)

// TellHandler receives the body of a matching tell. Tell handlers of one
// connector run one at a time in arrival order, off the transport's dispatch
// goroutine, so they may Ask or Ping.
type TellHandler func(body Payload) error

// AskHandler computes the response to a matching ask. A returned error means
// no response is sent.
type AskHandler func(ctx context.Context, body Payload) (any, error)

// engine is the tell/ask machinery shared by Pubsub, Publisher and Subscriber.
type engine struct {
	transport network.Transport
	codec     Codec
	logger    zerolog.Logger
	observer  Observer
	timeout   time.Duration
	registry  *registry
	inbox     *inbox

	// ctx is handed to ask handlers and ends on destroy.
	ctx    context.Context
	cancel context.CancelFunc
}

func newEngine(t network.Transport, o options) *engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &engine{
		transport: t,
		codec:     o.codec,
		logger:    o.logger,
		observer:  o.observer,
		timeout:   o.askTimeout,
		registry:  newRegistry(t),
		inbox:     newInbox(ctx),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// decode returns ok=false for anything that is not a protoframe record.
// Transports may carry unrelated traffic, so failures are only traced.
func (e *engine) decode(raw []byte) (Record, Tag, bool) {
	rec, tag, err := Decode(e.codec, raw)
	if err != nil {
		e.logger.Trace().Err(err).Msg("ignoring inbound message")
		return Record{}, Tag{}, false
	}
	return rec, tag, true
}

func (e *engine) payload(raw []byte) Payload {
	return Payload{raw: raw, codec: e.codec}
}

// handlerResult swallows shape mismatches reported by typed handlers.
func (e *engine) handlerResult(tag Tag, err error) error {
	if err != nil && errors.Is(err, ErrMalformedRecord) {
		e.logger.Debug().Err(err).Str("tag", tag.String()).Msg("ignoring record with unexpected shape")
		return nil
	}
	return err
}

func (e *engine) destroy() {
	if e.registry.destroy() {
		e.cancel()
	}
}
