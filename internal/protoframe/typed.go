package protoframe

import (
	"context"
	"time"
)

// Teller sends tells. Pubsub and Publisher implement it.
type Teller interface {
	Tell(msgType string, body any) error
}

// TellRegistrar registers tell handlers. Pubsub and Subscriber implement it.
type TellRegistrar interface {
	HandleTell(msgType string, handler TellHandler) error
}

type Asker interface {
	Ask(ctx context.Context, msgType string, body any, timeout time.Duration) (Payload, error)
}

type AskRegistrar interface {
	HandleAsk(msgType string, handler AskHandler) error
}

// TellMessage names a tell type whose body has shape B.
type TellMessage[B any] struct {
	name string
}

func NewTell[B any](name string) TellMessage[B] { return TellMessage[B]{name: name} }

func (m TellMessage[B]) Name() string { return m.name }

func (m TellMessage[B]) Tell(t Teller, body B) error {
	return t.Tell(m.name, body)
}

// Handle registers fn for this type. Bodies that do not decode into B are
// dropped.
func (m TellMessage[B]) Handle(r TellRegistrar, fn func(B) error) error {
	return r.HandleTell(m.name, func(p Payload) error {
		var body B
		if err := p.Decode(&body); err != nil {
			return err
		}
		return fn(body)
	})
}

// AskMessage names an ask type with body shape B and response shape R.
type AskMessage[B, R any] struct {
	name string
}

func NewAsk[B, R any](name string) AskMessage[B, R] { return AskMessage[B, R]{name: name} }

func (m AskMessage[B, R]) Name() string { return m.name }

// Ask sends body and decodes the response into R. A response of the wrong
// shape fails with ErrMalformedRecord.
func (m AskMessage[B, R]) Ask(ctx context.Context, a Asker, body B, timeout time.Duration) (R, error) {
	var resp R
	p, err := a.Ask(ctx, m.name, body, timeout)
	if err != nil {
		return resp, err
	}
	if err := p.Decode(&resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (m AskMessage[B, R]) Handle(r AskRegistrar, fn func(context.Context, B) (R, error)) error {
	return r.HandleAsk(m.name, func(ctx context.Context, p Payload) (any, error) {
		var body B
		if err := p.Decode(&body); err != nil {
			return nil, err
		}
		return fn(ctx, body)
	})
}
