package protoframe

import (
	"context"
	"time"

	"github.com/seandlg/protoframe/internal/core/network"
)

// Pubsub is a full connector: it tells, asks, handles both, and answers
// liveness pings from the moment it is built.
type Pubsub struct {
	protocol Protocol
	engine   *engine
}

// New builds a Pubsub for protocol over transport. The transport stays owned
// by the caller; Destroy never closes it.
func New(protocol Protocol, transport network.Transport, opts ...Option) (*Pubsub, error) {
	if err := protocol.Validate(); err != nil {
		return nil, err
	}
	e := newEngine(transport, buildOptions(opts))
	if err := e.answerPings(protocol); err != nil {
		return nil, err
	}
	e.logger.Debug().Str("namespace", protocol.Namespace).Msg("connector ready")
	return &Pubsub{protocol: protocol, engine: e}, nil
}

func (p *Pubsub) Protocol() Protocol { return p.protocol }

// Tell sends body without waiting. It succeeds whether or not anyone listens.
func (p *Pubsub) Tell(msgType string, body any) error {
	return p.engine.tell(p.protocol.Namespace, msgType, body)
}

// Ask sends body and waits for the matching response. A timeout <= 0 uses the
// connector default.
func (p *Pubsub) Ask(ctx context.Context, msgType string, body any, timeout time.Duration) (Payload, error) {
	return p.engine.ask(ctx, p.protocol.Namespace, msgType, body, timeout)
}

// HandleTell registers handler for tells of msgType. Handlers run in arrival
// order on the connector's inbox goroutine and may Ask or Ping.
func (p *Pubsub) HandleTell(msgType string, handler TellHandler) error {
	return p.engine.handleTell(p.protocol.Namespace, msgType, handler)
}

func (p *Pubsub) HandleAsk(msgType string, handler AskHandler) error {
	return p.engine.handleAsk(p.protocol.Namespace, msgType, handler)
}

// Ping resolves once any live connector of the same protocol answers. It says
// nothing about whether that peer is still there afterwards.
func (p *Pubsub) Ping(ctx context.Context, timeout time.Duration) error {
	return p.engine.ping(ctx, p.protocol, timeout)
}

// Connect retries Ping until a peer answers.
func (p *Pubsub) Connect(ctx context.Context, opts ConnectOptions) error {
	return Connect(ctx, p, opts)
}

// Destroy detaches every handler this connector registered, including the
// ping responder. Pending asks keep racing their own timers.
func (p *Pubsub) Destroy() {
	p.engine.destroy()
}

// Publisher only sends tells. It registers nothing on the transport.
type Publisher struct {
	protocol Protocol
	engine   *engine
}

func NewPublisher(protocol Protocol, transport network.Transport, opts ...Option) (*Publisher, error) {
	if err := protocol.Validate(); err != nil {
		return nil, err
	}
	return &Publisher{protocol: protocol, engine: newEngine(transport, buildOptions(opts))}, nil
}

func (p *Publisher) Protocol() Protocol { return p.protocol }

func (p *Publisher) Tell(msgType string, body any) error {
	return p.engine.tell(p.protocol.Namespace, msgType, body)
}

func (p *Publisher) Destroy() { p.engine.destroy() }

// Subscriber only handles tells. It does not answer pings.
type Subscriber struct {
	protocol Protocol
	engine   *engine
}

func NewSubscriber(protocol Protocol, transport network.Transport, opts ...Option) (*Subscriber, error) {
	if err := protocol.Validate(); err != nil {
		return nil, err
	}
	return &Subscriber{protocol: protocol, engine: newEngine(transport, buildOptions(opts))}, nil
}

func (s *Subscriber) Protocol() Protocol { return s.protocol }

func (s *Subscriber) HandleTell(msgType string, handler TellHandler) error {
	return s.engine.handleTell(s.protocol.Namespace, msgType, handler)
}

func (s *Subscriber) Destroy() { s.engine.destroy() }
