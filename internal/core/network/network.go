package network

import "errors"

var ErrClosed = errors.New("network: transport closed")

// Message is the envelope delivered on a pubsub topic.
type Message struct {
	Topic   string
	Payload []byte
}

// PubSub is a minimal interface for broadcast-style communication.
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
}

// Handler receives one inbound payload. Errors are reported back to the
// dispatching transport, which logs them.
type Handler func(payload []byte) error

// Subscription identifies one registered Handler on a Transport.
type Subscription uint64

// Transport is a full-duplex message channel. Send does not wait for delivery
// and reports no acknowledgment from the other side.
type Transport interface {
	Send(payload []byte) error
	OnMessage(h Handler) Subscription
	RemoveSubscription(s Subscription)
}
