package protoframe

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/seandlg/protoframe/internal/logging"
)

const (
	DefaultAskTimeout     = 10 * time.Second
	DefaultPingTimeout    = 10 * time.Second
	DefaultConnectRetries = 50
	DefaultConnectTimeout = 500 * time.Millisecond
)

// Observer receives protocol events, typically to feed metrics.
type Observer interface {
	RecordSent(namespace string, action Action, msgType string)
	RecordHandled(namespace string, action Action, msgType string)
	RecordAsk(namespace, msgType string, elapsed time.Duration, err error)
	RecordHandlerFailure(namespace, msgType string)
}

type nopObserver struct{}

func (nopObserver) RecordSent(string, Action, string) {}
func (nopObserver) RecordHandled(string, Action, string) {}
func (nopObserver) RecordAsk(string, string, time.Duration, error) {}
func (nopObserver) RecordHandlerFailure(string, string) {}

type options struct {
	codec      Codec
	logger     zerolog.Logger
	observer   Observer
	askTimeout time.Duration
}

// Option customizes a connector.
type Option func(*options)

// WithCodec replaces the default JSON codec.
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithAskTimeout sets the timeout used when Ask is called with timeout <= 0.
func WithAskTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.askTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		codec:      JSON(),
		logger:     logging.New("protoframe"),
		observer:   nopObserver{},
		askTimeout: DefaultAskTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
