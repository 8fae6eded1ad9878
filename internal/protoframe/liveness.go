package protoframe

import (
	"context"
	"math/rand"
	"time"
)

// pingBody is the empty object sent and answered by liveness pings.
type pingBody struct{}

// ConnectOptions bounds Connect. Zero fields take the package defaults.
type ConnectOptions struct {
	Retries int
	Timeout time.Duration
	Backoff BackoffConfig
}

func (o ConnectOptions) withDefaults() ConnectOptions {
	if o.Retries <= 0 {
		o.Retries = DefaultConnectRetries
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultConnectTimeout
	}
	return o
}

// Pinger is anything that can ping for a live peer.
type Pinger interface {
	Protocol() Protocol
	Ping(ctx context.Context, timeout time.Duration) error
}

// answerPings makes the connector reply to liveness pings on the system
// namespace. The handler goes through the registry, so Destroy silences it.
func (e *engine) answerPings(p Protocol) error {
	return e.handleAsk(p.System().Namespace, pingMessageType, func(context.Context, Payload) (any, error) {
		return pingBody{}, nil
	})
}

func (e *engine) ping(ctx context.Context, p Protocol, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	_, err := e.ask(ctx, p.System().Namespace, pingMessageType, pingBody{}, timeout)
	return err
}

// Connect pings until a peer answers or the retries are used up. Peers may
// start in either order, and the transport gives no readiness signal.
func Connect(ctx context.Context, p Pinger, opts ConnectOptions) error {
	opts = opts.withDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()

	var last error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		if attempt > 1 {
			if delay := NextBackoffDelay(opts.Backoff, attempt-1, rng); delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C:
				}
			}
		}
		last = p.Ping(ctx, opts.Timeout)
		if last == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &ConnectionFailedError{
		Namespace: p.Protocol().Namespace,
		Retries:   opts.Retries,
		Elapsed:   time.Since(start),
		Last:      last,
	}
}
