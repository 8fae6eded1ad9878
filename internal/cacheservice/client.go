package cacheservice

import (
	"context"
	"time"

	"github.com/seandlg/protoframe/internal/cacheproto"
	"github.com/seandlg/protoframe/internal/protoframe"
)

// Client issues cache calls through a connector. Sets and deletes are
// fire-and-forget; only Get waits for the server.
type Client struct {
	ps          *protoframe.Pubsub
	timeout     time.Duration
	pingTimeout time.Duration
}

// NewClient wraps ps. A timeout <= 0 uses the connector's ask timeout.
func NewClient(ps *protoframe.Pubsub, timeout time.Duration) *Client {
	return &Client{ps: ps, timeout: timeout}
}

// WithPingTimeout bounds Ping. A timeout <= 0 uses the package ping default.
func (c *Client) WithPingTimeout(d time.Duration) *Client {
	c.pingTimeout = d
	return c
}

func (c *Client) Connect(ctx context.Context, opts protoframe.ConnectOptions) error {
	return c.ps.Connect(ctx, opts)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.ps.Ping(ctx, c.pingTimeout)
}

func (c *Client) Set(key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return cacheproto.Set.Tell(c.ps, cacheproto.SetRequest{Key: key, Value: value})
}

func (c *Client) Delete(key string) error {
	return cacheproto.Delete.Tell(c.ps, cacheproto.DeleteRequest{Key: key})
}

// Get returns nil for keys the server does not hold.
func (c *Client) Get(ctx context.Context, key string) (*string, error) {
	resp, err := cacheproto.Get.Ask(ctx, c.ps, cacheproto.GetRequest{Key: key}, c.timeout)
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}
