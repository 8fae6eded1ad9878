package network

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLibp2pPipeAcrossHosts(t *testing.T) {
	if testing.Short() {
		t.Skip("starts two libp2p hosts")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	first, err := NewLibp2pPubSub(ctx, Libp2pOptions{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	defer first.Close()

	second, err := NewLibp2pPubSub(ctx, Libp2pOptions{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		Bootstrap:   first.ListenAddrs(),
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	defer second.Close()
	require.Contains(t, second.ConnectedPeers(), first.PeerID())

	a, err := NewPipeEnd(first, "libp2p-test", SideA, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	b, err := NewPipeEnd(second, "libp2p-test", SideB, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	got := make(chan string, 16)
	b.OnMessage(func(p []byte) error {
		got <- string(p)
		return nil
	})

	// Gossip meshes form over a few heartbeats; keep publishing until one
	// message makes it.
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		require.NoError(t, a.Send([]byte("hello")))
		select {
		case msg := <-got:
			require.Equal(t, "hello", msg)
			return
		case <-tick.C:
		case <-ctx.Done():
			t.Fatal("no message crossed the libp2p pipe")
		}
	}
}
