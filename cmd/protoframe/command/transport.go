package command

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/seandlg/protoframe/internal/cacheproto"
	"github.com/seandlg/protoframe/internal/cacheservice"
	"github.com/seandlg/protoframe/internal/config"
	"github.com/seandlg/protoframe/internal/core/network"
	"github.com/seandlg/protoframe/internal/protoframe"
)

func connectorOptions(cfg config.Config, logger zerolog.Logger, extra ...protoframe.Option) ([]protoframe.Option, error) {
	codec, err := protoframe.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	opts := []protoframe.Option{
		protoframe.WithCodec(codec),
		protoframe.WithLogger(logger),
		protoframe.WithAskTimeout(cfg.AskTimeout),
	}
	return append(opts, extra...), nil
}

func protocolFor(cfg config.Config) protoframe.Protocol {
	if cfg.Namespace == "" {
		return cacheproto.Protocol
	}
	return protoframe.Protocol{Namespace: cfg.Namespace}
}

func openLibp2p(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*network.Libp2pPubSub, error) {
	ps, err := network.NewLibp2pPubSub(ctx, network.Libp2pOptions{
		ListenAddrs:     cfg.Libp2p.ListenAddrs,
		Bootstrap:       cfg.Libp2p.Bootstrap,
		Rendezvous:      cfg.Libp2p.Rendezvous,
		EnableMDNS:      cfg.Libp2p.EnableMDNS,
		IdentityKeyFile: cfg.Libp2p.IdentityFile,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("peer_id", ps.PeerID()).Strs("addrs", ps.ListenAddrs()).Msg("libp2p host started")
	return ps, nil
}

// newCacheClient applies the configured ask and ping timeouts.
func newCacheClient(ps *protoframe.Pubsub, cfg config.Config) *cacheservice.Client {
	return cacheservice.NewClient(ps, cfg.AskTimeout).WithPingTimeout(cfg.PingTimeout)
}

// clientSide is the pipe end client commands hold. The server takes the
// other one.
func clientSide(cfg config.Config) (network.Side, error) {
	return network.ParseSide(cfg.Libp2p.Side)
}

func serverSide(cfg config.Config) (network.Side, error) {
	side, err := clientSide(cfg)
	if err != nil {
		return side, err
	}
	if side == network.SideA {
		return network.SideB, nil
	}
	return network.SideA, nil
}

// dialClient opens the configured transport and builds a connector on it.
// The returned func tears both down.
func dialClient(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*protoframe.Pubsub, func(), error) {
	var (
		link    network.Transport
		closers []func()
	)
	switch cfg.Transport {
	case config.TransportWebSocket:
		ws, err := network.DialWebSocket(ctx, cfg.WebSocketURL, cfg.Binary, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", cfg.WebSocketURL, err)
		}
		link = ws
		closers = append(closers, func() { _ = ws.Close() })
	case config.TransportLibp2p:
		ps, err := openLibp2p(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = ps.Close() })
		side, err := clientSide(cfg)
		if err != nil {
			_ = ps.Close()
			return nil, nil, err
		}
		end, err := network.NewPipeEnd(ps, cfg.Libp2p.Pipe, side, logger)
		if err != nil {
			_ = ps.Close()
			return nil, nil, err
		}
		link = end
		closers = append(closers, func() { _ = end.Close() })
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	teardown := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	opts, err := connectorOptions(cfg, logger)
	if err != nil {
		teardown()
		return nil, nil, err
	}
	ps, err := protoframe.New(protocolFor(cfg), link, opts...)
	if err != nil {
		teardown()
		return nil, nil, err
	}
	return ps, func() {
		ps.Destroy()
		teardown()
	}, nil
}

func openStore(ctx context.Context, cfg config.Config) (cacheservice.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		return cacheservice.NewRedisStore(ctx, cacheservice.RedisOptions{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Prefix:   cfg.Store.RedisPrefix,
			TTL:      cfg.Store.TTL,
		})
	default:
		return cacheservice.NewMemoryStore(), nil
	}
}
