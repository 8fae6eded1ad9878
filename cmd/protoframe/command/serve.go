package command

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/seandlg/protoframe/internal/cacheapi"
	"github.com/seandlg/protoframe/internal/cacheservice"
	"github.com/seandlg/protoframe/internal/config"
	"github.com/seandlg/protoframe/internal/core/network"
	"github.com/seandlg/protoframe/internal/logging"
	"github.com/seandlg/protoframe/internal/observability"
	"github.com/seandlg/protoframe/internal/protoframe"
)

var (
	serveAddr   string
	serveStatic string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the cache service",
	Long: `Host the cache service. The HTTP listener always serves /ws (one connector
per websocket), /api/cache/* and /metrics. With --transport libp2p the service
also holds one end of a gossip pipe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.HTTPAddr = serveAddr
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "http listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveStatic, "static", "", "also serve files from this directory at /")
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := logging.New("serve")

	var (
		metrics *observability.Metrics
		reg     = prometheus.NewRegistry()
		extra   []protoframe.Option
	)
	if cfg.Metrics {
		m, err := observability.NewMetrics(reg)
		if err != nil {
			return err
		}
		metrics = m
		extra = append(extra, protoframe.WithObserver(m))
	}
	opts, err := connectorOptions(cfg, logging.New("protoframe"), extra...)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	events := network.NewMemoryPubSub()
	defer events.Close()
	svc := cacheservice.NewServer(store, events, logging.New("cache"), opts...).WithProtocol(protocolFor(cfg))
	defer svc.Close()

	// The HTTP API reaches the service through an in-process pipe, exactly as
	// a remote client would.
	apiEnd, svcEnd, err := network.NewMemoryPipe("api", logger)
	if err != nil {
		return err
	}
	defer apiEnd.Close()
	defer svcEnd.Close()
	if _, err := svc.Serve(svcEnd); err != nil {
		return err
	}
	apiConn, err := protoframe.New(protocolFor(cfg), apiEnd, opts...)
	if err != nil {
		return err
	}
	defer apiConn.Destroy()

	if cfg.Transport == config.TransportLibp2p {
		ps, err := openLibp2p(ctx, cfg, logging.New("libp2p"))
		if err != nil {
			return err
		}
		defer ps.Close()
		side, err := serverSide(cfg)
		if err != nil {
			return err
		}
		end, err := network.NewPipeEnd(ps, cfg.Libp2p.Pipe, side, logger)
		if err != nil {
			return err
		}
		defer end.Close()
		if _, err := svc.Serve(end); err != nil {
			return err
		}
		logger.Info().Str("pipe", cfg.Libp2p.Pipe).Msg("serving over libp2p")
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", network.WebSocketHandler(cfg.Binary, logging.New("ws"), func(link *network.WebSocketLink) {
		ps, err := svc.Serve(link)
		if err != nil {
			logger.Warn().Err(err).Msg("serve websocket")
			return
		}
		defer svc.Release(ps)
		select {
		case <-link.Done():
		case <-ctx.Done():
		}
	}))
	cacheapi.NewServer(newCacheClient(apiConn, cfg), svc).Register(mux)
	if cfg.Metrics {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	if serveStatic != "" {
		mux.Handle("/", http.FileServer(http.Dir(serveStatic)))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           observability.Middleware(logging.New("http"), metrics, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("namespace", cfg.Namespace).Msg("protoframe listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
