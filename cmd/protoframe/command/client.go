package command

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/seandlg/protoframe/internal/cacheservice"
	"github.com/seandlg/protoframe/internal/logging"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Wait until a cache server answers liveness pings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *cacheservice.Client) error {
			start := time.Now()
			if err := c.Ping(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pong in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value stored under key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *cacheservice.Client) error {
			v, err := c.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if v == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "(nil)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), *v)
			return nil
		})
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store value under key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *cacheservice.Client) error {
			if err := c.Set(args[0], args[1]); err != nil {
				return err
			}
			// Tells are fire-and-forget; a get on the same link confirms the
			// server has applied it before the process exits.
			_, err := c.Get(ctx, args[0])
			return err
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *cacheservice.Client) error {
			if err := c.Delete(args[0]); err != nil {
				return err
			}
			_, err := c.Get(ctx, args[0])
			return err
		})
	},
}

// withClient connects with retry before running fn.
func withClient(ctx context.Context, fn func(context.Context, *cacheservice.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New("client")

	ps, closeFn, err := dialClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	client := newCacheClient(ps, cfg)
	if err := client.Connect(ctx, cfg.ConnectOptions()); err != nil {
		return err
	}
	logger.Debug().Str("namespace", ps.Protocol().Namespace).Msg("peer reachable")
	return fn(ctx, client)
}
