// Package command holds the protoframe CLI.
package command

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seandlg/protoframe/internal/config"
	"github.com/seandlg/protoframe/internal/logging"
)

var (
	cfgFile   string
	transport string
	wsURL     string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "protoframe",
	Short: "protoframe - typed tell/ask messaging over websocket or libp2p",
	Long: `protoframe hosts and talks to a key/value cache built on the protoframe
message protocol. Peers may start in any order: clients ping until the server
answers before sending anything.

Settings come from --config (TOML), a .env file and PROTOFRAME_* variables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logLevel != "" {
			os.Setenv(logging.EnvLogLevel, logLevel)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "", "websocket or libp2p (overrides config)")
	rootCmd.PersistentFlags().StringVar(&wsURL, "url", "", "websocket URL for client commands (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "trace, debug, info, warn or error")

	rootCmd.AddCommand(serveCmd, pingCmd, getCmd, setCmd, deleteCmd)
}

// loadConfig applies command-line overrides on top of config.Load.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if transport != "" {
		cfg.Transport = transport
	}
	if wsURL != "" {
		cfg.WebSocketURL = wsURL
	}
	return cfg, cfg.Validate()
}
