// Package config resolves runtime settings from defaults, an optional TOML
// file, a .env file and PROTOFRAME_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/seandlg/protoframe/internal/protoframe"
)

const (
	TransportWebSocket = "websocket"
	TransportLibp2p    = "libp2p"

	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Namespace string
	Codec     string

	AskTimeout     time.Duration
	PingTimeout    time.Duration
	ConnectRetries int
	ConnectTimeout time.Duration
	Backoff        protoframe.BackoffConfig

	Transport    string
	HTTPAddr     string
	WebSocketURL string
	Binary       bool
	Metrics      bool

	Libp2p Libp2pConfig
	Store  StoreConfig
}

type Libp2pConfig struct {
	ListenAddrs  []string
	Bootstrap    []string
	Rendezvous   string
	EnableMDNS   bool
	IdentityFile string
	Pipe         string
	Side         string
}

type StoreConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	TTL           time.Duration
}

func DefaultConfig() Config {
	return Config{
		Namespace:      "cache",
		Codec:          "json",
		AskTimeout:     protoframe.DefaultAskTimeout,
		PingTimeout:    protoframe.DefaultPingTimeout,
		ConnectRetries: protoframe.DefaultConnectRetries,
		ConnectTimeout: protoframe.DefaultConnectTimeout,
		Transport:      TransportWebSocket,
		HTTPAddr:       ":8090",
		WebSocketURL:   "ws://localhost:8090/ws",
		Metrics:        true,
		Libp2p: Libp2pConfig{
			ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
			Rendezvous:  "protoframe",
			EnableMDNS:  true,
			Pipe:        "protoframe",
			Side:        "a",
		},
		Store: StoreConfig{
			Backend:     StoreMemory,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "protoframe:cache:",
		},
	}
}

// Load builds the effective config. path may be empty; a missing .env file is
// not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := protoframe.NewProtocol(c.Namespace); err != nil {
		return err
	}
	if _, err := protoframe.CodecByName(c.Codec); err != nil {
		return err
	}
	switch c.Transport {
	case TransportWebSocket, TransportLibp2p:
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	switch c.Store.Backend {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("config: unknown store %q", c.Store.Backend)
	}
	if c.Store.Backend == StoreRedis && c.Store.RedisAddr == "" {
		return errors.New("config: redis store needs an address")
	}
	if c.AskTimeout <= 0 || c.PingTimeout <= 0 || c.ConnectTimeout <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	if c.ConnectRetries <= 0 {
		return errors.New("config: connect_retries must be positive")
	}
	if c.Libp2p.Side != "a" && c.Libp2p.Side != "b" {
		return fmt.Errorf("config: libp2p side must be a or b, got %q", c.Libp2p.Side)
	}
	return nil
}

// ConnectOptions returns the retry settings for protoframe.Connect.
func (c Config) ConnectOptions() protoframe.ConnectOptions {
	return protoframe.ConnectOptions{Retries: c.ConnectRetries, Timeout: c.ConnectTimeout, Backoff: c.Backoff}
}

type fileConfig struct {
	Namespace      string `toml:"namespace"`
	Codec          string `toml:"codec"`
	AskTimeout     string `toml:"ask_timeout"`
	PingTimeout    string `toml:"ping_timeout"`
	ConnectRetries int    `toml:"connect_retries"`
	ConnectTimeout string `toml:"connect_timeout"`
	Transport      string `toml:"transport"`
	HTTPAddr       string `toml:"http_addr"`
	WebSocketURL   string `toml:"websocket_url"`
	Binary         bool   `toml:"binary"`
	Metrics        bool   `toml:"metrics"`

	Backoff struct {
		InitialDelay string  `toml:"initial_delay"`
		Multiplier   float64 `toml:"multiplier"`
		MaxDelay     string  `toml:"max_delay"`
		Jitter       bool    `toml:"jitter"`
	} `toml:"backoff"`

	Libp2p struct {
		ListenAddrs  []string `toml:"listen_addrs"`
		Bootstrap    []string `toml:"bootstrap"`
		Rendezvous   string   `toml:"rendezvous"`
		EnableMDNS   bool     `toml:"mdns"`
		IdentityFile string   `toml:"identity_file"`
		Pipe         string   `toml:"pipe"`
		Side         string   `toml:"side"`
	} `toml:"libp2p"`

	Store struct {
		Backend       string `toml:"backend"`
		RedisAddr     string `toml:"redis_addr"`
		RedisPassword string `toml:"redis_password"`
		RedisDB       int    `toml:"redis_db"`
		RedisPrefix   string `toml:"redis_prefix"`
		TTL           string `toml:"ttl"`
	} `toml:"store"`
}

func loadFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	setString := func(key string, target *string, v string) {
		if meta.IsDefined(strings.Split(key, ".")...) {
			*target = strings.TrimSpace(v)
		}
	}
	setDuration := func(key string, target *time.Duration, v string) error {
		if !meta.IsDefined(strings.Split(key, ".")...) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*target = d
		return nil
	}

	setString("namespace", &cfg.Namespace, raw.Namespace)
	setString("codec", &cfg.Codec, raw.Codec)
	setString("transport", &cfg.Transport, raw.Transport)
	setString("http_addr", &cfg.HTTPAddr, raw.HTTPAddr)
	setString("websocket_url", &cfg.WebSocketURL, raw.WebSocketURL)
	if meta.IsDefined("binary") {
		cfg.Binary = raw.Binary
	}
	if meta.IsDefined("metrics") {
		cfg.Metrics = raw.Metrics
	}
	if meta.IsDefined("connect_retries") {
		cfg.ConnectRetries = raw.ConnectRetries
	}

	durations := []struct {
		key    string
		target *time.Duration
		raw    string
	}{
		{"ask_timeout", &cfg.AskTimeout, raw.AskTimeout},
		{"ping_timeout", &cfg.PingTimeout, raw.PingTimeout},
		{"connect_timeout", &cfg.ConnectTimeout, raw.ConnectTimeout},
		{"backoff.initial_delay", &cfg.Backoff.InitialDelay, raw.Backoff.InitialDelay},
		{"backoff.max_delay", &cfg.Backoff.MaxDelay, raw.Backoff.MaxDelay},
		{"store.ttl", &cfg.Store.TTL, raw.Store.TTL},
	}
	for _, d := range durations {
		if err := setDuration(d.key, d.target, d.raw); err != nil {
			return err
		}
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Backoff.Jitter = raw.Backoff.Jitter
	}

	if meta.IsDefined("libp2p", "listen_addrs") {
		cfg.Libp2p.ListenAddrs = raw.Libp2p.ListenAddrs
	}
	if meta.IsDefined("libp2p", "bootstrap") {
		cfg.Libp2p.Bootstrap = raw.Libp2p.Bootstrap
	}
	if meta.IsDefined("libp2p", "mdns") {
		cfg.Libp2p.EnableMDNS = raw.Libp2p.EnableMDNS
	}
	setString("libp2p.rendezvous", &cfg.Libp2p.Rendezvous, raw.Libp2p.Rendezvous)
	setString("libp2p.identity_file", &cfg.Libp2p.IdentityFile, raw.Libp2p.IdentityFile)
	setString("libp2p.pipe", &cfg.Libp2p.Pipe, raw.Libp2p.Pipe)
	setString("libp2p.side", &cfg.Libp2p.Side, raw.Libp2p.Side)

	setString("store.backend", &cfg.Store.Backend, raw.Store.Backend)
	setString("store.redis_addr", &cfg.Store.RedisAddr, raw.Store.RedisAddr)
	setString("store.redis_password", &cfg.Store.RedisPassword, raw.Store.RedisPassword)
	setString("store.redis_prefix", &cfg.Store.RedisPrefix, raw.Store.RedisPrefix)
	if meta.IsDefined("store", "redis_db") {
		cfg.Store.RedisDB = raw.Store.RedisDB
	}
	return nil
}

func applyEnv(cfg *Config) error {
	loaders := []func() error{
		func() error { return loadEnvString(&cfg.Namespace, "PROTOFRAME_NAMESPACE") },
		func() error { return loadEnvString(&cfg.Codec, "PROTOFRAME_CODEC") },
		func() error { return loadEnvDuration(&cfg.AskTimeout, "PROTOFRAME_ASK_TIMEOUT") },
		func() error { return loadEnvDuration(&cfg.PingTimeout, "PROTOFRAME_PING_TIMEOUT") },
		func() error { return loadEnvInt(&cfg.ConnectRetries, "PROTOFRAME_CONNECT_RETRIES") },
		func() error { return loadEnvDuration(&cfg.ConnectTimeout, "PROTOFRAME_CONNECT_TIMEOUT") },
		func() error { return loadEnvString(&cfg.Transport, "PROTOFRAME_TRANSPORT") },
		func() error { return loadEnvString(&cfg.HTTPAddr, "PROTOFRAME_HTTP_ADDR") },
		func() error { return loadEnvString(&cfg.WebSocketURL, "PROTOFRAME_WS_URL") },
		func() error { return loadEnvBool(&cfg.Binary, "PROTOFRAME_BINARY") },
		func() error { return loadEnvBool(&cfg.Metrics, "PROTOFRAME_METRICS") },
		func() error { return loadEnvStringSlice(&cfg.Libp2p.ListenAddrs, "PROTOFRAME_LIBP2P_LISTEN") },
		func() error { return loadEnvStringSlice(&cfg.Libp2p.Bootstrap, "PROTOFRAME_LIBP2P_BOOTSTRAP") },
		func() error { return loadEnvBool(&cfg.Libp2p.EnableMDNS, "PROTOFRAME_LIBP2P_MDNS") },
		func() error { return loadEnvString(&cfg.Libp2p.IdentityFile, "PROTOFRAME_LIBP2P_IDENTITY") },
		func() error { return loadEnvString(&cfg.Libp2p.Pipe, "PROTOFRAME_LIBP2P_PIPE") },
		func() error { return loadEnvString(&cfg.Libp2p.Side, "PROTOFRAME_LIBP2P_SIDE") },
		func() error { return loadEnvString(&cfg.Store.Backend, "PROTOFRAME_STORE") },
		func() error { return loadEnvString(&cfg.Store.RedisAddr, "PROTOFRAME_REDIS_ADDR") },
		func() error { return loadEnvString(&cfg.Store.RedisPassword, "PROTOFRAME_REDIS_PASSWORD") },
		func() error { return loadEnvInt(&cfg.Store.RedisDB, "PROTOFRAME_REDIS_DB") },
		func() error { return loadEnvDuration(&cfg.Store.TTL, "PROTOFRAME_STORE_TTL") },
	}
	for _, load := range loaders {
		if err := load(); err != nil {
			return err
		}
	}
	return nil
}

// The loadEnv helpers leave target untouched when the variable is unset.

func loadEnvString(target *string, key string) error {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*target = value
	}
	return nil
}

func loadEnvInt(target *int, key string) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	}
	return nil
}

func loadEnvBool(target *bool, key string) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string) error {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*target = out
	}
	return nil
}
