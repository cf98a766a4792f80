// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ergo-live/internal/ergo"
	"ergo-live/internal/presentation"
)

// Config is the top-level service configuration.
type Config struct {
	Explorer     ExplorerConfig     `yaml:"explorer"`
	Network      string             `yaml:"network"` // mainnet | testnet
	Reconciler   ReconcilerConfig   `yaml:"reconciler"`
	Presentation PresentationConfig `yaml:"presentation"`
	Speech       SpeechConfig       `yaml:"speech"`
	Storage      StorageConfig      `yaml:"storage"`
	Redis        RedisConfig        `yaml:"redis"`
	Logger       LogConfig          `yaml:"logger"`
	HTTP         HTTPConfig         `yaml:"http"`
	Labels       LabelsConfig       `yaml:"labels"`
}

// ExplorerConfig points at the explorer REST API and push feed.
type ExplorerConfig struct {
	APIURL    string `yaml:"api_url"`
	TokensURL string `yaml:"tokens_url"` // optional, defaults to api_url
	SocketURL string `yaml:"socket_url"`

	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`

	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
}

// ReconcilerConfig tunes mempool reconciliation.
type ReconcilerConfig struct {
	PruneInterval time.Duration `yaml:"prune_interval"`
	Concurrency   int           `yaml:"concurrency"` // parallel box fetches
}

// PresentationConfig tunes the display queue.
type PresentationConfig struct {
	Delay        time.Duration `yaml:"delay"`
	MaxDisplayed int           `yaml:"max_displayed"`
	Buffer       int           `yaml:"buffer"`
}

// SpeechConfig controls the audible announcer.
type SpeechConfig struct {
	Enabled bool          `yaml:"enabled"`
	Gap     time.Duration `yaml:"gap"`
}

// StorageConfig holds optional database connections. Empty DSNs select the
// in-memory stores.
type StorageConfig struct {
	PostgresDSN   string        `yaml:"postgres_dsn"`
	ClickHouseDSN string        `yaml:"clickhouse_dsn"`
	FlushInterval time.Duration `yaml:"flush_interval"` // label metrics
}

// RedisConfig enables the Redis delivery sink when Addr is set.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Channel   string        `yaml:"channel"`
	RecentKey string        `yaml:"recent_key"`
	RecentLen int           `yaml:"recent_len"`
	RecentTTL time.Duration `yaml:"recent_ttl"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Format   string `yaml:"format"`  // console | json
	LogDir   string `yaml:"log_dir"` // empty logs to stdout only
	Level    string `yaml:"level"`   // debug | info | warn | error
	Compress bool   `yaml:"compress"`
}

// HTTPConfig configures the renderer API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LabelRule labels transactions that touch Address.
type LabelRule struct {
	Address string `yaml:"address"`
	Label   string `yaml:"label"`
	Sound   string `yaml:"sound"`
	Style   string `yaml:"style"`
}

// LabelsConfig drives transaction classification.
type LabelsConfig struct {
	Rules         []LabelRule `yaml:"rules,omitempty"`
	TinyThreshold uint64      `yaml:"tiny_threshold"` // nanoErg
	DefaultSound  string      `yaml:"default_sound"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		Explorer: ExplorerConfig{
			APIURL:            "https://api.ergoplatform.com/api/v1/",
			SocketURL:         "https://api.ergexplorer.com",
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RetryDelay:        time.Second,
			MaxDelay:          10 * time.Second,
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 30 * time.Second,
		},
		Network: "mainnet",
		Reconciler: ReconcilerConfig{
			PruneInterval: 30 * time.Second,
			Concurrency:   8,
		},
		Presentation: PresentationConfig{
			Delay:        500 * time.Millisecond,
			MaxDisplayed: 50,
			Buffer:       256,
		},
		Speech: SpeechConfig{
			Gap: 300 * time.Millisecond,
		},
		Storage: StorageConfig{
			FlushInterval: 30 * time.Second,
		},
		Logger: LogConfig{
			Format: "console",
			Level:  "info",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Labels: LabelsConfig{
			TinyThreshold: 100_000_000, // 0.1 ERG
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML to path.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if err := checkURL("explorer.api_url", c.Explorer.APIURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.Explorer.TokensURL != "" {
		if err := checkURL("explorer.tokens_url", c.Explorer.TokensURL, "http", "https"); err != nil {
			errs = append(errs, err)
		}
	}
	if err := checkURL("explorer.socket_url", c.Explorer.SocketURL, "http", "https", "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if c.Explorer.MaxRetries < 0 {
		errs = append(errs, errors.New("explorer.max_retries must not be negative"))
	}
	network, netErr := ergo.ParseNetwork(c.Network)
	if netErr != nil {
		errs = append(errs, fmt.Errorf("network: %w", netErr))
	}
	if c.Reconciler.Concurrency <= 0 {
		errs = append(errs, errors.New("reconciler.concurrency must be positive"))
	}
	if c.Presentation.Delay < 0 {
		errs = append(errs, errors.New("presentation.delay must not be negative"))
	}
	if c.Presentation.MaxDisplayed <= 0 {
		errs = append(errs, errors.New("presentation.max_displayed must be positive"))
	}
	switch c.Logger.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logger.format %q: want console or json", c.Logger.Format))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if _, err := presentation.ParseSoundType(c.Labels.DefaultSound); err != nil {
		errs = append(errs, fmt.Errorf("labels.default_sound: %w", err))
	}
	codec := ergo.NewCodec(network)
	for i, r := range c.Labels.Rules {
		switch {
		case r.Address == "":
			errs = append(errs, fmt.Errorf("labels.rules[%d]: address is required", i))
		case netErr == nil:
			// A rule for another network's address would never match.
			if _, err := codec.Type(r.Address); err != nil {
				errs = append(errs, fmt.Errorf("labels.rules[%d]: %w", i, err))
			}
		}
		if _, err := presentation.ParseSoundType(r.Sound); err != nil {
			errs = append(errs, fmt.Errorf("labels.rules[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

func checkURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s %q: want absolute %v URL", field, raw, schemes)
}
