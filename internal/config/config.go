// Package config loads the subscriber daemon's configuration from a YAML
// file with environment-variable overrides.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0xmhha/subscriber-go/subscription"
	"github.com/0xmhha/subscriber-go/types"
)

// Config holds all configuration for the subscriber daemon
type Config struct {
	Algod      AlgodConfig      `yaml:"algod"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
	Filters    []FilterConfig   `yaml:"filters"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// AlgodConfig holds node client configuration
type AlgodConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// IndexerConfig holds indexer client configuration
type IndexerConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// RequestsPerSecond caps indexer search calls; 0 disables limiting
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// SubscriberConfig holds the polling policy
type SubscriberConfig struct {
	// SyncBehaviour is one of fail, skip-to-newest, sync-oldest,
	// sync-oldest-start-now, catchup-with-indexer
	SyncBehaviour          string        `yaml:"sync_behaviour"`
	MaxRoundsToSync        uint64        `yaml:"max_rounds_to_sync"`
	MaxIndexerRoundsToSync uint64        `yaml:"max_indexer_rounds_to_sync"`
	PollInterval           time.Duration `yaml:"poll_interval"`
	WaitForBlockWhenAtTip  bool          `yaml:"wait_for_block_when_at_tip"`
	// WatermarkPath is the pebble database directory for watermark persistence
	WatermarkPath string `yaml:"watermark_path"`
}

// FilterConfig is one named filter in declarative form
type FilterConfig struct {
	Name     string   `yaml:"name"`
	Type     []string `yaml:"type,omitempty"`
	Sender   []string `yaml:"sender,omitempty"`
	Receiver []string `yaml:"receiver,omitempty"`
	// NotePrefixB64 is the note prefix, base64-encoded
	NotePrefixB64   string   `yaml:"note_prefix_b64,omitempty"`
	AppID           []uint64 `yaml:"app_id,omitempty"`
	AssetID         []uint64 `yaml:"asset_id,omitempty"`
	AppCreate       *bool    `yaml:"app_create,omitempty"`
	AssetCreate     *bool    `yaml:"asset_create,omitempty"`
	AppOnComplete   []string `yaml:"app_on_complete,omitempty"`
	MinAmount       *uint64  `yaml:"min_amount,omitempty"`
	MaxAmount       *uint64  `yaml:"max_amount,omitempty"`
	MethodSignature []string `yaml:"method_signature,omitempty"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds the prometheus endpoint configuration
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// NewConfig returns a config populated with defaults
func NewConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults applies default values to unset fields
func (c *Config) SetDefaults() {
	if c.Algod.URL == "" {
		c.Algod.URL = "http://localhost:4001"
	}
	if c.Subscriber.SyncBehaviour == "" {
		c.Subscriber.SyncBehaviour = string(subscription.SyncBehaviourFail)
	}
	if c.Subscriber.MaxRoundsToSync == 0 {
		c.Subscriber.MaxRoundsToSync = subscription.DefaultMaxRoundsToSync
	}
	if c.Subscriber.PollInterval == 0 {
		c.Subscriber.PollInterval = 4 * time.Second
	}
	if c.Subscriber.WatermarkPath == "" {
		c.Subscriber.WatermarkPath = "./data/watermark"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9100"
	}
}

// LoadFromEnv applies SUBSCRIBER_* environment variable overrides
func (c *Config) LoadFromEnv() error {
	if url := os.Getenv("SUBSCRIBER_ALGOD_URL"); url != "" {
		c.Algod.URL = url
	}
	if token := os.Getenv("SUBSCRIBER_ALGOD_TOKEN"); token != "" {
		c.Algod.Token = token
	}
	if url := os.Getenv("SUBSCRIBER_INDEXER_URL"); url != "" {
		c.Indexer.URL = url
	}
	if token := os.Getenv("SUBSCRIBER_INDEXER_TOKEN"); token != "" {
		c.Indexer.Token = token
	}
	if behaviour := os.Getenv("SUBSCRIBER_SYNC_BEHAVIOUR"); behaviour != "" {
		c.Subscriber.SyncBehaviour = behaviour
	}
	if maxRounds := os.Getenv("SUBSCRIBER_MAX_ROUNDS_TO_SYNC"); maxRounds != "" {
		val, err := strconv.ParseUint(maxRounds, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SUBSCRIBER_MAX_ROUNDS_TO_SYNC: %w", err)
		}
		c.Subscriber.MaxRoundsToSync = val
	}
	if maxIndexerRounds := os.Getenv("SUBSCRIBER_MAX_INDEXER_ROUNDS_TO_SYNC"); maxIndexerRounds != "" {
		val, err := strconv.ParseUint(maxIndexerRounds, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SUBSCRIBER_MAX_INDEXER_ROUNDS_TO_SYNC: %w", err)
		}
		c.Subscriber.MaxIndexerRoundsToSync = val
	}
	if interval := os.Getenv("SUBSCRIBER_POLL_INTERVAL"); interval != "" {
		val, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid SUBSCRIBER_POLL_INTERVAL: %w", err)
		}
		c.Subscriber.PollInterval = val
	}
	if wait := os.Getenv("SUBSCRIBER_WAIT_FOR_BLOCK_WHEN_AT_TIP"); wait != "" {
		val, err := strconv.ParseBool(wait)
		if err != nil {
			return fmt.Errorf("invalid SUBSCRIBER_WAIT_FOR_BLOCK_WHEN_AT_TIP: %w", err)
		}
		c.Subscriber.WaitForBlockWhenAtTip = val
	}
	if path := os.Getenv("SUBSCRIBER_WATERMARK_PATH"); path != "" {
		c.Subscriber.WatermarkPath = path
	}
	if level := os.Getenv("SUBSCRIBER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("SUBSCRIBER_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}
	if enabled := os.Getenv("SUBSCRIBER_METRICS_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid SUBSCRIBER_METRICS_ENABLED: %w", err)
		}
		c.Metrics.Enabled = val
	}
	if addr := os.Getenv("SUBSCRIBER_METRICS_LISTEN_ADDR"); addr != "" {
		c.Metrics.ListenAddr = addr
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Algod.URL == "" {
		return fmt.Errorf("algod URL is required")
	}
	switch subscription.SyncBehaviour(c.Subscriber.SyncBehaviour) {
	case subscription.SyncBehaviourFail,
		subscription.SyncBehaviourSkipToNewest,
		subscription.SyncBehaviourSyncOldest,
		subscription.SyncBehaviourSyncOldestStartNow:
	case subscription.SyncBehaviourCatchupWithIndexer:
		if c.Indexer.URL == "" {
			return fmt.Errorf("indexer URL is required for catchup-with-indexer")
		}
	default:
		return fmt.Errorf("invalid sync behaviour %q", c.Subscriber.SyncBehaviour)
	}
	if c.Subscriber.MaxRoundsToSync == 0 {
		return fmt.Errorf("max rounds to sync must be positive")
	}
	if c.Subscriber.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if len(c.Filters) == 0 {
		return fmt.Errorf("at least one filter is required")
	}
	names := make(map[string]bool, len(c.Filters))
	for _, f := range c.Filters {
		if f.Name == "" {
			return fmt.Errorf("filter name is required")
		}
		if names[f.Name] {
			return fmt.Errorf("duplicate filter name %q", f.Name)
		}
		names[f.Name] = true
		if f.NotePrefixB64 != "" {
			if _, err := base64.StdEncoding.DecodeString(f.NotePrefixB64); err != nil {
				return fmt.Errorf("filter %q: invalid note prefix: %w", f.Name, err)
			}
		}
	}
	return nil
}

// TransactionFilters translates the declarative filter entries into the
// engine's filter model
func (c *Config) TransactionFilters() ([]types.NamedTransactionFilter, error) {
	out := make([]types.NamedTransactionFilter, 0, len(c.Filters))
	for _, f := range c.Filters {
		filter := types.TransactionFilter{
			Type:            f.Type,
			Sender:          f.Sender,
			Receiver:        f.Receiver,
			AppID:           f.AppID,
			AssetID:         f.AssetID,
			AppCreate:       f.AppCreate,
			AssetCreate:     f.AssetCreate,
			AppOnComplete:   f.AppOnComplete,
			MinAmount:       f.MinAmount,
			MaxAmount:       f.MaxAmount,
			MethodSignature: f.MethodSignature,
		}
		if f.NotePrefixB64 != "" {
			prefix, err := base64.StdEncoding.DecodeString(f.NotePrefixB64)
			if err != nil {
				return nil, fmt.Errorf("filter %q: invalid note prefix: %w", f.Name, err)
			}
			filter.NotePrefix = prefix
		}
		out = append(out, types.NamedTransactionFilter{Name: f.Name, Filter: filter})
	}
	return out, nil
}

// Load builds the effective configuration: defaults, then the optional YAML
// file, then environment overrides, then validation
func Load(configFile string) (*Config, error) {
	c := NewConfig()
	if configFile != "" {
		if err := c.LoadFromFile(configFile); err != nil {
			return nil, err
		}
		c.SetDefaults()
	}
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
