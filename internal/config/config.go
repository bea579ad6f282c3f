// Package config handles configuration loading for Agent Warden.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agentwarden/internal/storage"
)

// Config holds the complete application configuration.
type Config struct {
	Logging       LoggingConfig       `yaml:"logging"`
	HTTP          HTTPConfig          `yaml:"http"`
	Storage       storage.Config      `yaml:"storage"`
	Redis         RedisConfig         `yaml:"redis"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	NATS          NATSConfig          `yaml:"nats"`
	Notify        NotifyConfig        `yaml:"notify"`
	ContentFilter ContentFilterConfig `yaml:"content_filter"`
	Wallets       WalletsConfig       `yaml:"wallets"`
	Network       NetworkConfig       `yaml:"network"`
	Watchdog      WatchdogConfig      `yaml:"watchdog"`
	Incident      IncidentConfig      `yaml:"incident"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPConfig holds the ops API server settings.
type HTTPConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RedisConfig holds Redis settings for the content dedup window.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig holds Kafka settings for the inter-agent message feed and
// the security event mirror.
type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	FeedTopic   string   `yaml:"feed_topic"`
	GroupID     string   `yaml:"group_id"`
	MirrorTopic string   `yaml:"mirror_topic"`
}

// NATSConfig holds NATS settings for containment decision broadcasts.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// NotifyConfig holds outbound notification settings.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

// TelegramConfig holds Telegram operator alert settings.
type TelegramConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BotToken      string `yaml:"bot_token"`
	AdminChatID   string `yaml:"admin_chat_id"`
	ChannelChatID string `yaml:"channel_chat_id"`
}

// WebhookConfig holds generic webhook alert settings.
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// ContentFilterConfig holds content filter settings.
type ContentFilterConfig struct {
	DedupWindow     time.Duration `yaml:"dedup_window"`
	DedupCacheSize  int           `yaml:"dedup_cache_size"`
	BadDomains      []string      `yaml:"bad_domains"`
	ScamAddresses   []string      `yaml:"scam_addresses"`
	SensitiveValues []string      `yaml:"sensitive_values"`
}

// WalletsConfig holds wallet sentinel settings.
type WalletsConfig struct {
	CheckInterval time.Duration  `yaml:"check_interval"`
	Wallets       []WalletConfig `yaml:"wallets"`
}

// WalletConfig describes one monitored wallet.
type WalletConfig struct {
	Address             string  `yaml:"address"`
	Label               string  `yaml:"label"`
	Chain               string  `yaml:"chain"`
	RPCURL              string  `yaml:"rpc_url"`
	DrainThresholdPct   float64 `yaml:"drain_threshold_pct"`
	LowBalanceThreshold float64 `yaml:"low_balance_threshold"`
}

// NetworkConfig holds network shield settings.
type NetworkConfig struct {
	CheckInterval       time.Duration     `yaml:"check_interval"`
	Endpoints           []EndpointConfig  `yaml:"endpoints"`
	ReferenceEndpoints  map[string]string `yaml:"reference_endpoints"`
	DivergenceThreshold uint64            `yaml:"divergence_threshold"`
	FailureThreshold    int               `yaml:"failure_threshold"`
	RateLimit           RateLimitConfig   `yaml:"rate_limit"`
}

// EndpointConfig describes one monitored RPC endpoint.
type EndpointConfig struct {
	URL     string `yaml:"url"`
	Label   string `yaml:"label"`
	Chain   string `yaml:"chain"`
	Primary bool   `yaml:"primary"`
}

// RateLimitConfig holds fixed-window rate limiter settings.
type RateLimitConfig struct {
	WindowSize   time.Duration  `yaml:"window_size"`
	MaxPerWindow int            `yaml:"max_per_window"`
	Overrides    map[string]int `yaml:"overrides"` // per-service caps
}

// WatchdogConfig holds agent watchdog settings.
type WatchdogConfig struct {
	CheckInterval       time.Duration        `yaml:"check_interval"`
	ObservationWindow   time.Duration        `yaml:"observation_window"`
	DeadAgentThreshold  time.Duration        `yaml:"dead_agent_threshold"`
	MemoryCeilingMB     float64              `yaml:"memory_ceiling_mb"`
	WarnThreshold       int                  `yaml:"warn_threshold"`
	QuarantineThreshold int                  `yaml:"quarantine_threshold"`
	AutoReleaseAfter    time.Duration        `yaml:"auto_release_after"`
	Profiles            []AgentProfileConfig `yaml:"profiles"`
}

// AgentProfileConfig is the static behavioral baseline for one agent.
type AgentProfileConfig struct {
	Name                 string        `yaml:"name"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	MaxMessagesPerWindow int           `yaml:"max_messages_per_window"`
	ExpectedRecipients   []string      `yaml:"expected_recipients"`
	ExpectedMessageTypes []string      `yaml:"expected_message_types"`
}

// IncidentConfig holds incident responder settings.
type IncidentConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	ExpiryWindow  time.Duration `yaml:"expiry_window"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Enabled:      true,
			Addr:         ":8087",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Storage: storage.DefaultConfig(),
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Kafka: KafkaConfig{
			Enabled:     false,
			Brokers:     []string{"localhost:9092"},
			FeedTopic:   "agent-messages",
			GroupID:     "agentwarden",
			MirrorTopic: "security-events",
		},
		NATS: NATSConfig{
			Enabled: false,
			URL:     "nats://localhost:4222",
			Subject: "warden.containment",
		},
		ContentFilter: ContentFilterConfig{
			DedupWindow:    30 * time.Minute,
			DedupCacheSize: 4096,
		},
		Wallets: WalletsConfig{
			CheckInterval: 2 * time.Minute,
		},
		Network: NetworkConfig{
			CheckInterval:       3 * time.Minute,
			DivergenceThreshold: 50,
			FailureThreshold:    3,
			RateLimit: RateLimitConfig{
				WindowSize:   time.Minute,
				MaxPerWindow: 60,
			},
		},
		Watchdog: WatchdogConfig{
			CheckInterval:       time.Minute,
			ObservationWindow:   5 * time.Minute,
			DeadAgentThreshold:  10 * time.Minute,
			MemoryCeilingMB:     512,
			WarnThreshold:       4,
			QuarantineThreshold: 7,
			AutoReleaseAfter:    30 * time.Minute,
		},
		Incident: IncidentConfig{
			SweepInterval: 5 * time.Minute,
			ExpiryWindow:  time.Hour,
		},
	}
}

// Load reads configuration from the file named by AW_CONFIG (default
// config.yaml when present), applies environment overrides, and validates.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("AW_CONFIG")
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && os.Getenv("AW_CONFIG") == "":
		// No config file is fine; defaults plus env overrides apply.
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AW_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("AW_CLICKHOUSE_HOSTS"); v != "" {
		c.Storage.Hosts = splitAndTrim(v, ",")
		c.Storage.Enabled = true
	}
	if v := os.Getenv("AW_CLICKHOUSE_PASSWORD"); v != "" {
		c.Storage.Password = v
	}
	if v := os.Getenv("AW_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("AW_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitAndTrim(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("AW_NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := os.Getenv("AW_TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.Telegram.BotToken = v
		c.Notify.Telegram.Enabled = true
	}
	if v := os.Getenv("AW_TELEGRAM_ADMIN_CHAT"); v != "" {
		c.Notify.Telegram.AdminChatID = v
	}
	if v := os.Getenv("AW_TELEGRAM_CHANNEL_CHAT"); v != "" {
		c.Notify.Telegram.ChannelChatID = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}

	if c.Watchdog.QuarantineThreshold <= c.Watchdog.WarnThreshold {
		return fmt.Errorf("quarantine threshold (%d) must exceed warn threshold (%d)",
			c.Watchdog.QuarantineThreshold, c.Watchdog.WarnThreshold)
	}

	seen := make(map[string]bool, len(c.Watchdog.Profiles))
	for _, p := range c.Watchdog.Profiles {
		if p.Name == "" {
			return fmt.Errorf("agent profile with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate agent profile %q", p.Name)
		}
		seen[p.Name] = true
	}

	for _, w := range c.Wallets.Wallets {
		if w.Address == "" {
			return fmt.Errorf("wallet with empty address")
		}
		if w.DrainThresholdPct <= 0 || w.DrainThresholdPct > 100 {
			return fmt.Errorf("wallet %s: drain threshold %.1f out of range (0, 100]",
				w.Address, w.DrainThresholdPct)
		}
	}

	if c.Network.RateLimit.MaxPerWindow <= 0 {
		return fmt.Errorf("rate limit max_per_window must be positive")
	}
	if c.Network.RateLimit.WindowSize <= 0 {
		return fmt.Errorf("rate limit window_size must be positive")
	}

	if c.Notify.Telegram.Enabled && c.Notify.Telegram.BotToken == "" {
		return fmt.Errorf("telegram enabled without bot token")
	}

	return nil
}

// SensitiveValues returns all configured secrets whose literal presence in
// outbound text must be treated as a leak.
func (c *Config) SensitiveValues() []string {
	values := make([]string, 0, len(c.ContentFilter.SensitiveValues)+3)
	values = append(values, c.ContentFilter.SensitiveValues...)
	for _, v := range []string{c.Notify.Telegram.BotToken, c.Storage.Password, c.Redis.Password} {
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
