package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	if cfg.Watchdog.QuarantineThreshold != 7 {
		t.Errorf("quarantine threshold = %d, want 7", cfg.Watchdog.QuarantineThreshold)
	}
	if cfg.Wallets.CheckInterval != 2*time.Minute {
		t.Errorf("wallet check interval = %v, want 2m", cfg.Wallets.CheckInterval)
	}
	if cfg.Incident.ExpiryWindow != time.Hour {
		t.Errorf("incident expiry = %v, want 1h", cfg.Incident.ExpiryWindow)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
watchdog:
  warn_threshold: 3
  quarantine_threshold: 6
  profiles:
    - name: scout-1
      heartbeat_interval: 30s
      max_messages_per_window: 20
      expected_message_types: [status, task_result]
wallets:
  wallets:
    - address: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
      label: treasury
      chain: solana
      rpc_url: "http://localhost:8899"
      drain_threshold_pct: 25
      low_balance_threshold: 1.0
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AW_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
	if len(cfg.Watchdog.Profiles) != 1 || cfg.Watchdog.Profiles[0].Name != "scout-1" {
		t.Errorf("profiles not loaded: %+v", cfg.Watchdog.Profiles)
	}
	if cfg.Watchdog.Profiles[0].MaxMessagesPerWindow != 20 {
		t.Errorf("max messages = %d, want 20", cfg.Watchdog.Profiles[0].MaxMessagesPerWindow)
	}
	if len(cfg.Wallets.Wallets) != 1 || cfg.Wallets.Wallets[0].Label != "treasury" {
		t.Errorf("wallets not loaded: %+v", cfg.Wallets.Wallets)
	}
	// Defaults survive partial files.
	if cfg.Network.RateLimit.MaxPerWindow != 60 {
		t.Errorf("rate limit default lost: %d", cfg.Network.RateLimit.MaxPerWindow)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AW_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("AW_LOG_LEVEL", "warn")
	t.Setenv("AW_KAFKA_BROKERS", "k1:9092, k2:9092")

	// Missing explicit config path is an error.
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}

	t.Setenv("AW_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("env log level not applied: %q", cfg.Logging.Level)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("kafka brokers not applied: %+v", cfg.Kafka)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"thresholds inverted", func(c *Config) { c.Watchdog.QuarantineThreshold = 2; c.Watchdog.WarnThreshold = 4 }},
		{"duplicate profile", func(c *Config) {
			c.Watchdog.Profiles = []AgentProfileConfig{{Name: "a"}, {Name: "a"}}
		}},
		{"drain threshold out of range", func(c *Config) {
			c.Wallets.Wallets = []WalletConfig{{Address: "x", DrainThresholdPct: 150}}
		}},
		{"zero rate limit", func(c *Config) { c.Network.RateLimit.MaxPerWindow = 0 }},
		{"telegram without token", func(c *Config) { c.Notify.Telegram.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSensitiveValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContentFilter.SensitiveValues = []string{"super-secret"}
	cfg.Notify.Telegram.BotToken = "123456:bottoken"

	values := cfg.SensitiveValues()
	if len(values) != 2 {
		t.Fatalf("got %d sensitive values, want 2", len(values))
	}
}
