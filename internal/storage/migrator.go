package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// schemaStatements creates the pipeline's tables. All statements are
// idempotent so Run can execute on every startup.
var schemaStatements = []struct {
	name string
	ddl  string
}{
	{
		name: "security_events",
		ddl: `
			CREATE TABLE IF NOT EXISTS security_events (
				event_id UUID,
				timestamp DateTime64(3, 'UTC'),
				category LowCardinality(String),
				severity LowCardinality(String),
				title String,
				details String CODEC(ZSTD(3)),
				auto_response String,
				received_at DateTime64(3, 'UTC') DEFAULT now64(3)
			) ENGINE = MergeTree()
			PARTITION BY toYYYYMM(timestamp)
			ORDER BY (category, severity, timestamp)
			TTL toDateTime(timestamp) + INTERVAL 90 DAY
		`,
	},
	{
		name: "wallet_snapshots",
		ddl: `
			CREATE TABLE IF NOT EXISTS wallet_snapshots (
				address String,
				label String,
				chain LowCardinality(String),
				balance Float64,
				timestamp DateTime64(3, 'UTC')
			) ENGINE = MergeTree()
			PARTITION BY toYYYYMM(timestamp)
			ORDER BY (address, timestamp)
			TTL toDateTime(timestamp) + INTERVAL 180 DAY
		`,
	},
	{
		name: "agent_quarantine",
		ddl: `
			CREATE TABLE IF NOT EXISTS agent_quarantine (
				agent_name String,
				reason String,
				severity LowCardinality(String),
				quarantined_at DateTime64(3, 'UTC'),
				auto_release_at DateTime64(3, 'UTC'),
				released Bool,
				updated_at DateTime64(3, 'UTC') DEFAULT now64(3)
			) ENGINE = ReplacingMergeTree(updated_at)
			ORDER BY agent_name
		`,
	},
	{
		name: "content_blocks",
		ddl: `
			CREATE TABLE IF NOT EXISTS content_blocks (
				content_hash FixedString(64),
				preview String,
				user_id String,
				chat_id String,
				threat_type LowCardinality(String),
				action LowCardinality(String),
				blocked_at DateTime64(3, 'UTC') DEFAULT now64(3)
			) ENGINE = MergeTree()
			ORDER BY (content_hash, blocked_at)
			TTL toDateTime(blocked_at) + INTERVAL 30 DAY
		`,
	},
	{
		name: "rate_limit_log",
		ddl: `
			CREATE TABLE IF NOT EXISTS rate_limit_log (
				service LowCardinality(String),
				window_start DateTime64(3, 'UTC'),
				request_count UInt32,
				blocked_at DateTime64(3, 'UTC') DEFAULT now64(3)
			) ENGINE = MergeTree()
			ORDER BY (service, window_start)
			TTL toDateTime(blocked_at) + INTERVAL 30 DAY
		`,
	},
}

// Migrator creates the pipeline's ClickHouse tables.
type Migrator struct {
	client *Client
}

// NewMigrator creates a new Migrator.
func NewMigrator(client *Client) *Migrator {
	return &Migrator{client: client}
}

// Run creates all tables that do not yet exist.
func (m *Migrator) Run(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		slog.Debug("ensuring table", "table", stmt.name)
		if err := m.client.Exec(ctx, stmt.ddl); err != nil {
			return fmt.Errorf("failed to create table %s: %w", stmt.name, err)
		}
	}
	slog.Info("storage schema ready", "tables", len(schemaStatements))
	return nil
}
