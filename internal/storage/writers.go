package storage

import (
	"context"
	"encoding/json"
	"time"

	"agentwarden/internal/schema"
)

// EventWriter appends security events to the security_events table.
type EventWriter struct {
	client *Client
}

// NewEventWriter creates a new EventWriter.
func NewEventWriter(client *Client) *EventWriter {
	return &EventWriter{client: client}
}

// InsertEvent appends a single event. Events are immutable; there is no
// update path.
func (w *EventWriter) InsertEvent(ctx context.Context, event *schema.SecurityEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		details = []byte("{}")
	}

	query := `
		INSERT INTO security_events (
			event_id, timestamp, category, severity, title, details, auto_response
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if err := w.client.Exec(ctx, query,
		event.EventID,
		event.Timestamp,
		string(event.Category),
		string(event.Severity),
		event.Title,
		string(details),
		event.AutoResponse,
	); err != nil {
		return &StoreError{Op: "Insert", Table: "security_events", Err: err}
	}
	return nil
}

// WalletSnapshot is a point-in-time wallet balance observation.
type WalletSnapshot struct {
	Address   string
	Label     string
	Chain     string
	Balance   float64
	Timestamp time.Time
}

// SnapshotWriter appends wallet snapshots.
type SnapshotWriter struct {
	client *Client
}

// NewSnapshotWriter creates a new SnapshotWriter.
func NewSnapshotWriter(client *Client) *SnapshotWriter {
	return &SnapshotWriter{client: client}
}

// InsertSnapshot appends one balance observation.
func (w *SnapshotWriter) InsertSnapshot(ctx context.Context, snap WalletSnapshot) error {
	query := `
		INSERT INTO wallet_snapshots (address, label, chain, balance, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	if err := w.client.Exec(ctx, query,
		snap.Address, snap.Label, snap.Chain, snap.Balance, snap.Timestamp,
	); err != nil {
		return &StoreError{Op: "Insert", Table: "wallet_snapshots", Err: err}
	}
	return nil
}

// QuarantineRecord is the durable record of an agent containment decision.
// agent_name is the natural key; writes are idempotent upserts.
type QuarantineRecord struct {
	AgentName     string
	Reason        string
	Severity      schema.Severity
	QuarantinedAt time.Time
	AutoReleaseAt time.Time
	Released      bool
}

// QuarantineStore persists quarantine state keyed by agent name.
type QuarantineStore struct {
	client *Client
}

// NewQuarantineStore creates a new QuarantineStore.
func NewQuarantineStore(client *Client) *QuarantineStore {
	return &QuarantineStore{client: client}
}

// Upsert writes the quarantine record. The ReplacingMergeTree keyed by
// agent_name keeps the latest version, making the write idempotent.
func (s *QuarantineStore) Upsert(ctx context.Context, rec QuarantineRecord) error {
	query := `
		INSERT INTO agent_quarantine (
			agent_name, reason, severity, quarantined_at, auto_release_at, released, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if err := s.client.Exec(ctx, query,
		rec.AgentName,
		rec.Reason,
		string(rec.Severity),
		rec.QuarantinedAt,
		rec.AutoReleaseAt,
		rec.Released,
		time.Now().UTC(),
	); err != nil {
		return &StoreError{Op: "Upsert", Table: "agent_quarantine", Err: err}
	}
	return nil
}

// ContentBlock records a blocked piece of content. Only the hash and a short
// preview are stored, never the full offending text.
type ContentBlock struct {
	ContentHash string
	Preview     string
	UserID      string
	ChatID      string
	ThreatType  string
	Action      string
}

// ContentBlockWriter appends content block records.
type ContentBlockWriter struct {
	client *Client
}

// NewContentBlockWriter creates a new ContentBlockWriter.
func NewContentBlockWriter(client *Client) *ContentBlockWriter {
	return &ContentBlockWriter{client: client}
}

// InsertContentBlock appends one content block record.
func (w *ContentBlockWriter) InsertContentBlock(ctx context.Context, block ContentBlock) error {
	query := `
		INSERT INTO content_blocks (content_hash, preview, user_id, chat_id, threat_type, action)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if err := w.client.Exec(ctx, query,
		block.ContentHash, block.Preview, block.UserID, block.ChatID, block.ThreatType, block.Action,
	); err != nil {
		return &StoreError{Op: "Insert", Table: "content_blocks", Err: err}
	}
	return nil
}

// RateLimitLogWriter appends rate limiter block records.
type RateLimitLogWriter struct {
	client *Client
}

// NewRateLimitLogWriter creates a new RateLimitLogWriter.
func NewRateLimitLogWriter(client *Client) *RateLimitLogWriter {
	return &RateLimitLogWriter{client: client}
}

// InsertRateLimitBlock records one blocked window for a service.
func (w *RateLimitLogWriter) InsertRateLimitBlock(ctx context.Context, service string, windowStart time.Time, count int) error {
	query := `
		INSERT INTO rate_limit_log (service, window_start, request_count)
		VALUES (?, ?, ?)
	`
	if err := w.client.Exec(ctx, query, service, windowStart, uint32(count)); err != nil {
		return &StoreError{Op: "Insert", Table: "rate_limit_log", Err: err}
	}
	return nil
}
