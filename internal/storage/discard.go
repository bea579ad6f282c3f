package storage

import (
	"context"
	"time"

	"agentwarden/internal/schema"
)

// Discard is a no-op store used when durable storage is disabled. Detection
// must keep functioning with storage degraded, so every consumer accepts an
// interface that Discard satisfies.
type Discard struct{}

// InsertEvent discards the event.
func (Discard) InsertEvent(ctx context.Context, event *schema.SecurityEvent) error { return nil }

// InsertSnapshot discards the snapshot.
func (Discard) InsertSnapshot(ctx context.Context, snap WalletSnapshot) error { return nil }

// Upsert discards the quarantine record.
func (Discard) Upsert(ctx context.Context, rec QuarantineRecord) error { return nil }

// InsertContentBlock discards the content block.
func (Discard) InsertContentBlock(ctx context.Context, block ContentBlock) error { return nil }

// InsertRateLimitBlock discards the rate limit record.
func (Discard) InsertRateLimitBlock(ctx context.Context, service string, windowStart time.Time, count int) error {
	return nil
}
