package contentfilter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// DedupCache suppresses repeat reports of the same offending text within a
// recency window. The in-process LRU is authoritative; Redis mirrors the
// window best-effort so restarts do not re-alert on recent content.
type DedupCache struct {
	lru    *expirable.LRU[string, struct{}]
	rdb    *redis.Client
	window time.Duration
}

// NewDedupCache creates a dedup cache. rdb may be nil.
func NewDedupCache(size int, window time.Duration, rdb *redis.Client) *DedupCache {
	if size <= 0 {
		size = 4096
	}
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &DedupCache{
		lru:    expirable.NewLRU[string, struct{}](size, nil, window),
		rdb:    rdb,
		window: window,
	}
}

// HashContent returns the dedup key for a piece of text.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Seen marks the hash and reports whether it was already recorded inside
// the window. A Redis failure degrades to local-only deduplication.
func (d *DedupCache) Seen(ctx context.Context, hash string) bool {
	if _, ok := d.lru.Get(hash); ok {
		return true
	}
	d.lru.Add(hash, struct{}{})

	if d.rdb == nil {
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	set, err := d.rdb.SetNX(opCtx, "aw:content:"+hash, 1, d.window).Result()
	if err != nil {
		slog.Debug("content dedup redis unavailable", "error", err)
		return false
	}
	return !set
}
