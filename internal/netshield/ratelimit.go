package netshield

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"agentwarden/internal/metrics"
	"agentwarden/internal/schema"
)

// RateLimitConfig bounds outbound request rates per external service.
type RateLimitConfig struct {
	WindowSize   time.Duration
	MaxPerWindow int
	// Overrides replaces the default ceiling for named services.
	Overrides map[string]int
}

// RateLimitLogStore persists blocked windows.
type RateLimitLogStore interface {
	InsertRateLimitBlock(ctx context.Context, service string, windowStart time.Time, count int) error
}

// serviceWindow is the fixed counting window for one service.
type serviceWindow struct {
	start   time.Time
	count   int
	alerted bool
}

// RateLimiter is a fixed-window counter keyed by service name. When a window
// expires the count resets exactly; partial carry-over is deliberate non-behavior.
type RateLimiter struct {
	cfg      RateLimitConfig
	reporter schema.Reporter
	store    RateLimitLogStore
	now      func() time.Time

	mu      sync.Mutex
	windows map[string]*serviceWindow
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(cfg RateLimitConfig, reporter schema.Reporter, store RateLimitLogStore) *RateLimiter {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = time.Minute
	}
	return &RateLimiter{
		cfg:      cfg,
		reporter: reporter,
		store:    store,
		now:      time.Now,
		windows:  make(map[string]*serviceWindow),
	}
}

// RecordRequest counts one outbound request to service and reports whether
// it is allowed. The first rejected request in a window emits a single
// warning event and persists the blocked window; further rejections in the
// same window only increment the counter.
func (r *RateLimiter) RecordRequest(ctx context.Context, service string) bool {
	limit := r.cfg.MaxPerWindow
	if override, ok := r.cfg.Overrides[service]; ok {
		limit = override
	}

	now := r.now()

	r.mu.Lock()
	w := r.windows[service]
	if w == nil || now.Sub(w.start) >= r.cfg.WindowSize {
		w = &serviceWindow{start: now}
		r.windows[service] = w
	}
	w.count++

	allowed := w.count <= limit
	firstBlock := !allowed && !w.alerted
	if firstBlock {
		w.alerted = true
	}
	windowStart, count := w.start, w.count
	r.mu.Unlock()

	if !allowed {
		metrics.RateLimited.WithLabelValues(service).Inc()
	}

	if firstBlock {
		slog.Warn("rate limit exceeded", "service", service, "count", count, "limit", limit)
		r.reporter.Report(ctx, schema.NewEvent(schema.CategoryNetwork, schema.SeverityWarning,
			"Rate limit exceeded: "+service,
			map[string]any{
				"service":      service,
				"count":        count,
				"limit":        limit,
				"window_start": windowStart.UTC(),
			}))
		if r.store != nil {
			go func() {
				bgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := r.store.InsertRateLimitBlock(bgCtx, service, windowStart.UTC(), count); err != nil {
					metrics.StoreErrors.WithLabelValues("rate_limit_log").Inc()
					slog.Error("failed to persist rate limit block", "service", service, "error", err)
				}
			}()
		}
	}

	return allowed
}

// Remaining returns how many requests the service has left in its current
// window. A service with no window yet has the full budget.
func (r *RateLimiter) Remaining(service string) int {
	limit := r.cfg.MaxPerWindow
	if override, ok := r.cfg.Overrides[service]; ok {
		limit = override
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.windows[service]
	if w == nil || r.now().Sub(w.start) >= r.cfg.WindowSize {
		return limit
	}
	if w.count >= limit {
		return 0
	}
	return limit - w.count
}
