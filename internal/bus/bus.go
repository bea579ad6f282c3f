// Package bus provides the asynchronous hand-off between detectors and the
// incident responder. Detectors publish and proceed; a single dispatcher
// goroutine delivers events to handlers, which serializes incident mutation.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"agentwarden/internal/metrics"
	"agentwarden/internal/schema"
)

// Handler consumes a security event. Handlers run on the dispatcher
// goroutine in registration order; a failing handler never stops delivery.
type Handler func(ctx context.Context, event *schema.SecurityEvent) error

// Config configures the event bus.
type Config struct {
	QueueSize int `yaml:"queue_size"`
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{QueueSize: 4096}
}

// Bus is a buffered fan-in from all detectors. It implements schema.Reporter.
type Bus struct {
	validator *schema.Validator
	handlers  []Handler
	eventCh   chan *schema.SecurityEvent
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	mu        sync.RWMutex
}

// New creates a new event bus.
func New(cfg Config) *Bus {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultConfig().QueueSize
	}
	return &Bus{
		validator: schema.NewValidator(),
		eventCh:   make(chan *schema.SecurityEvent, size),
		stopCh:    make(chan struct{}),
	}
}

// AddHandler registers a handler. Handlers must be registered before Start.
func (b *Bus) AddHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Report queues an event for delivery. It never blocks and never surfaces
// downstream failures to the detector; invalid or overflowing events are
// logged and dropped.
func (b *Bus) Report(ctx context.Context, event *schema.SecurityEvent) {
	if event == nil {
		return
	}
	if err := b.validator.Validate(event); err != nil {
		slog.Error("rejecting malformed security event", "title", event.Title, "error", err)
		return
	}

	select {
	case b.eventCh <- event:
		metrics.EventsTotal.WithLabelValues(string(event.Category), string(event.Severity)).Inc()
	default:
		metrics.EventsDropped.Inc()
		slog.Warn("event bus full, dropping event",
			"category", event.Category,
			"severity", event.Severity,
			"title", event.Title)
	}
}

// Start starts the dispatcher goroutine.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.dispatch(ctx)
	slog.Info("event bus started", "queue_size", cap(b.eventCh))
}

// Stop drains nothing and stops the dispatcher.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
	slog.Info("event bus stopped")
}

func (b *Bus) dispatch(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case event := <-b.eventCh:
			b.mu.RLock()
			handlers := b.handlers
			b.mu.RUnlock()

			for _, h := range handlers {
				if err := h(ctx, event); err != nil {
					slog.Error("event handler failed",
						"category", event.Category,
						"title", event.Title,
						"error", err)
				}
			}
		}
	}
}

// QueueDepth returns the number of events waiting for dispatch.
func (b *Bus) QueueDepth() int {
	return len(b.eventCh)
}
