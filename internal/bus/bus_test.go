package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"agentwarden/internal/schema"
)

func TestBus_DeliversInOrder(t *testing.T) {
	b := New(Config{QueueSize: 16})

	var mu sync.Mutex
	var got []string
	b.AddHandler(func(ctx context.Context, e *schema.SecurityEvent) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Title)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Stop()

	b.Report(ctx, schema.NewEvent(schema.CategoryAgent, schema.SeverityWarning, "first", nil))
	b.Report(ctx, schema.NewEvent(schema.CategoryAgent, schema.SeverityWarning, "second", nil))

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 2 events, got %d", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "first" || got[1] != "second" {
		t.Errorf("events delivered out of order: %v", got)
	}
}

func TestBus_RejectsInvalidEvent(t *testing.T) {
	b := New(DefaultConfig())

	delivered := false
	b.AddHandler(func(ctx context.Context, e *schema.SecurityEvent) error {
		delivered = true
		return nil
	})

	// Invalid severity must be dropped before it reaches the queue.
	ev := schema.NewEvent(schema.CategoryWallet, "fatal", "bad event", nil)
	b.Report(context.Background(), ev)

	if b.QueueDepth() != 0 {
		t.Error("invalid event should not be queued")
	}
	if delivered {
		t.Error("invalid event should never be delivered")
	}
}

func TestBus_HandlerFailureDoesNotStopDelivery(t *testing.T) {
	b := New(Config{QueueSize: 4})

	var mu sync.Mutex
	count := 0
	b.AddHandler(func(ctx context.Context, e *schema.SecurityEvent) error {
		return errors.New("handler down")
	})
	b.AddHandler(func(ctx context.Context, e *schema.SecurityEvent) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Stop()

	b.Report(ctx, schema.NewEvent(schema.CategoryNetwork, schema.SeverityCritical, "still delivered", nil))

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := count
		mu.Unlock()
		if n == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("second handler never ran after first handler error")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
