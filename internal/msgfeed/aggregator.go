// Package msgfeed consumes the fleet's inter-agent message stream and keeps
// per-agent traffic summaries for behavior scoring.
package msgfeed

import (
	"sync"
	"time"

	"agentwarden/internal/watchdog"
)

// Message is one observed inter-agent message. Status messages additionally
// carry the sender's self-reported state and memory footprint.
type Message struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	Type     string    `json:"type"`
	At       time.Time `json:"at"`
	State    string    `json:"state,omitempty"`
	MemoryMB float64   `json:"memory_mb,omitempty"`
}

type entry struct {
	at      time.Time
	msgType string
	to      string
}

// Aggregator keeps a sliding record of messages per sender. Entries older
// than the retention window are pruned on write.
type Aggregator struct {
	retention time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	bySender map[string][]entry
}

// NewAggregator creates an aggregator retaining messages for at least the
// given window.
func NewAggregator(retention time.Duration) *Aggregator {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Aggregator{
		retention: retention,
		now:       time.Now,
		bySender:  make(map[string][]entry),
	}
}

// Record adds one message to the sender's trail.
func (a *Aggregator) Record(msg Message) {
	at := msg.At
	if at.IsZero() {
		at = a.now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	trail := append(a.bySender[msg.From], entry{at: at, msgType: msg.Type, to: msg.To})
	cutoff := a.now().Add(-a.retention)
	for len(trail) > 0 && trail[0].at.Before(cutoff) {
		trail = trail[1:]
	}
	a.bySender[msg.From] = trail
}

// WindowStats summarizes the agent's traffic inside the window.
func (a *Aggregator) WindowStats(agent string, window time.Duration) watchdog.MessageWindow {
	cutoff := a.now().Add(-window)

	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := watchdog.MessageWindow{
		Types:      make(map[string]int),
		Recipients: make(map[string]int),
	}
	for _, e := range a.bySender[agent] {
		if e.at.Before(cutoff) {
			continue
		}
		stats.Count++
		if e.msgType != "" {
			stats.Types[e.msgType]++
		}
		if e.to != "" {
			stats.Recipients[e.to]++
		}
	}
	return stats
}

// Senders lists agents with any retained traffic.
func (a *Aggregator) Senders() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.bySender))
	for name, trail := range a.bySender {
		if len(trail) > 0 {
			out = append(out, name)
		}
	}
	return out
}
