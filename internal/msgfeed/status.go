package msgfeed

import (
	"context"
	"sync"
	"time"

	"agentwarden/internal/watchdog"
)

// StatusTracker derives agent liveness from heartbeat and status messages
// on the fleet feed. It is the watchdog's status source.
type StatusTracker struct {
	mu      sync.RWMutex
	byAgent map[string]watchdog.AgentStatus
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{byAgent: make(map[string]watchdog.AgentStatus)}
}

// Observe folds one message into the sender's liveness record. Any message
// counts as a heartbeat; status messages also carry state and memory.
func (t *StatusTracker) Observe(msg Message) {
	at := msg.At
	if at.IsZero() {
		at = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.byAgent[msg.From]
	st.Name = msg.From
	if at.After(st.LastHeartbeat) {
		st.LastHeartbeat = at
	}
	if msg.Type == "status" || msg.Type == "heartbeat" {
		if msg.State != "" {
			st.State = msg.State
		}
		if msg.MemoryMB > 0 {
			st.MemoryMB = msg.MemoryMB
		}
	}
	if st.State == "" {
		st.State = "running"
	}
	t.byAgent[msg.From] = st
}

// Statuses returns the latest liveness record per agent.
func (t *StatusTracker) Statuses(_ context.Context) ([]watchdog.AgentStatus, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]watchdog.AgentStatus, 0, len(t.byAgent))
	for _, st := range t.byAgent {
		out = append(out, st)
	}
	return out, nil
}
