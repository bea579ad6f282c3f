package msgfeed

import (
	"context"
	"testing"
	"time"
)

func TestStatusTracker(t *testing.T) {
	tr := NewStatusTracker()
	base := time.Now()

	tr.Observe(Message{From: "scout-1", Type: "task_result", At: base.Add(-time.Minute)})
	tr.Observe(Message{From: "scout-1", Type: "status", State: "degraded", MemoryMB: 300, At: base})
	tr.Observe(Message{From: "trader-1", Type: "heartbeat", At: base})

	statuses, err := tr.Statuses(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}

	byName := make(map[string]int)
	for i, st := range statuses {
		byName[st.Name] = i
	}

	scout := statuses[byName["scout-1"]]
	if !scout.LastHeartbeat.Equal(base) {
		t.Errorf("heartbeat = %v, want %v", scout.LastHeartbeat, base)
	}
	if scout.State != "degraded" || scout.MemoryMB != 300 {
		t.Errorf("scout status = %+v", scout)
	}

	trader := statuses[byName["trader-1"]]
	if trader.State != "running" {
		t.Errorf("trader state = %q, want running default", trader.State)
	}
}

func TestStatusTracker_StaleHeartbeatIgnored(t *testing.T) {
	tr := NewStatusTracker()
	base := time.Now()

	tr.Observe(Message{From: "scout-1", Type: "status", At: base})
	// Out-of-order delivery must not move the heartbeat backwards.
	tr.Observe(Message{From: "scout-1", Type: "status", At: base.Add(-time.Minute)})

	statuses, _ := tr.Statuses(context.Background())
	if !statuses[0].LastHeartbeat.Equal(base) {
		t.Errorf("heartbeat moved backwards: %v", statuses[0].LastHeartbeat)
	}
}
