package msgfeed

import (
	"testing"
	"time"
)

func TestWindowStats(t *testing.T) {
	base := time.Now()
	a := NewAggregator(10 * time.Minute)
	a.now = func() time.Time { return base }

	a.Record(Message{From: "scout-1", To: "coordinator", Type: "status", At: base.Add(-4 * time.Minute)})
	a.Record(Message{From: "scout-1", To: "coordinator", Type: "status", At: base.Add(-2 * time.Minute)})
	a.Record(Message{From: "scout-1", To: "trader-1", Type: "task_result", At: base.Add(-1 * time.Minute)})
	a.Record(Message{From: "other", To: "coordinator", Type: "status", At: base})

	stats := a.WindowStats("scout-1", 5*time.Minute)
	if stats.Count != 3 {
		t.Errorf("count = %d, want 3", stats.Count)
	}
	if stats.Types["status"] != 2 || stats.Types["task_result"] != 1 {
		t.Errorf("types = %+v", stats.Types)
	}
	if stats.Recipients["coordinator"] != 2 || stats.Recipients["trader-1"] != 1 {
		t.Errorf("recipients = %+v", stats.Recipients)
	}
}

func TestWindowStats_ExcludesOldMessages(t *testing.T) {
	base := time.Now()
	a := NewAggregator(10 * time.Minute)
	a.now = func() time.Time { return base }

	a.Record(Message{From: "scout-1", Type: "status", At: base.Add(-8 * time.Minute)})
	a.Record(Message{From: "scout-1", Type: "status", At: base.Add(-1 * time.Minute)})

	if got := a.WindowStats("scout-1", 5*time.Minute).Count; got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
	if got := a.WindowStats("scout-1", 10*time.Minute).Count; got != 2 {
		t.Errorf("full-window count = %d, want 2", got)
	}
}

func TestRecordPrunesBeyondRetention(t *testing.T) {
	base := time.Now()
	a := NewAggregator(10 * time.Minute)

	current := base
	a.now = func() time.Time { return current }

	a.Record(Message{From: "scout-1", Type: "status", At: base.Add(-20 * time.Minute)})
	a.Record(Message{From: "scout-1", Type: "status", At: base})

	if got := len(a.bySender["scout-1"]); got != 1 {
		t.Errorf("retained %d entries, want 1", got)
	}
}

func TestUnknownAgentIsEmpty(t *testing.T) {
	a := NewAggregator(10 * time.Minute)
	stats := a.WindowStats("ghost", 5*time.Minute)
	if stats.Count != 0 || len(stats.Types) != 0 || len(stats.Recipients) != 0 {
		t.Errorf("unknown agent stats not empty: %+v", stats)
	}
}

func TestZeroTimestampUsesNow(t *testing.T) {
	base := time.Now()
	a := NewAggregator(10 * time.Minute)
	a.now = func() time.Time { return base }

	a.Record(Message{From: "scout-1", Type: "status"})
	if got := a.WindowStats("scout-1", time.Minute).Count; got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
}
