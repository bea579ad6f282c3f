package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func validEvent() *SecurityEvent {
	return NewEvent(CategoryWallet, SeverityCritical, "Wallet drain detected: main-treasury", map[string]any{
		"dropPercent": 85.0,
	})
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		mutate  func(*SecurityEvent)
		wantErr bool
	}{
		{
			name:    "valid event",
			mutate:  func(e *SecurityEvent) {},
			wantErr: false,
		},
		{
			name:    "missing category",
			mutate:  func(e *SecurityEvent) { e.Category = "" },
			wantErr: true,
		},
		{
			name:    "unknown category",
			mutate:  func(e *SecurityEvent) { e.Category = "firewall" },
			wantErr: true,
		},
		{
			name:    "unknown severity",
			mutate:  func(e *SecurityEvent) { e.Severity = "fatal" },
			wantErr: true,
		},
		{
			name:    "empty title",
			mutate:  func(e *SecurityEvent) { e.Title = "" },
			wantErr: true,
		},
		{
			name:    "missing event id",
			mutate:  func(e *SecurityEvent) { e.EventID = uuid.Nil },
			wantErr: true,
		},
		{
			name:    "future timestamp",
			mutate:  func(e *SecurityEvent) { e.Timestamp = time.Now().Add(time.Hour) },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.mutate(event)
			err := v.Validate(event)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSeverity_Rank(t *testing.T) {
	order := []Severity{SeverityInfo, SeverityWarning, SeverityCritical, SeverityEmergency}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("expected %s to rank above %s", order[i], order[i-1])
		}
	}

	if MaxSeverity(SeverityWarning, SeverityCritical) != SeverityCritical {
		t.Error("MaxSeverity should return the higher severity")
	}
	if MaxSeverity(SeverityEmergency, SeverityInfo) != SeverityEmergency {
		t.Error("MaxSeverity should keep the higher current severity")
	}
}

func TestSecurityEvent_TitlePrefix(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Wallet drain detected: main-treasury", "Wallet drain detected"},
		{"Agent quarantined: scout-1: score 8", "Agent quarantined"},
		{"RPC endpoints diverging", "RPC endpoints diverging"},
	}

	for _, tt := range tests {
		e := &SecurityEvent{Title: tt.title}
		if got := e.TitlePrefix(); got != tt.want {
			t.Errorf("TitlePrefix(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}
