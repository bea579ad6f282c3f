// Package schema defines the shared security event contract.
// Every detector emits SecurityEvents in this format and the incident
// responder consumes them; events are immutable once created.
package schema

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category identifies which detector domain produced an event.
type Category string

const (
	CategoryWallet   Category = "wallet"
	CategoryNetwork  Category = "network"
	CategoryContent  Category = "content"
	CategoryAgent    Category = "agent"
	CategoryIncident Category = "incident"
)

// IsValid checks if the category is a valid value.
func (c Category) IsValid() bool {
	switch c {
	case CategoryWallet, CategoryNetwork, CategoryContent, CategoryAgent, CategoryIncident:
		return true
	}
	return false
}

// Severity represents event severity, ordered info < warning < critical < emergency.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical, SeverityEmergency:
		return true
	}
	return false
}

// Rank returns the severity's position in the total order.
// Unknown severities rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	case SeverityEmergency:
		return 4
	}
	return 0
}

// MaxSeverity returns the higher-ranked of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SecurityEvent is the canonical record emitted by every detector.
// It is created once and never mutated; persistence is append-only.
type SecurityEvent struct {
	EventID   uuid.UUID `json:"event_id" validate:"required"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Category  Category  `json:"category" validate:"required,oneof=wallet network content agent incident"`
	Severity  Severity  `json:"severity" validate:"required,oneof=info warning critical emergency"`
	Title     string    `json:"title" validate:"required,title_format,max=512"`

	// Details carries detector-specific structured context.
	Details map[string]any `json:"details,omitempty"`

	// AutoResponse describes any containment action already taken for
	// this event (e.g. an agent quarantine).
	AutoResponse string `json:"auto_response,omitempty" validate:"max=1024"`
}

// NewEvent creates a SecurityEvent with a fresh ID and timestamp.
func NewEvent(category Category, severity Severity, title string, details map[string]any) *SecurityEvent {
	return &SecurityEvent{
		EventID:   uuid.New(),
		Timestamp: time.Now().UTC(),
		Category:  category,
		Severity:  severity,
		Title:     title,
		Details:   details,
	}
}

// WithAutoResponse returns a copy of the event with the auto-response set.
func (e *SecurityEvent) WithAutoResponse(desc string) *SecurityEvent {
	clone := *e
	clone.AutoResponse = desc
	return &clone
}

// TitlePrefix returns the grouping segment of the title: the text before
// the first ":" separator, trimmed. Incidents are keyed by (category, prefix).
func (e *SecurityEvent) TitlePrefix() string {
	if prefix, _, found := strings.Cut(e.Title, ":"); found {
		return strings.TrimSpace(prefix)
	}
	return strings.TrimSpace(e.Title)
}

// Reporter is the boundary through which detectors deliver events.
// Report must be safe to call from any detector goroutine and must not
// surface downstream persistence or notification failures to the caller.
type Reporter interface {
	Report(ctx context.Context, event *SecurityEvent)
}
