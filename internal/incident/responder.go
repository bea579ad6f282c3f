// Package incident aggregates security events into incidents, escalates
// repeating ones, and pushes alerts through notification channels under
// per-(category, severity) cooldowns.
package incident

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"agentwarden/internal/metrics"
	"agentwarden/internal/schema"
)

// Notifier delivers an alert to one destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, event *schema.SecurityEvent) error
}

// escalationRule promotes an incident when enough recent events at or above
// a severity arrive inside the window. Each incident escalates at most once
// per rule target.
type escalationRule struct {
	minSeverity schema.Severity
	count       int
	window      time.Duration
	escalateTo  schema.Severity
}

var defaultEscalations = []escalationRule{
	{minSeverity: schema.SeverityCritical, count: 3, window: 5 * time.Minute, escalateTo: schema.SeverityEmergency},
	{minSeverity: schema.SeverityWarning, count: 5, window: 10 * time.Minute, escalateTo: schema.SeverityCritical},
}

// defaultCooldowns throttle repeat alerts per (category, severity) pair.
// Emergency alerts are never throttled.
var defaultCooldowns = map[schema.Severity]time.Duration{
	schema.SeverityInfo:      30 * time.Minute,
	schema.SeverityWarning:   10 * time.Minute,
	schema.SeverityCritical:  2 * time.Minute,
	schema.SeverityEmergency: 0,
}

type eventStamp struct {
	at       time.Time
	severity schema.Severity
}

// Incident is one open group of related events.
type Incident struct {
	Key         string          `json:"key"`
	Category    schema.Category `json:"category"`
	Title       string          `json:"title"`
	Count       int             `json:"count"`
	MaxSeverity schema.Severity `json:"max_severity"`
	FirstSeen   time.Time       `json:"first_seen"`
	LastSeen    time.Time       `json:"last_seen"`
	Escalated   bool            `json:"escalated"`

	stamps []eventStamp
}

// Config holds incident responder settings.
type Config struct {
	// ExpiryWindow closes incidents with no new events for this long.
	ExpiryWindow time.Duration
}

// Responder is the terminal consumer of the event stream. HandleEvent is
// only ever called from the bus dispatch goroutine, so incident state needs
// no locking against itself, only against the read-side API.
type Responder struct {
	cfg       Config
	reporter  schema.Reporter
	notifiers []Notifier
	now       func() time.Time

	mu        sync.RWMutex
	incidents map[string]*Incident
	lastAlert map[string]time.Time // keyed by category|severity
}

// New creates an incident responder.
func New(cfg Config, reporter schema.Reporter, notifiers []Notifier) *Responder {
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = time.Hour
	}
	return &Responder{
		cfg:       cfg,
		reporter:  reporter,
		notifiers: notifiers,
		now:       time.Now,
		incidents: make(map[string]*Incident),
		lastAlert: make(map[string]time.Time),
	}
}

// HandleEvent folds one event into its incident, applies escalation rules,
// and alerts subject to cooldown.
func (r *Responder) HandleEvent(ctx context.Context, event *schema.SecurityEvent) error {
	now := r.now()
	key := string(event.Category) + ":" + event.TitlePrefix()

	r.mu.Lock()
	inc := r.incidents[key]
	if inc == nil {
		inc = &Incident{
			Key:         key,
			Category:    event.Category,
			Title:       event.TitlePrefix(),
			MaxSeverity: event.Severity,
			FirstSeen:   now,
		}
		r.incidents[key] = inc
		metrics.IncidentsActive.Set(float64(len(r.incidents)))
	}
	inc.Count++
	inc.LastSeen = now
	inc.MaxSeverity = schema.MaxSeverity(inc.MaxSeverity, event.Severity)
	inc.stamps = append(inc.stamps, eventStamp{at: now, severity: event.Severity})

	escalation := r.checkEscalation(inc, now)
	r.mu.Unlock()

	r.alert(event)

	if escalation != nil {
		metrics.EscalationsTotal.Inc()
		slog.Warn("incident escalated",
			"incident", key, "severity", escalation.Severity, "count", inc.Count)
		// The escalation event re-enters the pipeline for persistence and
		// becomes its own incident; its alert bypasses cooldown below.
		r.reporter.Report(ctx, escalation)
	}
	return nil
}

// checkEscalation must be called with the lock held. Rules are ordered most
// severe first; the first match wins and the incident never escalates twice.
func (r *Responder) checkEscalation(inc *Incident, now time.Time) *schema.SecurityEvent {
	if inc.Escalated {
		return nil
	}
	for _, rule := range defaultEscalations {
		recent := 0
		for _, s := range inc.stamps {
			if now.Sub(s.at) <= rule.window && s.severity.Rank() >= rule.minSeverity.Rank() {
				recent++
			}
		}
		if recent >= rule.count {
			inc.Escalated = true
			inc.MaxSeverity = schema.MaxSeverity(inc.MaxSeverity, rule.escalateTo)
			return schema.NewEvent(schema.CategoryIncident, rule.escalateTo,
				"Incident escalated: "+inc.Key,
				map[string]any{
					"incident":     inc.Key,
					"event_count":  recent,
					"window":       rule.window.String(),
					"from":         string(rule.minSeverity),
					"to":           string(rule.escalateTo),
					"escalated":    true,
					"max_severity": string(inc.MaxSeverity),
				})
		}
	}
	return nil
}

// alert fans the event out to every notifier unless the (category, severity)
// pair is cooling down. Escalation events always go out. Sends are detached
// from the caller's lifetime.
func (r *Responder) alert(event *schema.SecurityEvent) {
	bypass := false
	if v, ok := event.Details["escalated"].(bool); ok && v {
		bypass = true
	}

	if !bypass {
		cooldown := defaultCooldowns[event.Severity]
		if cooldown > 0 {
			key := string(event.Category) + "|" + string(event.Severity)
			r.mu.Lock()
			last, seen := r.lastAlert[key]
			now := r.now()
			if seen && now.Sub(last) < cooldown {
				r.mu.Unlock()
				metrics.AlertsSuppressed.WithLabelValues(string(event.Severity)).Inc()
				slog.Debug("alert suppressed by cooldown",
					"category", event.Category, "severity", event.Severity, "title", event.Title)
				return
			}
			r.lastAlert[key] = now
			r.mu.Unlock()
		}
	}

	metrics.AlertsSent.WithLabelValues(string(event.Severity)).Inc()
	for _, n := range r.notifiers {
		n := n
		go func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := n.Send(sendCtx, event); err != nil {
				slog.Error("notification failed", "channel", n.Name(), "title", event.Title, "error", err)
			}
		}()
	}
}

// Sweep closes incidents with no events inside the expiry window and prunes
// stale stamps from the rest.
func (r *Responder) Sweep() {
	now := r.now()
	maxRuleWindow := 10 * time.Minute

	r.mu.Lock()
	var closed []string
	for key, inc := range r.incidents {
		if now.Sub(inc.LastSeen) > r.cfg.ExpiryWindow {
			closed = append(closed, key)
			delete(r.incidents, key)
			continue
		}
		trimmed := inc.stamps[:0]
		for _, s := range inc.stamps {
			if now.Sub(s.at) <= maxRuleWindow {
				trimmed = append(trimmed, s)
			}
		}
		inc.stamps = trimmed
	}
	metrics.IncidentsActive.Set(float64(len(r.incidents)))
	r.mu.Unlock()

	for _, key := range closed {
		slog.Info("incident closed", "incident", key)
	}
}

// Incidents returns open incidents, most recent first.
func (r *Responder) Incidents() []Incident {
	r.mu.RLock()
	out := make([]Incident, 0, len(r.incidents))
	for _, inc := range r.incidents {
		copied := *inc
		copied.stamps = nil
		out = append(out, copied)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}

// Summary renders a short operator-facing digest of open incidents.
func (r *Responder) Summary() string {
	incidents := r.Incidents()
	if len(incidents) == 0 {
		return "no open incidents"
	}
	s := fmt.Sprintf("%d open incidents", len(incidents))
	for i, inc := range incidents {
		if i == 5 {
			s += fmt.Sprintf("; +%d more", len(incidents)-5)
			break
		}
		s += fmt.Sprintf("; [%s] %s x%d", inc.MaxSeverity, inc.Key, inc.Count)
	}
	return s
}
