// Package watchdog scores fleet agents against their behavior profiles and
// quarantines the ones that cross the containment threshold.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"agentwarden/internal/metrics"
	"agentwarden/internal/schema"
	"agentwarden/internal/storage"
)

// Profile declares the expected behavior envelope for one agent.
type Profile struct {
	Name                 string
	HeartbeatInterval    time.Duration
	MaxMessagesPerWindow int
	ExpectedRecipients   []string
	ExpectedMessageTypes []string
}

// AgentStatus is one agent's liveness report.
type AgentStatus struct {
	Name          string
	State         string // running, degraded, dead
	LastHeartbeat time.Time
	MemoryMB      float64
}

// StatusSource supplies current agent liveness.
type StatusSource interface {
	Statuses(ctx context.Context) ([]AgentStatus, error)
}

// MessageWindow summarizes an agent's traffic inside the observation window.
type MessageWindow struct {
	Count      int
	Types      map[string]int
	Recipients map[string]int
}

// MessageStats supplies per-agent traffic summaries.
type MessageStats interface {
	WindowStats(agent string, window time.Duration) MessageWindow
}

// QuarantineWriter persists containment decisions.
type QuarantineWriter interface {
	Upsert(ctx context.Context, rec storage.QuarantineRecord) error
}

// DecisionPublisher announces containment decisions to the fleet.
type DecisionPublisher interface {
	PublishQuarantine(ctx context.Context, agent, reason string) error
	PublishRelease(ctx context.Context, agent, releasedBy string) error
}

// Config holds watchdog settings.
type Config struct {
	ObservationWindow   time.Duration
	DeadAgentThreshold  time.Duration
	MemoryCeilingMB     float64
	WarnThreshold       int
	QuarantineThreshold int
	AutoReleaseAfter    time.Duration
	Profiles            []Profile
}

// QuarantineInfo is the in-memory view of one contained agent.
type QuarantineInfo struct {
	AgentName     string    `json:"agent_name"`
	Reason        string    `json:"reason"`
	QuarantinedAt time.Time `json:"quarantined_at"`
	AutoReleaseAt time.Time `json:"auto_release_at"`
}

// Watchdog scores agents each cycle. A quarantined agent is excluded from
// scoring until released; release is explicit or by the auto-release sweep.
type Watchdog struct {
	cfg       Config
	profiles  map[string]Profile
	statuses  StatusSource
	msgs      MessageStats
	reporter  schema.Reporter
	store     QuarantineWriter
	publisher DecisionPublisher
	now       func() time.Time

	mu          sync.RWMutex
	quarantined map[string]QuarantineInfo
}

// New creates a watchdog.
func New(cfg Config, statuses StatusSource, msgs MessageStats, reporter schema.Reporter, store QuarantineWriter, publisher DecisionPublisher) *Watchdog {
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = 4
	}
	if cfg.QuarantineThreshold <= cfg.WarnThreshold {
		cfg.QuarantineThreshold = 7
	}
	if cfg.ObservationWindow <= 0 {
		cfg.ObservationWindow = 5 * time.Minute
	}
	if cfg.DeadAgentThreshold <= 0 {
		cfg.DeadAgentThreshold = 5 * time.Minute
	}

	profiles := make(map[string]Profile, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		profiles[p.Name] = p
	}
	return &Watchdog{
		cfg:         cfg,
		profiles:    profiles,
		statuses:    statuses,
		msgs:        msgs,
		reporter:    reporter,
		store:       store,
		publisher:   publisher,
		now:         time.Now,
		quarantined: make(map[string]QuarantineInfo),
	}
}

// CheckAll scores every profiled agent once.
func (w *Watchdog) CheckAll(ctx context.Context) {
	statuses, err := w.statuses.Statuses(ctx)
	if err != nil {
		slog.Error("failed to fetch agent statuses", "error", err)
		return
	}

	byName := make(map[string]AgentStatus, len(statuses))
	for _, st := range statuses {
		byName[st.Name] = st
	}

	for _, profile := range w.cfg.Profiles {
		if w.IsQuarantined(profile.Name) {
			continue
		}
		st, reported := byName[profile.Name]
		w.scoreAgent(ctx, profile, st, reported)
	}
}

// finding is one scored anomaly.
type finding struct {
	points int
	reason string
}

func (w *Watchdog) scoreAgent(ctx context.Context, profile Profile, st AgentStatus, reported bool) {
	now := w.now()
	var findings []finding

	// Liveness.
	if !reported {
		findings = append(findings, finding{3, "agent missing from status feed"})
	} else {
		age := now.Sub(st.LastHeartbeat)
		switch {
		case age > w.cfg.DeadAgentThreshold:
			findings = append(findings, finding{3, fmt.Sprintf("no heartbeat for %s", age.Round(time.Second))})
			// A heartbeat dead for the full threshold means the last
			// reported state is stale; the agent is presumed dead on top
			// of the missing beat unless it already told us so.
			if st.State != "dead" {
				findings = append(findings, finding{3, "agent presumed dead"})
			}
		case profile.HeartbeatInterval > 0 && age > 2*profile.HeartbeatInterval:
			findings = append(findings, finding{1, fmt.Sprintf("heartbeat delayed (%s)", age.Round(time.Second))})
		}

		switch st.State {
		case "dead":
			findings = append(findings, finding{3, "agent reports dead state"})
		case "degraded":
			findings = append(findings, finding{1, "agent reports degraded state"})
		}

		if w.cfg.MemoryCeilingMB > 0 && st.MemoryMB > w.cfg.MemoryCeilingMB {
			findings = append(findings, finding{1, fmt.Sprintf("memory %.0fMB over ceiling %.0fMB", st.MemoryMB, w.cfg.MemoryCeilingMB)})
		}
	}

	// Traffic.
	stats := w.msgs.WindowStats(profile.Name, w.cfg.ObservationWindow)
	if profile.MaxMessagesPerWindow > 0 {
		limit := float64(profile.MaxMessagesPerWindow)
		switch {
		case float64(stats.Count) > 3*limit:
			findings = append(findings, finding{3, fmt.Sprintf("message flood: %d in window (limit %d)", stats.Count, profile.MaxMessagesPerWindow)})
		case float64(stats.Count) > 1.5*limit:
			findings = append(findings, finding{1, fmt.Sprintf("elevated message rate: %d in window (limit %d)", stats.Count, profile.MaxMessagesPerWindow)})
		}
	}
	if len(profile.ExpectedMessageTypes) > 0 {
		expected := make(map[string]bool, len(profile.ExpectedMessageTypes))
		for _, t := range profile.ExpectedMessageTypes {
			expected[t] = true
		}
		var unexpected []string
		for t := range stats.Types {
			if !expected[t] {
				unexpected = append(unexpected, t)
			}
		}
		sort.Strings(unexpected)
		for _, t := range unexpected {
			findings = append(findings, finding{2, "unexpected message type " + t})
		}
	}
	if len(profile.ExpectedRecipients) > 0 {
		expected := make(map[string]bool, len(profile.ExpectedRecipients))
		for _, r := range profile.ExpectedRecipients {
			expected[r] = true
		}
		var unexpected []string
		for r := range stats.Recipients {
			if !expected[r] {
				unexpected = append(unexpected, r)
			}
		}
		sort.Strings(unexpected)
		for _, r := range unexpected {
			findings = append(findings, finding{1, "unexpected recipient " + r})
		}
	}

	score := 0
	reasons := make([]string, 0, len(findings))
	for _, f := range findings {
		score += f.points
		reasons = append(reasons, f.reason)
	}

	switch {
	case score >= w.cfg.QuarantineThreshold:
		w.quarantine(ctx, profile.Name, score, reasons)
	case score >= w.cfg.WarnThreshold:
		w.reporter.Report(ctx, schema.NewEvent(schema.CategoryAgent, schema.SeverityWarning,
			"Agent behavior anomalous: "+profile.Name,
			map[string]any{
				"agent":   profile.Name,
				"score":   score,
				"reasons": reasons,
			}))
	}
}

func (w *Watchdog) quarantine(ctx context.Context, agent string, score int, reasons []string) {
	now := w.now().UTC()
	reason := strings.Join(reasons, "; ")
	info := QuarantineInfo{
		AgentName:     agent,
		Reason:        reason,
		QuarantinedAt: now,
	}
	if w.cfg.AutoReleaseAfter > 0 {
		info.AutoReleaseAt = now.Add(w.cfg.AutoReleaseAfter)
	}

	w.mu.Lock()
	w.quarantined[agent] = info
	w.mu.Unlock()

	metrics.QuarantinesTotal.Inc()
	slog.Warn("agent quarantined", "agent", agent, "score", score, "reason", reason)

	if w.store != nil {
		rec := storage.QuarantineRecord{
			AgentName:     agent,
			Reason:        reason,
			Severity:      schema.SeverityCritical,
			QuarantinedAt: now,
			AutoReleaseAt: info.AutoReleaseAt,
		}
		if err := w.store.Upsert(ctx, rec); err != nil {
			metrics.StoreErrors.WithLabelValues("agent_quarantine").Inc()
			slog.Error("failed to persist quarantine", "agent", agent, "error", err)
		}
	}
	if w.publisher != nil {
		if err := w.publisher.PublishQuarantine(ctx, agent, reason); err != nil {
			slog.Error("failed to broadcast quarantine", "agent", agent, "error", err)
		}
	}

	event := schema.NewEvent(schema.CategoryAgent, schema.SeverityCritical,
		"Agent quarantined: "+agent,
		map[string]any{
			"agent":   agent,
			"score":   score,
			"reasons": reasons,
		}).WithAutoResponse("agent " + agent + " quarantined")
	w.reporter.Report(ctx, event)
}

// Release lifts an agent's quarantine. Releasing an agent that is not
// quarantined is a no-op; repeated releases do not emit repeated events.
func (w *Watchdog) Release(ctx context.Context, agent, releasedBy string) bool {
	w.mu.Lock()
	info, ok := w.quarantined[agent]
	if ok {
		delete(w.quarantined, agent)
	}
	w.mu.Unlock()

	if !ok {
		return false
	}

	metrics.ReleasesTotal.Inc()
	slog.Info("agent released", "agent", agent, "released_by", releasedBy)

	if w.store != nil {
		rec := storage.QuarantineRecord{
			AgentName:     agent,
			Reason:        info.Reason,
			Severity:      schema.SeverityCritical,
			QuarantinedAt: info.QuarantinedAt,
			AutoReleaseAt: info.AutoReleaseAt,
			Released:      true,
		}
		if err := w.store.Upsert(ctx, rec); err != nil {
			metrics.StoreErrors.WithLabelValues("agent_quarantine").Inc()
			slog.Error("failed to persist release", "agent", agent, "error", err)
		}
	}
	if w.publisher != nil {
		if err := w.publisher.PublishRelease(ctx, agent, releasedBy); err != nil {
			slog.Error("failed to broadcast release", "agent", agent, "error", err)
		}
	}

	w.reporter.Report(ctx, schema.NewEvent(schema.CategoryAgent, schema.SeverityInfo,
		"Agent released: "+agent,
		map[string]any{
			"agent":       agent,
			"released_by": releasedBy,
			"held_for":    w.now().UTC().Sub(info.QuarantinedAt).Round(time.Second).String(),
		}))
	return true
}

// SweepAutoReleases releases agents whose hold has expired.
func (w *Watchdog) SweepAutoReleases(ctx context.Context) {
	now := w.now()

	w.mu.RLock()
	var due []string
	for agent, info := range w.quarantined {
		if !info.AutoReleaseAt.IsZero() && now.After(info.AutoReleaseAt) {
			due = append(due, agent)
		}
	}
	w.mu.RUnlock()

	for _, agent := range due {
		w.Release(ctx, agent, "auto-release")
	}
}

// IsQuarantined reports whether the agent is currently contained.
func (w *Watchdog) IsQuarantined(agent string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.quarantined[agent]
	return ok
}

// Quarantined lists contained agents sorted by name.
func (w *Watchdog) Quarantined() []QuarantineInfo {
	w.mu.RLock()
	out := make([]QuarantineInfo, 0, len(w.quarantined))
	for _, info := range w.quarantined {
		out = append(out, info)
	}
	w.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentName < out[j].AgentName })
	return out
}
