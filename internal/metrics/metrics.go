// Package metrics exposes Prometheus instrumentation for the detection pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts security events accepted by the bus.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentwarden",
		Name:      "events_total",
		Help:      "Security events emitted, by category and severity.",
	}, []string{"category", "severity"})

	// EventsDropped counts events dropped because the bus was full.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentwarden",
		Name:      "events_dropped_total",
		Help:      "Security events dropped due to a full event bus.",
	})

	// IncidentsActive tracks the current number of unresolved incidents.
	IncidentsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentwarden",
		Name:      "incidents_active",
		Help:      "Currently active (unresolved) incidents.",
	})

	// EscalationsTotal counts incident escalations.
	EscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentwarden",
		Name:      "escalations_total",
		Help:      "Incidents escalated by frequency rules.",
	})

	// AlertsSent counts alerts delivered to the admin channel.
	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentwarden",
		Name:      "alerts_sent_total",
		Help:      "Alerts sent to operators, by severity.",
	}, []string{"severity"})

	// AlertsSuppressed counts alerts suppressed by cooldown.
	AlertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentwarden",
		Name:      "alerts_suppressed_total",
		Help:      "Alerts suppressed by the per-severity cooldown.",
	}, []string{"severity"})

	// QuarantinesTotal counts agent quarantine transitions.
	QuarantinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentwarden",
		Name:      "quarantines_total",
		Help:      "Agents placed into quarantine.",
	})

	// ReleasesTotal counts agent release transitions.
	ReleasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentwarden",
		Name:      "releases_total",
		Help:      "Agents released from quarantine.",
	})

	// RateLimited counts requests rejected by the fixed-window limiter.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentwarden",
		Name:      "rate_limited_total",
		Help:      "Requests blocked by the service rate limiter.",
	}, []string{"service"})

	// ThreatsDetected counts content threats by type.
	ThreatsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentwarden",
		Name:      "content_threats_total",
		Help:      "Content threats detected, by threat type.",
	}, []string{"type"})

	// StoreErrors counts best-effort persistence failures.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentwarden",
		Name:      "store_errors_total",
		Help:      "Durable store write failures, by table.",
	}, []string{"table"})
)
