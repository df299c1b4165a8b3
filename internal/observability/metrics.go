// File: internal/observability/metrics.go
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tool metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdpmcp",
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total number of tool calls by tool and outcome kind",
		},
		[]string{"tool", "outcome"},
	)

	ToolLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cdpmcp",
			Subsystem: "tool",
			Name:      "latency_seconds",
			Help:      "Tool call latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"tool"},
	)

	// Browser metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cdpmcp",
			Subsystem: "browser",
			Name:      "sessions_active",
			Help:      "Number of registered browser sessions",
		},
	)

	ActiveTabs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cdpmcp",
			Subsystem: "browser",
			Name:      "tabs_active",
			Help:      "Number of registered tabs",
		},
	)

	SessionTerminations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdpmcp",
			Subsystem: "browser",
			Name:      "session_terminations_total",
			Help:      "Sessions that reached the closed state, by cause",
		},
		[]string{"cause"}, // "closed", "launch_failed", "crashed"
	)

	// Event pipeline metrics
	EventsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdpmcp",
			Subsystem: "events",
			Name:      "captured_total",
			Help:      "Protocol events appended to tab logs, by category",
		},
		[]string{"category"},
	)

	EventsEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdpmcp",
			Subsystem: "events",
			Name:      "evicted_total",
			Help:      "Log entries dropped by the retention cap, by category",
		},
		[]string{"category"},
	)

	ElementsInvalidated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cdpmcp",
			Subsystem: "registry",
			Name:      "elements_invalidated_total",
			Help:      "Element references invalidated by navigation, mutation or cleanup",
		},
	)

	// Interception metrics
	InterceptionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdpmcp",
			Subsystem: "interception",
			Name:      "decisions_total",
			Help:      "Paused requests resolved, by disposition",
		},
		[]string{"disposition"},
	)
)
