// Package metrics provides Prometheus metrics for stockalert.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "stockalert"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Batch metrics
var (
	// TicksTotal counts scheduler ticks by result (ok, failed, skipped, locked).
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "ticks_total",
			Help:      "Total batch ticks by result",
		},
		[]string{"result"},
	)

	// TickDuration tracks wall-clock time per tick.
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "tick_duration_seconds",
			Help:      "Batch tick duration in seconds",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 240, 300},
		},
	)

	// TickSoftLimitExceeded counts ticks that ran past the soft limit.
	TickSoftLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "soft_limit_exceeded_total",
			Help:      "Total ticks that exceeded the soft time limit",
		},
	)

	// TenantsProcessed counts tenants processed by result.
	TenantsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "tenants_total",
			Help:      "Total tenants processed by result",
		},
		[]string{"result"},
	)
)

// Alerting metrics
var (
	// RulesEvaluated counts rule evaluations by kind.
	RulesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "rules_evaluated_total",
			Help:      "Total alert rules evaluated",
		},
		[]string{"kind"},
	)

	// EvaluationErrors counts rules skipped because evaluation failed.
	EvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "evaluation_errors_total",
			Help:      "Total alert rule evaluation errors",
		},
		[]string{"kind"},
	)

	// AlertsFired counts recorded alert events by kind and severity.
	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_fired_total",
			Help:      "Total alert events recorded",
		},
		[]string{"kind", "severity"},
	)

	// AlertsSuppressed counts firings dropped by deduplication.
	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_suppressed_total",
			Help:      "Total firings suppressed as duplicates",
		},
		[]string{"kind"},
	)

	// StorageErrors counts failed storage calls made by the pipeline.
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total storage errors by operation",
		},
		[]string{"operation"},
	)
)

// Notification metrics
var (
	// NotificationsTotal counts per-recipient send attempts.
	// class is empty on success, otherwise invalid_recipient, transport or unavailable.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "sends_total",
			Help:      "Total notification sends by channel, result and failure class",
		},
		[]string{"channel", "result", "class"},
	)

	// NotificationDuration tracks per-recipient send latency.
	NotificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "send_duration_seconds",
			Help:      "Notification send latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel"},
	)

	// EventsPublished counts alert events published to the event bus.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "published_total",
			Help:      "Total alert events published by result",
		},
		[]string{"result"},
	)
)
