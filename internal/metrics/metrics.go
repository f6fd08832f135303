// Package metrics provides Prometheus metrics for driftwatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "driftwatch"
)

// Detection metrics
var (
	// AggregateRunsTotal counts aggregation runs by tenant and outcome.
	AggregateRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "runs_total",
			Help:      "Total number of aggregation runs",
		},
		[]string{"tenant", "status"},
	)

	// SignalsDetectedTotal counts emitted signals by tenant and kind.
	SignalsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detect",
			Name:      "signals_total",
			Help:      "Total number of signals emitted",
		},
		[]string{"tenant", "metric", "kind"},
	)

	// SignalsSkippedTotal counts entity keys skipped during detection.
	SignalsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detect",
			Name:      "skipped_total",
			Help:      "Entity keys skipped during detection",
		},
		[]string{"tenant", "reason"},
	)
)

// Evaluation metrics
var (
	// AlertEventsCreatedTotal counts newly created alert events.
	AlertEventsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluate",
			Name:      "events_created_total",
			Help:      "Total number of alert events created",
		},
		[]string{"tenant"},
	)

	// AlertEventsDedupedTotal counts evaluations that returned an
	// existing event instead of creating one.
	AlertEventsDedupedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluate",
			Name:      "events_deduped_total",
			Help:      "Evaluations resolved to a pre-existing alert event",
		},
		[]string{"tenant"},
	)

	// SuppressionsTotal counts suppressed events by reason.
	SuppressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "suppress",
			Name:      "suppressions_total",
			Help:      "Alert events suppressed instead of notified",
		},
		[]string{"tenant", "reason"},
	)
)

// Delivery metrics
var (
	// NotificationsTotal counts channel sends by type and outcome.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Channel notification attempts",
		},
		[]string{"tenant", "channel_type", "status"},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by outcome.
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook delivery attempts",
		},
		[]string{"status"},
	)

	// WebhookAttemptDuration tracks webhook call latency.
	WebhookAttemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "attempt_duration_seconds",
			Help:      "Webhook delivery attempt latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Flag metrics
var (
	// FlagEvaluationsTotal counts feature flag evaluations by result.
	FlagEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flags",
			Name:      "evaluations_total",
			Help:      "Feature flag evaluations",
		},
		[]string{"flag", "result"},
	)
)
