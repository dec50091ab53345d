package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysesTotal counts /analyze outcomes: ok, unauthorized, bad_request,
	// payload_too_large, rate_limited, upstream_error, internal_error.
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepfake_analyses_total",
			Help: "Total number of analysis requests by outcome",
		},
		[]string{"outcome"},
	)

	FlaggedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfake_flagged_total",
			Help: "Total number of analyses whose prob_fake met the flag threshold",
		},
	)

	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepfake_model_call_duration_seconds",
			Help:    "Duration of calls to the upstream classification model",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	ProbeDegradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfake_probe_degraded_total",
			Help: "Total number of metadata probes that fell back to zeroed metadata",
		},
	)

	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepfake_audit_queue_depth",
			Help: "Audit records waiting to be written",
		},
	)

	AuditDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfake_audit_records_dropped_total",
			Help: "Audit records rejected because the queue stayed full",
		},
	)

	AuditWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfake_audit_write_failures_total",
			Help: "Audit records that could not be persisted after retries",
		},
	)

	AuditWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepfake_audit_records_written_total",
			Help: "Audit records persisted to the log store",
		},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deepfake_circuit_breaker_state",
			Help: "Upstream circuit breaker state",
		},
		[]string{"name"},
	)

	AlertsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepfake_alerts_published_total",
			Help: "Flag alerts handed to the alert sink by result",
		},
		[]string{"result"},
	)
)
