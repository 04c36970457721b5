package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics for production monitoring
var (
	// Analysis pass metrics
	AnalysisPassesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_analysis_passes_total",
			Help: "Total number of analysis passes executed",
		},
	)

	AnalysisPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steward_analysis_pass_duration_seconds",
			Help:    "Analysis pass duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	OpportunitiesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_opportunities_detected_total",
			Help: "Total opportunities emitted by detection rules",
		},
		[]string{"action_id"},
	)

	// Decision metrics
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_decisions_total",
			Help: "Total decisions by policy outcome",
		},
		[]string{"action_id", "outcome"},
	)

	ConfidenceScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steward_confidence_score",
			Help:    "Confidence scores attached to scored opportunities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// Confirmation metrics
	PendingConfirmations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "steward_pending_confirmations",
			Help: "Confirmation requests currently awaiting resolution",
		},
	)

	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_confirmations_total",
			Help: "Confirmation request resolutions by final status",
		},
		[]string{"status"},
	)

	// Execution metrics
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_executions_total",
			Help: "Executions by action and terminal status",
		},
		[]string{"action_id", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "steward_execution_duration_seconds",
			Help:    "Action execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~2.7min
		},
		[]string{"action_id"},
	)

	ResourceLockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steward_resource_lock_wait_seconds",
			Help:    "Time spent waiting for resource locks",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	ResourceBusyRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_resource_busy_rejections_total",
			Help: "Submissions rejected because a resource lock wait timed out",
		},
	)

	SuspendedActions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "steward_suspended_actions",
			Help: "Actions currently suspended by the circuit breaker",
		},
	)

	// Audit metrics
	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_audit_entries_total",
			Help: "Audit entries recorded by severity",
		},
		[]string{"severity"},
	)
)
