// Package metrics holds the Prometheus collectors of the automation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest metrics
var (
	// WebhookRequestsTotal counts inbound deliveries by source kind and outcome.
	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_webhook_requests_total",
			Help: "Total number of inbound webhook requests by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// IngestDuration tracks the synchronous part of a webhook request.
	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_ingest_duration_seconds",
			Help:    "Time spent accepting an inbound event, up to dispatch",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"provider"},
	)

	// SecurityEventsTotal counts rejected signatures and rate limited requests.
	SecurityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_security_events_total",
			Help: "Total number of security rejections",
		},
		[]string{"tenant_id", "reason"},
	)
)

// Execution metrics
var (
	// ExecutionsTotal counts finished executions by terminal status.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_executions_total",
			Help: "Total number of workflow executions by terminal status",
		},
		[]string{"tenant_id", "status"},
	)

	// ExecutionDuration tracks execution duration.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_execution_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: []float64{.05, .1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	// ExecutionsInProgress tracks executions held by this process.
	ExecutionsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "automation_executions_in_progress",
			Help: "Number of workflow executions currently running in this process",
		},
	)

	// NodeRunsTotal counts node runs by capability and result.
	NodeRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_node_runs_total",
			Help: "Total number of node runs by capability and result",
		},
		[]string{"capability", "result"},
	)

	// NodeRunDuration tracks node duration, retries included.
	NodeRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_node_run_duration_seconds",
			Help:    "Node run duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{"capability"},
	)

	// NodeRetryTotal counts extra attempts made by the retry policy.
	NodeRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_node_retry_total",
			Help: "Total number of node retries",
		},
		[]string{"capability"},
	)

	// StaleExecutionsReaped counts executions failed by the maintenance reaper.
	StaleExecutionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "automation_stale_executions_reaped_total",
			Help: "Total number of stuck executions finalized by the reaper",
		},
	)
)

func RecordWebhook(provider, outcome string, elapsed time.Duration) {
	WebhookRequestsTotal.WithLabelValues(provider, outcome).Inc()
	IngestDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func RecordSecurityEvent(tenantID, reason string) {
	SecurityEventsTotal.WithLabelValues(tenantID, reason).Inc()
}

func RecordExecution(tenantID, status string, elapsed time.Duration) {
	ExecutionsTotal.WithLabelValues(tenantID, status).Inc()
	ExecutionDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// RecordNode records one node visit; attempts above one count as retries.
func RecordNode(capability string, success bool, attempts int, elapsed time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}

	NodeRunsTotal.WithLabelValues(capability, result).Inc()
	NodeRunDuration.WithLabelValues(capability).Observe(elapsed.Seconds())

	if attempts > 1 {
		NodeRetryTotal.WithLabelValues(capability).Add(float64(attempts - 1))
	}
}
