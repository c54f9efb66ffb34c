// Package metrics exposes the agent's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcilerPasses counts reconciler passes per network and outcome.
	ReconcilerPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_agent_reconciler_passes_total",
			Help: "Reconciler passes by network and outcome.",
		},
		[]string{"network", "outcome"},
	)

	// ReconcilerDuration observes the wall time of reconciler passes.
	ReconcilerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_agent_reconciler_pass_duration_seconds",
			Help:    "Reconciler pass duration by network.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network"},
	)

	// ActionsQueued counts actions entering the queue per network, type
	// and source.
	ActionsQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_agent_actions_queued_total",
			Help: "Actions queued by network, type and source.",
		},
		[]string{"network", "type", "source"},
	)

	// ActionsExecuted counts terminal action outcomes.
	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_agent_actions_executed_total",
			Help: "Actions driven to a terminal status by network, type and status.",
		},
		[]string{"network", "type", "status"},
	)

	// BatchesExecuted counts multicall batches that reached the chain.
	BatchesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_agent_batches_executed_total",
			Help: "Multicall batches submitted and mined, by network.",
		},
		[]string{"network"},
	)

	// BatchesFailed counts batches failed at the transaction level.
	BatchesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_agent_batches_failed_total",
			Help: "Multicall batches failed before event parsing, by network.",
		},
		[]string{"network"},
	)

	// HTTPRequests counts management API requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_agent_http_requests_total",
			Help: "Management API requests by method, path and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration observes management API request latency.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_agent_http_request_duration_seconds",
			Help:    "Management API request duration by method and path.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
