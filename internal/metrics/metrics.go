// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

// Package metrics holds the Prometheus instrumentation for runs, strategies,
// filtering, feedback, upstream collaborators, the store, and the HTTP API.
// All collectors register on the default registry via promauto and are
// served by promhttp on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xpfeed_run_duration_seconds",
			Help:    "Duration of discovery runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_runs_total",
			Help: "Total number of discovery runs",
		},
		[]string{"result"}, // ok, partial, failed
	)

	// Strategy metrics
	StrategyAllocation = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xpfeed_strategy_allocation_slots",
			Help: "Slots allocated to each strategy in the latest run",
		},
		[]string{"strategy"},
	)

	StrategySuccessRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xpfeed_strategy_success_rate",
			Help: "Observed success rate per strategy",
		},
		[]string{"strategy"},
	)

	StrategyOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_strategy_outcomes_total",
			Help: "Strategy generation outcomes",
		},
		[]string{"strategy", "status"}, // ok, partial, failed, skipped, timeout
	)

	StrategyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xpfeed_strategy_duration_seconds",
			Help:    "Time spent generating candidates per strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// Candidate metrics
	CandidatesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_candidates_produced_total",
			Help: "Raw candidates produced per strategy",
		},
		[]string{"strategy"},
	)

	CandidatesFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_candidates_filtered_total",
			Help: "Candidates rejected by the filter, by strategy and reason",
		},
		[]string{"strategy", "reason"},
	)

	CandidatesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_candidates_delivered_total",
			Help: "Candidates delivered per strategy",
		},
		[]string{"strategy"},
	)

	MalformedCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_malformed_candidates_total",
			Help: "Upstream payloads discarded for missing or invalid fields",
		},
		[]string{"endpoint"},
	)

	// Feedback metrics
	FeedbackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_feedback_events_total",
			Help: "Feedback events processed by action and result",
		},
		[]string{"action", "result"},
	)

	CascadeDeliveries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xpfeed_cascade_deliveries",
			Help:    "Candidates delivered per like cascade",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		},
	)

	BlockTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_block_transitions_total",
			Help: "BlockEntry state transitions",
		},
		[]string{"kind", "to_state"},
	)

	// Upstream collaborator metrics
	CollaboratorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_collaborator_requests_total",
			Help: "Requests to upstream collaborators",
		},
		[]string{"collaborator", "endpoint", "result"},
	)

	CollaboratorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xpfeed_collaborator_request_duration_seconds",
			Help:    "Latency of upstream collaborator requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collaborator", "endpoint"},
	)

	CollaboratorRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_collaborator_retries_total",
			Help: "Retried upstream requests",
		},
		[]string{"collaborator"},
	)

	NormalizerFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xpfeed_normalizer_fallbacks_total",
			Help: "Tags that fell back to their raw form because the normalizer failed",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xpfeed_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xpfeed_circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Store metrics
	StoreMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_store_mutations_total",
			Help: "Mutations applied through the single-writer queue",
		},
		[]string{"op", "result"},
	)

	StoreConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xpfeed_store_conflict_retries_total",
			Help: "Badger transaction conflicts retried by the writer",
		},
	)

	StoreQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xpfeed_store_queue_depth",
			Help: "Mutations waiting for the writer",
		},
	)

	// Delivery metrics
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_delivery_attempts_total",
			Help: "Delivery attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	// Event bus metrics
	BusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_bus_messages_total",
			Help: "Event bus messages by topic and result (ok, permanent, poisoned)",
		},
		[]string{"topic", "result"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xpfeed_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xpfeed_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xpfeed_api_active_requests",
			Help: "Number of API requests currently being processed",
		},
	)
)

// RecordRun records a finished run.
func RecordRun(duration time.Duration, result string) {
	RunDuration.Observe(duration.Seconds())
	RunsTotal.WithLabelValues(result).Inc()
}

// RecordStrategyOutcome records one strategy's generation result.
func RecordStrategyOutcome(strategy, status string, produced int, duration time.Duration) {
	StrategyOutcomes.WithLabelValues(strategy, status).Inc()
	StrategyDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if produced > 0 {
		CandidatesProduced.WithLabelValues(strategy).Add(float64(produced))
	}
}

// RecordFiltered adds rejected candidates for a strategy and reason.
func RecordFiltered(strategy, reason string, n int) {
	if n > 0 {
		CandidatesFiltered.WithLabelValues(strategy, reason).Add(float64(n))
	}
}

// RecordCollaboratorRequest records one upstream request.
func RecordCollaboratorRequest(collaborator, endpoint string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	CollaboratorRequests.WithLabelValues(collaborator, endpoint, result).Inc()
	CollaboratorLatency.WithLabelValues(collaborator, endpoint).Observe(duration.Seconds())
}

// RecordFeedback records a processed feedback event.
func RecordFeedback(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	FeedbackEvents.WithLabelValues(action, result).Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the active request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
