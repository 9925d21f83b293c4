// ================================
// internal/metrics/metrics.go - Self-monitoring for SENTINEL-CORE
// ================================

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP trigger surface
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_core_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Incident pipeline
	IncidentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_incidents_total",
			Help: "Incidents handled, by trigger and terminal status",
		},
		[]string{"trigger", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_core_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"stage"},
	)

	// Correlator
	CollectorRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_collector_runs_total",
			Help: "Collector invocations by service tag and result",
		},
		[]string{"service", "result"}, // ok / error / timeout
	)

	// DetectAgent
	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_detections_total",
			Help: "Detection runs by trigger source and result",
		},
		[]string{"source", "result"}, // completed / joined / slot_busy / failed
	)

	DetectCacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_detect_cache_reads_total",
			Help: "Detection cache reads by freshness outcome",
		},
		[]string{"freshness"}, // fresh / warm / stale / miss
	)

	// Cache backend
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_cache_operations_total",
			Help: "Cache backend operations",
		},
		[]string{"operation", "result"},
	)

	// Search service
	SearchLayerHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_search_layer_hits_total",
			Help: "Search results returned per layer",
		},
		[]string{"layer"}, // keyword / vector / deep
	)

	SearchLayerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_search_layer_failures_total",
			Help: "Silent layer degradations during search",
		},
		[]string{"layer", "reason"},
	)

	// Knowledge store
	PatternUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_pattern_upserts_total",
			Help: "Pattern upserts by outcome",
		},
		[]string{"result"}, // stored / indexed / index_deferred
	)

	VectorIndexState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_core_vector_index_breaker_open",
			Help: "1 when the vector index circuit breaker is open",
		},
	)

	// Model invocations
	ModelInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_model_invocations_total",
			Help: "LLM invocations by tier and result",
		},
		[]string{"tier", "model", "result"},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_core_model_latency_seconds",
			Help:    "LLM invocation latency in seconds",
			Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 20.0, 40.0},
		},
		[]string{"tier"},
	)

	// SOP safety and execution
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_sop_executions_total",
			Help: "SOP executions by risk level, mode and result",
		},
		[]string{"risk", "mode", "result"},
	)

	SafetyDemotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_safety_demotions_total",
			Help: "Execution mode demotions applied by the safety layer",
		},
		[]string{"reason"}, // low_confidence / very_low_confidence / cooldown / first_run
	)

	ApprovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_approvals_total",
			Help: "Approval token outcomes",
		},
		[]string{"outcome"}, // approved / rejected / expired
	)

	// External integrations
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_core_notifications_sent_total",
			Help: "Total number of notifications sent",
		},
		[]string{"integration", "type", "success"},
	)
)
