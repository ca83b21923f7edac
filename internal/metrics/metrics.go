// Package metrics holds the engine's Prometheus collectors, registered with
// the default registry in init(). cmd/ragserver updates them but serves no
// /metrics route; cmd/metrics-server serves the default registry of its own
// process, so values recorded inside cmd/ragserver are not visible there.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ragengine_documents_processed_total", Help: "Documents that finished the processing pipeline, by outcome."},
		[]string{"outcome"},
	)
	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "ragengine_pipeline_stage_seconds", Help: "Wall-clock time of each pipeline stage.", Buckets: prometheus.DefBuckets},
		[]string{"stage"},
	)
	JobsLeased = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ragengine_jobs_leased_total", Help: "Jobs leased off the queue, by job type."},
		[]string{"job_type"},
	)
	JobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ragengine_jobs_completed_total", Help: "Jobs that finished, by job type and outcome (completed/requeued/failed)."},
		[]string{"job_type", "outcome"},
	)
	QueryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "ragengine_query_latency_seconds", Help: "End-to-end Answer() latency, by processing mode.", Buckets: prometheus.DefBuckets},
		[]string{"mode"},
	)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ragengine_cache_lookups_total", Help: "Query cache lookups, by result (exact_hit/semantic_hit/miss)."},
		[]string{"result"},
	)
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ragengine_provider_calls_total", Help: "LLM provider calls, by provider and outcome (ok/retryable/failed)."},
		[]string{"provider", "outcome"},
	)
	KeyPoolDisabled = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "ragengine_keypool_disabled_keys", Help: "Currently disabled API keys, by provider."},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(
		DocumentsProcessed,
		PipelineStageDuration,
		JobsLeased,
		JobsCompleted,
		QueryLatency,
		CacheLookups,
		ProviderCalls,
		KeyPoolDisabled,
	)
}

// ObserveStage records how long a named pipeline stage took.
func ObserveStage(stage string, start time.Time) {
	PipelineStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
