package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Reconciler metrics
	MutationsTotal  *prometheus.CounterVec
	ConflictRetries *prometheus.CounterVec
	ScopeViolations *prometheus.CounterVec
	BatchSize       prometheus.Histogram

	// Pull metrics
	PulledRecords prometheus.Histogram

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	CacheErrors *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storesync_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"route", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storesync_request_duration_seconds",
				Help:    "Duration of HTTP request processing",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		MutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storesync_mutations_total",
				Help: "Total number of mutations reconciled, by outcome",
			},
			[]string{"mutator", "status", "code"},
		),

		ConflictRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storesync_conflict_retries_total",
				Help: "Total number of compare-and-swap retries after a version conflict",
			},
			[]string{"mutator"},
		),

		ScopeViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storesync_scope_violations_total",
				Help: "Total number of requests touching records outside the bound scope",
			},
			[]string{"operation"},
		),

		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storesync_push_batch_size",
				Help:    "Number of mutations per push",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),

		PulledRecords: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storesync_pull_records",
				Help:    "Number of records returned per pull",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storesync_cache_hits_total",
				Help: "Total number of read-through cache hits",
			},
			[]string{"cache_type"},
		),

		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storesync_cache_misses_total",
				Help: "Total number of read-through cache misses",
			},
			[]string{"cache_type"},
		),

		CacheErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storesync_cache_errors_total",
				Help: "Total number of cache backend or codec failures",
			},
			[]string{"cache_type", "operation"},
		),
	}
}

// RecordRequest records a request metric
func (m *Metrics) RecordRequest(route, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration)
}

// RecordMutation records a reconciled mutation
func (m *Metrics) RecordMutation(mutator, status, code string) {
	m.MutationsTotal.WithLabelValues(mutator, status, code).Inc()
}

// RecordConflictRetry records a CAS retry
func (m *Metrics) RecordConflictRetry(mutator string) {
	m.ConflictRetries.WithLabelValues(mutator).Inc()
}

// RecordScopeViolation records a scope violation
func (m *Metrics) RecordScopeViolation(operation string) {
	m.ScopeViolations.WithLabelValues(operation).Inc()
}

// RecordBatch records the size of a push
func (m *Metrics) RecordBatch(size int) {
	m.BatchSize.Observe(float64(size))
}

// RecordPull records the size of a pull
func (m *Metrics) RecordPull(records int) {
	m.PulledRecords.Observe(float64(records))
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordCacheError records a cache failure
func (m *Metrics) RecordCacheError(cacheType, operation string) {
	m.CacheErrors.WithLabelValues(cacheType, operation).Inc()
}
