// Package metrics owns the Prometheus instrumentation of the collector.
// A Metrics value carries its own registry; callers construct one at boot
// and hand it to every component that records counters. Nothing here is
// global, so tests can build isolated instances.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the collector records into.
type Metrics struct {
	registry *prometheus.Registry

	CollectionPasses *prometheus.CounterVec
	PassDuration     *prometheus.HistogramVec
	TicksSkipped     prometheus.Counter
	PassesSkipped    *prometheus.CounterVec

	ProviderCalls   *prometheus.CounterVec
	ProviderRetries *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheStale      *prometheus.CounterVec
	QuoteCacheHits  prometheus.Counter
	CacheCoalesced  prometheus.Counter

	MissingLegs    *prometheus.CounterVec
	RecordsWritten *prometheus.CounterVec
	SinkErrors     *prometheus.CounterVec
	BatchesDropped prometheus.Counter
}

// New builds a Metrics instance backed by a fresh registry.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CollectionPasses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collection_passes_total",
				Help:      "Completed collection passes by index and result",
			},
			[]string{"index", "result"},
		),
		PassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Wall time of one collection pass",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"index"},
		),
		TicksSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_skipped_total",
				Help:      "Scheduler ticks skipped because the market was closed",
			},
		),
		PassesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_skipped_total",
				Help:      "Passes skipped because the previous pass was still running",
			},
			[]string{"index"},
		),

		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Logical provider calls by operation and result",
			},
			[]string{"op", "result"},
		),
		ProviderRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_retries_total",
				Help:      "Retry attempts against the provider",
			},
			[]string{"op"},
		),
		ProviderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Provider calls that failed after all attempts, by error kind",
			},
			[]string{"op", "kind"},
		),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Latency of individual provider attempts",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instrument_cache_hits_total",
				Help:      "Instrument registry reads served from a fresh cache entry",
			},
			[]string{"index"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instrument_cache_misses_total",
				Help:      "Instrument registry reads that required an upstream refresh",
			},
			[]string{"index"},
		),
		CacheStale: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instrument_cache_stale_total",
				Help:      "Instrument registry reads that fell back to stale data",
			},
			[]string{"index"},
		),
		QuoteCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quote_cache_hits_total",
				Help:      "Quotes served from the short-lived quote cache",
			},
		),
		CacheCoalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instrument_refreshes_coalesced_total",
				Help:      "Instrument refreshes that joined an in-flight fetch",
			},
		),

		MissingLegs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "missing_legs_total",
				Help:      "Option legs absent from the chain or the quote response",
			},
			[]string{"index", "expiry_code"},
		),
		RecordsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_written_total",
				Help:      "Records accepted by each sink, by record kind",
			},
			[]string{"sink", "kind"},
		),
		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_errors_total",
				Help:      "Write failures per sink",
			},
			[]string{"sink"},
		),
		BatchesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_dropped_total",
				Help:      "Batches dropped because the storage channel was unavailable",
			},
		),
	}

	m.registry.MustRegister(
		m.CollectionPasses, m.PassDuration, m.TicksSkipped, m.PassesSkipped,
		m.ProviderCalls, m.ProviderRetries, m.ProviderErrors, m.ProviderLatency,
		m.CacheHits, m.CacheMisses, m.CacheStale, m.QuoteCacheHits, m.CacheCoalesced,
		m.MissingLegs, m.RecordsWritten, m.SinkErrors, m.BatchesDropped,
	)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry exposes the backing registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
