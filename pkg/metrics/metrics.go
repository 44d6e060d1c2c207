// Package metrics defines the Prometheus metric collectors used across the
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        prometheus.Histogram
	SearchResultsCount   prometheus.Histogram
	DocsIndexedTotal     prometheus.Counter
	DocsDeletedTotal     prometheus.Counter
	AdmissionRetries     prometheus.Counter
	IndexSwitchesTotal   *prometheus.CounterVec
	DumpsTotal           *prometheus.CounterVec
	DumpDuration         prometheus.Histogram
	RTIDocCount          *prometheus.GaugeVec
	DurableSegments      prometheus.Gauge
	DurableDocCount      prometheus.Gauge
	IngestEventsTotal    *prometheus.CounterVec
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, interrupted, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Blended search latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents admitted to the real-time index.",
			},
		),
		DocsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_deleted_total",
				Help: "Total document deletions.",
			},
		),
		AdmissionRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "admission_retries_total",
				Help: "Admission attempts retried after losing a counter race or waiting for a switch.",
			},
		),
		IndexSwitchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_switches_total",
				Help: "Generation switches by trigger (threshold, forced).",
			},
			[]string{"trigger"},
		),
		DumpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_dumps_total",
				Help: "Durable index dumps by status.",
			},
			[]string{"status"},
		),
		DumpDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_dump_duration_seconds",
				Help:    "Time from snapshot to installed segment.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		RTIDocCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rti_document_count",
				Help: "Live documents per real-time generation.",
			},
			[]string{"generation"},
		),
		DurableSegments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "durable_segments",
				Help: "Number of installed durable segments.",
			},
		),
		DurableDocCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "durable_document_count",
				Help: "Live documents across durable segments.",
			},
		),
		IngestEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_events_total",
				Help: "Ingestion events consumed by operation and status.",
			},
			[]string{"op", "status"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.DocsIndexedTotal,
		m.DocsDeletedTotal,
		m.AdmissionRetries,
		m.IndexSwitchesTotal,
		m.DumpsTotal,
		m.DumpDuration,
		m.RTIDocCount,
		m.DurableSegments,
		m.DurableDocCount,
		m.IngestEventsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
