// Package metrics defines the Prometheus metric collectors used by the
// indexing pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the indexing pipeline.
type Metrics struct {
	DocumentsProcessedTotal *prometheus.CounterVec
	DocumentsSkippedTotal   prometheus.Counter
	VocabularySize          prometheus.Gauge
	BarrelBytesWritten      *prometheus.GaugeVec
	PostingsSpillTotal      prometheus.Counter
	StageDuration           *prometheus.HistogramVec
	HeavyTokensExtracted    prometheus.Gauge
	RunsCompletedTotal      *prometheus.CounterVec

	// HTTP collectors for the monitor server (/healthz, /readyz, /metrics).
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		DocumentsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "documents_processed_total",
				Help: "Total documents processed by pipeline stage.",
			},
			[]string{"stage"},
		),
		DocumentsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "documents_skipped_total",
				Help: "Total documents skipped (malformed or with an empty token stream) during forward-index construction.",
			},
		),
		VocabularySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vocabulary_size",
				Help: "Number of distinct tokens in the lexicon for the current run.",
			},
		),
		BarrelBytesWritten: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "barrel_bytes_written",
				Help: "Bytes written per barrel file.",
			},
			[]string{"barrel_id"},
		),
		PostingsSpillTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postings_spill_total",
				Help: "Total number of per-token spill-to-disk events during postings aggregation.",
			},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Wall-clock duration of each pipeline stage.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"stage"},
		),
		HeavyTokensExtracted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "heavy_tokens_extracted",
				Help: "Number of tokens routed to the special frequent barrel and extracted in S6.",
			},
		),
		RunsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_completed_total",
				Help: "Total pipeline runs by terminal exit status.",
			},
			[]string{"status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_http_requests_total",
				Help: "Total requests served by the monitor HTTP server, by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_http_request_duration_seconds",
				Help:    "Monitor HTTP server request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_http_requests_in_flight",
				Help: "Requests currently being served by the monitor HTTP server.",
			},
		),
	}

	prometheus.MustRegister(
		m.DocumentsProcessedTotal,
		m.DocumentsSkippedTotal,
		m.VocabularySize,
		m.BarrelBytesWritten,
		m.PostingsSpillTotal,
		m.StageDuration,
		m.HeavyTokensExtracted,
		m.RunsCompletedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
