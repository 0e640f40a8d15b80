// Package metrics exposes Prometheus collectors for scanning and serving.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shieldscan"

// Metrics holds every collector of the process. A nil *Metrics is valid and
// records nothing, so packages can take one optionally.
type Metrics struct {
	registry *prometheus.Registry

	OutputsTried    *prometheus.CounterVec
	NotesFound      *prometheus.CounterVec
	DecryptDuration prometheus.Histogram

	BlocksCommitted prometheus.Counter
	SyncedHeight    prometheus.Gauge
	Retries         prometheus.Counter
	Reorgs          prometheus.Counter

	FetchDuration *prometheus.HistogramVec
	FetchErrors   *prometheus.CounterVec

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OutputsTried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decrypt",
			Name:      "outputs_total",
			Help:      "Shielded outputs trial-decrypted, by pool and outcome",
		}, []string{"pool", "outcome"}),
		NotesFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decrypt",
			Name:      "notes_total",
			Help:      "Notes found for the scanning key, by pool",
		}, []string{"pool"}),
		DecryptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "decrypt",
			Name:      "block_duration_seconds",
			Help:      "Time to trial-decrypt one block",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		BlocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "blocks_committed_total",
			Help:      "Blocks committed to wallet state",
		}),
		SyncedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "checkpoint_height",
			Help:      "Last committed height of the most recent sync",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "retries_total",
			Help:      "Batch retries after a fetch or decrypt failure",
		}),
		Reorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "reorgs_total",
			Help:      "Chain reorganizations handled",
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "request_duration_seconds",
			Help:      "Block source request duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "errors_total",
			Help:      "Failed block source requests",
		}, []string{"method"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP API requests",
		}, []string{"path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP API request duration",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"path"}),
	}
	m.registry.MustRegister(
		m.OutputsTried, m.NotesFound, m.DecryptDuration,
		m.BlocksCommitted, m.SyncedHeight, m.Retries, m.Reorgs,
		m.FetchDuration, m.FetchErrors,
		m.Requests, m.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Output records the outcome of one trial decryption.
func (m *Metrics) Output(pool, outcome string) {
	if m == nil {
		return
	}
	m.OutputsTried.WithLabelValues(pool, outcome).Inc()
	if outcome == "note" {
		m.NotesFound.WithLabelValues(pool).Inc()
	}
}

// BlockDecrypted records the time spent on one block.
func (m *Metrics) BlockDecrypted(d time.Duration) {
	if m == nil {
		return
	}
	m.DecryptDuration.Observe(d.Seconds())
}

// Committed records a committed block.
func (m *Metrics) Committed(height uint64) {
	if m == nil {
		return
	}
	m.BlocksCommitted.Inc()
	m.SyncedHeight.Set(float64(height))
}

// Retry records a batch retry.
func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// Reorg records a handled reorganization.
func (m *Metrics) Reorg() {
	if m == nil {
		return
	}
	m.Reorgs.Inc()
}

// Fetch records a block source request.
func (m *Metrics) Fetch(method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		m.FetchErrors.WithLabelValues(method).Inc()
	}
}

// Request records a served HTTP request.
func (m *Metrics) Request(path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(path, statusClass(status)).Inc()
	m.RequestDuration.WithLabelValues(path).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}
