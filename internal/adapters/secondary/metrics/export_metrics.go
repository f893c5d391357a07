// Package metrics exposes export and HTTP activity as Prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

const namespace = "dataset_export"

// ExportMetrics contains Prometheus metrics for archive builds and the download API.
type ExportMetrics struct {
	buildsTotal   *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	skipsTotal    *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	bytesStreamed *prometheus.CounterVec
	activeExports prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// NewExportMetrics creates the metrics and registers them on registry.
func NewExportMetrics(registry prometheus.Registerer) (*ExportMetrics, error) {
	m := &ExportMetrics{
		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Total number of archive builds",
		}, []string{"format", "status"}),
		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Time taken to build and stream an archive",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27m
		}, []string{"format"}),
		skipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_skipped_total",
			Help:      "Total number of archive entries left out of a build",
		}, []string{"format", "kind"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Artifact cache lookups by result",
		}, []string{"result"}), // result: hit, miss, error
		bytesStreamed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_streamed_total",
			Help:      "Archive bytes sent to clients",
		}, []string{"format", "source"}), // source: build, cache
		activeExports: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_downloads",
			Help:      "Number of downloads currently streaming",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time taken for HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

var _ ports.ExportMetrics = (*ExportMetrics)(nil)

func (m *ExportMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.buildsTotal,
		m.buildDuration,
		m.skipsTotal,
		m.cacheLookups,
		m.bytesStreamed,
		m.activeExports,
		m.httpRequests,
		m.httpDuration,
	}
}

// Describe implements the Collector interface
func (m *ExportMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *ExportMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *ExportMetrics) RecordBuild(format domain.ExportFormat, status string, duration time.Duration) {
	m.buildsTotal.WithLabelValues(string(format), status).Inc()
	m.buildDuration.WithLabelValues(string(format)).Observe(duration.Seconds())
}

func (m *ExportMetrics) RecordSkip(format domain.ExportFormat, kind domain.SkipKind) {
	m.skipsTotal.WithLabelValues(string(format), string(kind)).Inc()
}

func (m *ExportMetrics) RecordCacheLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *ExportMetrics) RecordBytesStreamed(format domain.ExportFormat, source string, n int64) {
	if n <= 0 {
		return
	}
	m.bytesStreamed.WithLabelValues(string(format), source).Add(float64(n))
}

// DownloadStarted tracks a streaming response. The returned func marks it done.
func (m *ExportMetrics) DownloadStarted() func() {
	m.activeExports.Inc()
	return m.activeExports.Dec
}

// RecordHTTPRequest records one request against its route pattern.
func (m *ExportMetrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
