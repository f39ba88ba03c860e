// Package metrics provides Prometheus metrics for matching, loading and detection.
// All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics for clone-finder operations
type Metrics struct {
	// Query metrics
	queries           *prometheus.CounterVec
	queryDuration     *prometheus.HistogramVec
	candidatesScanned *prometheus.CounterVec
	lookupFailures    prometheus.Counter
	lookupCache       *prometheus.CounterVec

	// Index metrics
	indexSize          prometheus.Gauge
	indexBuildDuration prometheus.Histogram

	// Loader metrics
	loaderRows          *prometheus.CounterVec
	loaderFlushes       *prometheus.CounterVec
	loaderFlushDuration prometheus.Histogram

	// Detector metrics
	detections        *prometheus.CounterVec
	detectionDuration *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// New creates metrics and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := newMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clonefinder_queries_total",
			Help: "Total number of match queries by backend and status",
		},
		[]string{"backend", "status"},
	)
	m.queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clonefinder_query_duration_seconds",
			Help:    "Time spent answering match queries",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
		[]string{"backend"},
	)
	m.candidatesScanned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clonefinder_candidates_scanned_total",
			Help: "Number of encodings compared against queries",
		},
		[]string{"backend"},
	)
	m.lookupFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clonefinder_lookup_failures_total",
		Help: "Number of candidates whose entity could not be resolved",
	})
	m.lookupCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clonefinder_lookup_cache_total",
			Help: "Entity lookup cache hits and misses",
		},
		[]string{"result"},
	)

	m.indexSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clonefinder_index_faces",
		Help: "Number of faces in the in-memory index",
	})
	m.indexBuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clonefinder_index_build_duration_seconds",
		Help:    "Time spent building or loading the in-memory index",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	m.loaderRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clonefinder_loader_rows_total",
			Help: "Rows processed by the corpus loader by classification",
		},
		[]string{"action"},
	)
	m.loaderFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clonefinder_loader_flushes_total",
			Help: "Batched loader transactions by status",
		},
		[]string{"status"},
	)
	m.loaderFlushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clonefinder_loader_flush_duration_seconds",
		Help:    "Time spent committing a loader batch",
		Buckets: prometheus.DefBuckets,
	})

	m.detections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clonefinder_detections_total",
			Help: "Face detections by mode and result (found, none, error)",
		},
		[]string{"mode", "result"},
	)
	m.detectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clonefinder_detection_duration_seconds",
			Help:    "Time spent in face detection",
			Buckets: prometheus.ExponentialBuckets(0.005, 3, 10),
		},
		[]string{"mode"},
	)

	m.collectors = []prometheus.Collector{
		m.queries, m.queryDuration, m.candidatesScanned, m.lookupFailures, m.lookupCache,
		m.indexSize, m.indexBuildDuration,
		m.loaderRows, m.loaderFlushes, m.loaderFlushDuration,
		m.detections, m.detectionDuration,
	}
	return m
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordQuery records a finished query
func (m *Metrics) RecordQuery(backend, status string, seconds float64) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(backend, status).Inc()
	m.queryDuration.WithLabelValues(backend).Observe(seconds)
}

// AddCandidatesScanned counts compared encodings
func (m *Metrics) AddCandidatesScanned(backend string, n int) {
	if m == nil {
		return
	}
	m.candidatesScanned.WithLabelValues(backend).Add(float64(n))
}

// RecordLookupFailure counts an unresolved candidate
func (m *Metrics) RecordLookupFailure() {
	if m == nil {
		return
	}
	m.lookupFailures.Inc()
}

// RecordLookupCache records a cache hit or miss
func (m *Metrics) RecordLookupCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookupCache.WithLabelValues(result).Inc()
}

// SetIndexSize sets the number of indexed faces
func (m *Metrics) SetIndexSize(n int) {
	if m == nil {
		return
	}
	m.indexSize.Set(float64(n))
}

// RecordIndexBuild records index build or load time
func (m *Metrics) RecordIndexBuild(seconds float64) {
	if m == nil {
		return
	}
	m.indexBuildDuration.Observe(seconds)
}

// RecordLoaderRow counts a classified row (add, update, skip, failed)
func (m *Metrics) RecordLoaderRow(action string) {
	if m == nil {
		return
	}
	m.loaderRows.WithLabelValues(action).Inc()
}

// RecordLoaderFlush records a batch commit
func (m *Metrics) RecordLoaderFlush(status string, seconds float64) {
	if m == nil {
		return
	}
	m.loaderFlushes.WithLabelValues(status).Inc()
	m.loaderFlushDuration.Observe(seconds)
}

// RecordDetection records a detector call (found, none, error)
func (m *Metrics) RecordDetection(mode, result string, seconds float64) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(mode, result).Inc()
	m.detectionDuration.WithLabelValues(mode).Observe(seconds)
}
