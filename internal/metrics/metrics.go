// Package metrics exposes Prometheus counters and histograms for an
// encrypt/decrypt run. It is opt-in: callers that never construct a
// *Metrics pay nothing. The CLI always records them and serves them only
// when --metrics-addr is given.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultRegistry = prometheus.DefaultRegisterer

// Metrics holds every counter/histogram/gauge blobvault records during a
// run.
type Metrics struct {
	chunksTotal        *prometheus.CounterVec
	chunkBytesTotal    *prometheus.CounterVec
	dedupSkipsTotal    prometheus.Counter
	blobUploadDuration *prometheus.HistogramVec
	manifestFilesTotal prometheus.Counter
	errorsTotal        *prometheus.CounterVec
	bufferPoolHits     *prometheus.CounterVec
	bufferPoolMisses   *prometheus.CounterVec
	goroutines         prometheus.Gauge
	memoryAllocBytes   prometheus.Gauge
	memorySysBytes     prometheus.Gauge
}

// NewMetrics registers blobvault's metrics with the default Prometheus
// registry.
func NewMetrics() *Metrics {
	return newMetricsWithRegistry(defaultRegistry)
}

// NewMetricsWithRegistry registers blobvault's metrics with reg, useful in
// tests to avoid collisions with the default global registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg)
}

func newMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		chunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobvault_chunks_total",
				Help: "Total number of chunks produced, by direction (encrypt/decrypt).",
			},
			[]string{"direction"},
		),
		chunkBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobvault_chunk_bytes_total",
				Help: "Total plaintext chunk bytes processed, by direction.",
			},
			[]string{"direction"},
		),
		dedupSkipsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blobvault_dedup_skips_total",
				Help: "Total chunk uploads skipped because the blob already existed at the destination.",
			},
		),
		blobUploadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blobvault_blob_upload_duration_seconds",
				Help:    "Duration of a single blob upload to a destination backend.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"destination"},
		),
		manifestFilesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blobvault_manifest_files_total",
				Help: "Total files recorded across all manifests written this run.",
			},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobvault_errors_total",
				Help: "Total errors, by operation and error type.",
			},
			[]string{"operation", "error_type"},
		),
		bufferPoolHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobvault_buffer_pool_hits_total",
				Help: "Total buffer pool hits, by size class.",
			},
			[]string{"size_class"},
		),
		bufferPoolMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobvault_buffer_pool_misses_total",
				Help: "Total buffer pool misses, by size class.",
			},
			[]string{"size_class"},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blobvault_goroutines",
				Help: "Current number of goroutines.",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blobvault_memory_alloc_bytes",
				Help: "Bytes allocated and not yet freed.",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blobvault_memory_sys_bytes",
				Help: "Total bytes obtained from the OS.",
			},
		),
	}
}

// RecordChunk records one chunk of size bytes produced while encrypting or
// decrypting. direction is "encrypt" or "decrypt".
func (m *Metrics) RecordChunk(direction string, bytes int64) {
	m.chunksTotal.WithLabelValues(direction).Inc()
	m.chunkBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

// RecordDedupSkip records a chunk upload skipped because the blob already
// existed at the destination.
func (m *Metrics) RecordDedupSkip() {
	m.dedupSkipsTotal.Inc()
}

// RecordBlobUpload records the duration of one blob upload to destination.
func (m *Metrics) RecordBlobUpload(destination string, duration time.Duration) {
	m.blobUploadDuration.WithLabelValues(destination).Observe(duration.Seconds())
}

// RecordManifestFiles adds count to the total files recorded across all
// manifests written this run.
func (m *Metrics) RecordManifestFiles(count int) {
	m.manifestFilesTotal.Add(float64(count))
}

// RecordError records an error for operation, categorized by errorType.
func (m *Metrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordBufferPoolHit records a buffer pool hit for sizeClass.
func (m *Metrics) RecordBufferPoolHit(sizeClass string) {
	m.bufferPoolHits.WithLabelValues(sizeClass).Inc()
}

// RecordBufferPoolMiss records a buffer pool miss for sizeClass.
func (m *Metrics) RecordBufferPoolMiss(sizeClass string) {
	m.bufferPoolMisses.WithLabelValues(sizeClass).Inc()
}

// UpdateSystemMetrics refreshes the goroutine/memory gauges.
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// StartSystemMetricsCollector starts a goroutine that periodically updates
// the system gauges until the process exits.
func (m *Metrics) StartSystemMetricsCollector() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for range ticker.C {
			m.UpdateSystemMetrics()
		}
	}()
}

// Handler returns the HTTP handler serving the default Prometheus registry
// (the one NewMetrics registers with; metrics registered through
// NewMetricsWithRegistry on another registry are not served), for wiring
// behind --metrics-addr in long-running backup processes.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
