package prometheus

import (
	"github.com/marmos91/imagecache/pkg/diskcache"
	"github.com/marmos91/imagecache/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// diskMetrics is the Prometheus implementation of diskcache.Metrics.
type diskMetrics struct {
	cacheBytes      prometheus.Gauge
	evictionsTotal  prometheus.Counter
	evictedBytes    prometheus.Counter
	evictedEntries  prometheus.Counter
	lastEvictedSize prometheus.Histogram
}

// newDiskMetrics creates a new Prometheus-backed diskcache.Metrics instance.
//
// It always returns an instance; metrics.NewDiskMetrics is the wrapper
// that returns nil when metrics are not enabled (InitRegistry not called).
func newDiskMetrics() diskcache.Metrics {
	reg := metrics.GetRegistry()

	return &diskMetrics{
		cacheBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "imagecache_disk_cache_bytes",
				Help: "Current total size of the disk cache in bytes",
			},
		),
		evictionsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "imagecache_disk_eviction_runs_total",
				Help: "Total number of eviction passes that freed at least one entry",
			},
		),
		evictedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "imagecache_disk_evicted_bytes_total",
				Help: "Total bytes freed by eviction",
			},
		),
		evictedEntries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "imagecache_disk_evicted_entries_total",
				Help: "Total number of entries removed by eviction",
			},
		),
		lastEvictedSize: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "imagecache_disk_eviction_batch_bytes",
				Help: "Distribution of bytes freed per eviction pass",
				Buckets: []float64{
					4096,
					65536,
					1048576,
					10485760,
					104857600,
					1073741824,
				},
			},
		),
	}
}

func (m *diskMetrics) RecordCacheBytes(bytes int64) {
	if m == nil {
		return
	}
	m.cacheBytes.Set(float64(bytes))
}

func (m *diskMetrics) RecordEviction(freedBytes int64, count int) {
	if m == nil {
		return
	}
	m.evictionsTotal.Inc()
	m.evictedBytes.Add(float64(freedBytes))
	m.evictedEntries.Add(float64(count))
	m.lastEvictedSize.Observe(float64(freedBytes))
}

func init() {
	metrics.RegisterDiskMetricsConstructor(newDiskMetrics)
}
