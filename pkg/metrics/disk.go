package metrics

import (
	"github.com/marmos91/imagecache/pkg/diskcache"
)

// NewDiskMetrics creates a Prometheus-backed diskcache.Metrics instance.
// Returns nil if metrics are not enabled, in which case callers should
// pass nil into diskcache.Config.Metrics for zero overhead.
func NewDiskMetrics() diskcache.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusDiskMetrics()
}

// newPrometheusDiskMetrics is implemented in pkg/metrics/prometheus/disk.go.
var newPrometheusDiskMetrics func() diskcache.Metrics

// RegisterDiskMetricsConstructor registers the Prometheus disk metrics
// constructor. Called by pkg/metrics/prometheus/disk.go during package
// initialization.
func RegisterDiskMetricsConstructor(constructor func() diskcache.Metrics) {
	newPrometheusDiskMetrics = constructor
}
