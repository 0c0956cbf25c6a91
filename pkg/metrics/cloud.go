package metrics

import (
	"github.com/marmos91/imagecache/pkg/providers/cloud"
)

// NewCloudMetrics creates a Prometheus-backed cloud.Metrics instance.
// Returns nil if metrics are not enabled, in which case callers should
// pass nil into cloud.Config.Metrics for zero overhead.
func NewCloudMetrics() cloud.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusCloudMetrics()
}

// newPrometheusCloudMetrics is implemented in pkg/metrics/prometheus/cloud.go.
var newPrometheusCloudMetrics func() cloud.Metrics

// RegisterCloudMetricsConstructor registers the Prometheus cloud metrics
// constructor. Called by pkg/metrics/prometheus/cloud.go during package
// initialization.
func RegisterCloudMetricsConstructor(constructor func() cloud.Metrics) {
	newPrometheusCloudMetrics = constructor
}
