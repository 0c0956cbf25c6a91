package prometheus

import (
	"time"

	"github.com/marmos91/imagecache/pkg/metrics"
	"github.com/marmos91/imagecache/pkg/providers/cloud"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// cloudMetrics is the Prometheus implementation of cloud.Metrics.
type cloudMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// newCloudMetrics creates a new Prometheus-backed cloud.Metrics instance.
//
// It always returns an instance; metrics.NewCloudMetrics is the wrapper
// that returns nil when metrics are not enabled (InitRegistry not called).
func newCloudMetrics() cloud.Metrics {
	reg := metrics.GetRegistry()

	return &cloudMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "imagecache_cloud_operations_total",
				Help: "Total number of S3 operations by operation type and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "imagecache_cloud_operation_duration_milliseconds",
				Help: "Duration of S3 operations in milliseconds",
				Buckets: []float64{
					10,
					50,
					100,
					500,
					1000,
					5000,
					10000,
					30000,
				},
			},
			[]string{"operation"},
		),
	}
}

func (m *cloudMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds() * 1000)
}

func init() {
	metrics.RegisterCloudMetricsConstructor(newCloudMetrics)
}
