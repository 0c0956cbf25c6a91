package prometheus

import (
	"github.com/marmos91/imagecache/pkg/cascade"
	"github.com/marmos91/imagecache/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// cascadeMetrics holds the Prometheus instruments fed by cascade events.
type cascadeMetrics struct {
	requestsTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
}

// newCascadeSink builds a Prometheus-backed callback for cascade.Config's
// OnEvent field.
func newCascadeSink() func(cascade.Event) {
	reg := metrics.GetRegistry()

	m := &cascadeMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "imagecache_cascade_requests_total",
				Help: "Total number of cascade lookups by outcome and provider",
			},
			[]string{"kind", "provider"},
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "imagecache_cascade_errors_total",
				Help: "Total number of cascade provider errors",
			},
			[]string{"provider"},
		),
	}

	return m.observe
}

func (m *cascadeMetrics) observe(evt cascade.Event) {
	provider := evt.Provider
	if provider == "" {
		provider = "none"
	}

	switch evt.Kind {
	case cascade.EventHit:
		m.requestsTotal.WithLabelValues("hit", provider).Inc()
	case cascade.EventMiss:
		m.requestsTotal.WithLabelValues("miss", provider).Inc()
	case cascade.EventStore:
		m.requestsTotal.WithLabelValues("store", provider).Inc()
	case cascade.EventError:
		m.requestsTotal.WithLabelValues("error", provider).Inc()
		m.errorsTotal.WithLabelValues(provider).Inc()
	}
}

func init() {
	metrics.RegisterCascadeSinkConstructor(newCascadeSink)
}
