package metrics

import (
	"github.com/marmos91/imagecache/pkg/cascade"
)

// NewCascadeSink creates a Prometheus-backed callback for cascade.Config's
// OnEvent field. Returns nil if metrics are not enabled (InitRegistry not
// called); a nil callback costs nothing, since Cascade checks for it
// before calling.
func NewCascadeSink() func(cascade.Event) {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusCascadeSink()
}

// newPrometheusCascadeSink is implemented in pkg/metrics/prometheus/cascade.go.
// This indirection avoids an import cycle between metrics and
// metrics/prometheus while keeping the public API in this package.
var newPrometheusCascadeSink func() func(cascade.Event)

// RegisterCascadeSinkConstructor registers the Prometheus cascade event
// sink constructor. Called by pkg/metrics/prometheus/cascade.go during
// package initialization.
func RegisterCascadeSinkConstructor(constructor func() func(cascade.Event)) {
	newPrometheusCascadeSink = constructor
}
