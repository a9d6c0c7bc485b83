// Package metrics owns the process-wide Prometheus registry and the HTTP
// endpoint that exposes it.
//
// Metrics are opt-in. Until InitRegistry is called IsEnabled reports false
// and constructors in pkg/metrics/prometheus return nil, which every
// consumer treats as "record nothing".
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the registry with the Go runtime and process
// collectors. Calling it again returns the existing registry.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if registry != nil {
		return registry
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// Registerer returns the registry as a prometheus.Registerer, or nil when
// metrics are disabled. Use it to hand the registry to constructors that
// accept a nil Registerer.
func Registerer() prometheus.Registerer {
	if r := GetRegistry(); r != nil {
		return r
	}
	return nil
}

// reset drops the registry. Tests only.
func reset() {
	mu.Lock()
	registry = nil
	mu.Unlock()
}
