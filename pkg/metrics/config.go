package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds configuration for metrics collection.
type Config struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Registry is the Prometheus registry to use. If nil, DefaultRegistry is used.
	Registry prometheus.Registerer
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Registry: prometheus.DefaultRegisterer,
	}
}

// Instrumentable is an interface for components that can be instrumented with metrics.
type Instrumentable interface {
	// EnableMetrics enables metrics collection for this component.
	EnableMetrics(config Config) error

	// DisableMetrics disables metrics collection for this component.
	DisableMetrics()

	// MetricsEnabled returns true if metrics are currently enabled.
	MetricsEnabled() bool
}

var (
	resolvedMu sync.Mutex
	resolved   = make(map[prometheus.Registerer]*Registry)
)

// Resolve returns the Registry a component should record into for cfg.
// Each registerer gets one Registry, so several components (or repeated
// EnableMetrics calls) can share it without duplicate registration.
func Resolve(cfg Config) *Registry {
	if cfg.Registry == nil || cfg.Registry == prometheus.DefaultRegisterer {
		return DefaultRegistry
	}

	resolvedMu.Lock()
	defer resolvedMu.Unlock()

	if r, ok := resolved[cfg.Registry]; ok {
		return r
	}
	r := NewRegistry(cfg.Registry)
	resolved[cfg.Registry] = r
	return r
}
