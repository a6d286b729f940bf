package timestep

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vnykmshr/gopace/pkg/metrics"
)

type instrumentation struct {
	name     string
	registry *metrics.Registry
}

func (i *instrumentation) update(ev UpdateEvent) {
	i.registry.TimestepUpdates.WithLabelValues(i.name).Inc()
	i.registry.TimestepOffset.WithLabelValues(i.name, "update").Set(ev.Offset)
}

func (i *instrumentation) render(ev RenderEvent) {
	i.registry.TimestepRenders.WithLabelValues(i.name).Inc()
	i.registry.TimestepCurrentFPS.WithLabelValues(i.name).Set(ev.CurrentFPS)
	i.registry.TimestepAverageFPS.WithLabelValues(i.name).Set(ev.AverageFPS)
	i.registry.TimestepOffset.WithLabelValues(i.name, "render").Set(ev.Offset)
	i.registry.TimestepFrameDelta.WithLabelValues(i.name).Observe(ev.Delta.Seconds())
}

func (i *instrumentation) throttled() {
	i.registry.TimestepThrottles.WithLabelValues(i.name).Inc()
}

func (i *instrumentation) target(fps float64) {
	i.registry.TimestepTargetFPS.WithLabelValues(i.name).Set(fps)
}

// NewWithMetrics creates a Controller that records Prometheus metrics under
// the given name. Like New, it schedules the first Resume unless cfg.Paused
// is set.
func NewWithMetrics(cfg Config, name string, metricsCfg metrics.Config) (*Controller, error) {
	if name != "" {
		cfg.Name = name
	}
	c, err := newController(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.EnableMetrics(metricsCfg); err != nil {
		return nil, err
	}
	c.autostart(cfg.Paused)
	return c, nil
}

// NewWithPrivateMetrics creates a metrics-enabled Controller backed by its
// own Prometheus registry, which is returned for exposition or inspection.
func NewWithPrivateMetrics(cfg Config, name string) (*Controller, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	c, err := NewWithMetrics(cfg, name, metrics.Config{Enabled: true, Registry: reg})
	if err != nil {
		return nil, nil, err
	}
	return c, reg, nil
}

// EnableMetrics enables metrics collection.
func (c *Controller) EnableMetrics(config metrics.Config) error {
	if !config.Enabled {
		c.DisableMetrics()
		return nil
	}
	inst := &instrumentation{
		name:     c.name,
		registry: metrics.Resolve(config),
	}
	inst.target(c.TargetFPS())
	c.instruments.Store(inst)
	return nil
}

// DisableMetrics disables metrics collection.
func (c *Controller) DisableMetrics() {
	c.instruments.Store(nil)
}

// MetricsEnabled returns true if metrics are currently enabled.
func (c *Controller) MetricsEnabled() bool {
	return c.instruments.Load() != nil
}

var _ metrics.Instrumentable = (*Controller)(nil)
