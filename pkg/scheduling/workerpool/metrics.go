package workerpool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/gopace/pkg/metrics"
)

// MetricsPool wraps a worker Pool with Prometheus metrics collection.
type MetricsPool struct {
	pool     Pool
	name     string
	registry atomic.Pointer[metrics.Registry]
}

// NewWithMetrics creates a pool that records the gopace_workerpool_*
// series under name in metrics.DefaultRegistry.
func NewWithMetrics(workerCount, queueSize int, name string) (*MetricsPool, error) {
	return NewWithConfigAndMetrics(Config{
		WorkerCount: workerCount,
		QueueSize:   queueSize,
	}, name, metrics.DefaultConfig())
}

// NewWithConfigAndMetrics creates a new worker pool with custom config and metrics.
func NewWithConfigAndMetrics(config Config, name string, metricsConfig metrics.Config) (*MetricsPool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	mp := &MetricsPool{name: name}
	// Completion hooks run before the worker reads the next task, so the
	// gauges stay current without polling.
	onComplete := config.OnTaskComplete
	config.OnTaskComplete = func(workerID int, result Result) {
		mp.record(result)
		if onComplete != nil {
			onComplete(workerID, result)
		}
	}
	mp.pool = newWorkerPool(config)

	if err := mp.EnableMetrics(metricsConfig); err != nil {
		return nil, err
	}
	return mp, nil
}

func (mp *MetricsPool) record(result Result) {
	reg := mp.registry.Load()
	if reg == nil {
		return
	}
	reg.TaskExecutionDuration.WithLabelValues(mp.name).Observe(result.Duration.Seconds())
	reg.TasksExecuted.WithLabelValues(mp.name).Inc()
	if result.Error != nil {
		reg.TasksFailed.WithLabelValues(mp.name).Inc()
	}
	mp.updateGauges(reg)
}

// updateGauges refreshes the state gauges.
func (mp *MetricsPool) updateGauges(reg *metrics.Registry) {
	reg.WorkerPoolSize.WithLabelValues(mp.name).Set(float64(mp.pool.Size()))
	reg.WorkerPoolActive.WithLabelValues(mp.name).Set(float64(mp.pool.ActiveWorkers()))
	reg.WorkerPoolQueued.WithLabelValues(mp.name).Set(float64(mp.pool.QueueSize()))
}

func (mp *MetricsPool) afterSubmit(err error) error {
	if reg := mp.registry.Load(); reg != nil {
		mp.updateGauges(reg)
	}
	return err
}

// Submit adds a task to the pool for execution.
func (mp *MetricsPool) Submit(task Task) error {
	return mp.afterSubmit(mp.pool.Submit(task))
}

// SubmitWithContext submits a task with a context for cancellation.
func (mp *MetricsPool) SubmitWithContext(ctx context.Context, task Task) error {
	return mp.afterSubmit(mp.pool.SubmitWithContext(ctx, task))
}

// TrySubmit submits a task without blocking.
func (mp *MetricsPool) TrySubmit(task Task) error {
	return mp.afterSubmit(mp.pool.TrySubmit(task))
}

// SubmitWithTimeout submits a task, waiting at most timeout for a queue slot.
func (mp *MetricsPool) SubmitWithTimeout(task Task, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return mp.SubmitWithContext(ctx, task)
}

// Shutdown initiates graceful shutdown of the pool.
func (mp *MetricsPool) Shutdown() <-chan struct{} {
	return mp.pool.Shutdown()
}

// Size returns the current number of workers.
func (mp *MetricsPool) Size() int {
	return mp.pool.Size()
}

// QueueSize returns the current number of queued tasks.
func (mp *MetricsPool) QueueSize() int {
	return mp.pool.QueueSize()
}

// ActiveWorkers returns the number of workers currently executing tasks.
func (mp *MetricsPool) ActiveWorkers() int {
	return mp.pool.ActiveWorkers()
}

// TotalSubmitted returns the total number of tasks submitted.
func (mp *MetricsPool) TotalSubmitted() int64 {
	return mp.pool.TotalSubmitted()
}

// TotalCompleted returns the total number of tasks completed.
func (mp *MetricsPool) TotalCompleted() int64 {
	return mp.pool.TotalCompleted()
}

// EnableMetrics enables metrics collection.
func (mp *MetricsPool) EnableMetrics(config metrics.Config) error {
	if !config.Enabled {
		mp.DisableMetrics()
		return nil
	}
	reg := metrics.Resolve(config)
	mp.registry.Store(reg)
	mp.updateGauges(reg)
	return nil
}

// DisableMetrics disables metrics collection.
func (mp *MetricsPool) DisableMetrics() {
	mp.registry.Store(nil)
}

// MetricsEnabled returns true if metrics are currently enabled.
func (mp *MetricsPool) MetricsEnabled() bool {
	return mp.registry.Load() != nil
}

var (
	_ Pool                   = (*MetricsPool)(nil)
	_ metrics.Instrumentable = (*MetricsPool)(nil)
)
