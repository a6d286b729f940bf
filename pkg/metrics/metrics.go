package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gopace"

// Registry holds all metric instances for gopace components.
type Registry struct {
	// Pacing loop
	TimestepUpdates    *prometheus.CounterVec
	TimestepRenders    *prometheus.CounterVec
	TimestepThrottles  *prometheus.CounterVec
	TimestepCurrentFPS *prometheus.GaugeVec
	TimestepAverageFPS *prometheus.GaugeVec
	TimestepTargetFPS  *prometheus.GaugeVec
	TimestepOffset     *prometheus.GaugeVec
	TimestepFrameDelta *prometheus.HistogramVec

	// Rate schedule
	RateChangesApplied *prometheus.CounterVec

	// Worker pool
	TasksExecuted         *prometheus.CounterVec
	TasksFailed           *prometheus.CounterVec
	TaskExecutionDuration *prometheus.HistogramVec
	WorkerPoolSize        *prometheus.GaugeVec
	WorkerPoolActive      *prometheus.GaugeVec
	WorkerPoolQueued      *prometheus.GaugeVec

	// Telemetry sink
	SinkWrites  *prometheus.CounterVec
	SinkErrors  *prometheus.CounterVec
	SinkDropped *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by gopace components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// frameBuckets covers 240fps (~4ms) down to 2fps (500ms).
var frameBuckets = []float64{.004, .008, .011, .0167, .025, .034, .05, .1, .25, .5}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		TimestepUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "timestep",
				Name:      "updates_total",
				Help:      "Total number of update callbacks invoked",
			},
			[]string{"timestep_name"},
		),

		TimestepRenders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "timestep",
				Name:      "renders_total",
				Help:      "Total number of render callbacks invoked",
			},
			[]string{"timestep_name"},
		),

		TimestepThrottles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "timestep",
				Name:      "throttles_total",
				Help:      "Total number of ticks skipped because the update cadence had not matured",
			},
			[]string{"timestep_name"},
		),

		TimestepCurrentFPS: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "timestep",
				Name:      "current_fps",
				Help:      "Instantaneous render frequency of the last frame",
			},
			[]string{"timestep_name"},
		),

		TimestepAverageFPS: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "timestep",
				Name:      "average_fps",
				Help:      "Render frequency averaged over the rolling window",
			},
			[]string{"timestep_name"},
		),

		TimestepTargetFPS: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "timestep",
				Name:      "target_fps",
				Help:      "Configured target frequency",
			},
			[]string{"timestep_name"},
		),

		TimestepOffset: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "timestep",
				Name:      "offset",
				Help:      "Last reported drift ratio between target and achieved rate",
			},
			[]string{"timestep_name", "kind"},
		),

		TimestepFrameDelta: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "timestep",
				Name:      "frame_delta_seconds",
				Help:      "Time between consecutive renders",
				Buckets:   frameBuckets,
			},
			[]string{"timestep_name"},
		),

		RateChangesApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratesched",
				Name:      "changes_applied_total",
				Help:      "Total number of scheduled target-rate changes applied",
			},
			[]string{"scheduler_name"},
		),

		TasksExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_executed_total",
				Help:      "Total number of tasks executed",
			},
			[]string{"pool_name"},
		),

		TasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_failed_total",
				Help:      "Total number of tasks that failed",
			},
			[]string{"pool_name"},
		),

		TaskExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "task_duration_seconds",
				Help:      "Time spent executing tasks",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pool_name"},
		),

		WorkerPoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "size",
				Help:      "Current worker pool size",
			},
			[]string{"pool_name"},
		),

		WorkerPoolActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "active_workers",
				Help:      "Number of active workers",
			},
			[]string{"pool_name"},
		),

		WorkerPoolQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "queued_tasks",
				Help:      "Number of queued tasks",
			},
			[]string{"pool_name"},
		),

		SinkWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "writes_total",
				Help:      "Total number of telemetry snapshots written",
			},
			[]string{"sink_name"},
		),

		SinkErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "errors_total",
				Help:      "Total number of failed telemetry writes",
			},
			[]string{"sink_name"},
		),

		SinkDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "dropped_total",
				Help:      "Total number of snapshots dropped because the write queue was full",
			},
			[]string{"sink_name"},
		),
	}
}
