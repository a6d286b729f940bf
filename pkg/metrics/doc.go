// Package metrics provides Prometheus instrumentation for gopace components.
//
// Components opt in through their metrics-enabled constructors:
//
//	ctrl, err := timestep.NewWithMetrics(cfg, "game", metrics.DefaultConfig())
//	pool, err := workerpool.NewWithMetrics(1, 4, "sink_pool")
//
// and the series are exposed the usual way:
//
//	http.Handle("/metrics", promhttp.Handler())
//
// # Available Metrics
//
// Pacing loop (label timestep_name):
//
//   - gopace_timestep_updates_total
//   - gopace_timestep_renders_total
//   - gopace_timestep_throttles_total
//   - gopace_timestep_current_fps
//   - gopace_timestep_average_fps
//   - gopace_timestep_target_fps
//   - gopace_timestep_offset (extra label kind: "update" or "render")
//   - gopace_timestep_frame_delta_seconds
//
// Rate schedule (label scheduler_name):
//
//   - gopace_ratesched_changes_applied_total
//
// Worker pool (label pool_name):
//
//   - gopace_workerpool_tasks_executed_total
//   - gopace_workerpool_tasks_failed_total
//   - gopace_workerpool_task_duration_seconds
//   - gopace_workerpool_size
//   - gopace_workerpool_active_workers
//   - gopace_workerpool_queued_tasks
//
// Telemetry sink (label sink_name):
//
//   - gopace_sink_writes_total
//   - gopace_sink_errors_total
//   - gopace_sink_dropped_total
//
// Use a private prometheus.Registry in tests to avoid duplicate registration
// panics:
//
//	reg := metrics.NewRegistry(prometheus.NewRegistry())
package metrics
