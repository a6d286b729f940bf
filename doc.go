/*
Package gopace provides a frame-rate pacing controller for cooperative,
single-threaded event loops, along with the pieces needed to run one as
a service.

Pacing (pkg/pacing):
  - timestep: Update and render callbacks paced toward a target FPS
  - ratesched: Cron and one-shot changes of the target rate

Scheduling (pkg/scheduling):
  - cooperative: The scheduler contract the pacing loop runs on
  - eventloop: A single-goroutine loop with immediates and timers
  - workerpool: Background execution for blocking side effects

Telemetry:
  - metrics: Prometheus series for every component
  - telemetry/redisink: Latest statistics published to a Redis hash
  - ratelimit/bucket: Token bucket throttling snapshot writes

Example usage:

	import (
		"github.com/vnykmshr/gopace/pkg/pacing/timestep"
		"github.com/vnykmshr/gopace/pkg/scheduling/eventloop"
	)

	loop := eventloop.New(eventloop.Config{})
	ctrl, _ := timestep.New(timestep.Config{
		FPS:       60,
		Scheduler: loop,
		OnRender: func(ev timestep.RenderEvent) {
			draw(ev.AverageFPS)
		},
	})
	go loop.Run(ctx)

The cmd/pacer binary wires these together with YAML configuration, hot
reload and a /metrics endpoint.
*/
package gopace
