/*
Package timestep paces two callbacks, update and render, toward a target
frame rate on top of a cooperative scheduler.

A Controller never sleeps and never owns a goroutine. Every tick decides
one of four things and then yields back to its scheduler:

  - throttle: less than half an interval has passed since the last update,
    so the tick re-arms after a short delay (1ms by default)
  - update: the update callback runs, then the tick re-arms immediately or,
    when the update and render clocks have drifted apart by a millisecond
    or more, re-checks for a render in the same turn
  - continue: the render is not due yet, so the tick re-arms immediately
  - render: at least one interval has elapsed since the last render

Updates therefore run at roughly twice the target rate and renders at the
target rate, with the achieved rate bounded by the scheduler's timer
resolution.

Basic usage:

	loop := eventloop.New(eventloop.Config{})
	ctrl, err := timestep.New(timestep.Config{
		FPS: 60,
		Scheduler: loop,
		OnUpdate: func(ev timestep.UpdateEvent) {
			world.Step(ev.Delta)
		},
		OnRender: func(ev timestep.RenderEvent) {
			screen.Draw(ev.Offset)
		},
	})
	if err != nil {
		return err
	}
	go loop.Run(ctx)

New schedules the first Resume on the scheduler; set Config.Paused to
start the controller later.

Events:

UpdateEvent and RenderEvent carry the tick timestamp, the achieved
frequency, frame and tick counters, the elapsed delta and the time since
construction. RenderEvent adds AverageFPS, the mean of the last ten render
frequencies. Offsets are rounded to eight decimals: the update offset is
TargetFPS over the achieved update rate (about 0.5 when healthy) and the
render offset is the achieved render rate over TargetFPS (about 1).

Counters are unsigned 64-bit. When the tick counter would overflow it wraps
to zero and CurrentCycle is incremented.

Concurrency:

Pacing state belongs to the scheduler goroutine. Stop, IsActive, UpdateFPS,
TargetFPS, Interval and Stats may be called from anywhere. Resume runs a
tick synchronously, so call it from the scheduler goroutine, for example
through eventloop.Loop.Submit.

A panicking callback stops the controller and the panic continues to the
scheduler, which for eventloop.Loop reports it through its PanicHandler.

Metrics:

NewWithMetrics and EnableMetrics record the gopace_timestep_* series
described in package metrics, labelled with the controller name.
*/
package timestep
