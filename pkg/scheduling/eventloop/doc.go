// Package eventloop provides a single-goroutine cooperative scheduler.
//
// A Loop owns two queues: an immediate FIFO and a deadline-ordered timer
// heap. Each turn it runs tasks handed over by Submit, then the immediates
// that were queued when the turn began, then every timer that is due.
// Work queued during a turn waits for the next one, so a task that keeps
// re-arming itself yields to everything else. When nothing is runnable the
// loop sleeps until the next deadline or new work.
//
// Loop implements cooperative.Scheduler and is the default driver for
// timestep controllers:
//
//	loop := eventloop.New(eventloop.Config{Logger: &logger})
//	ctrl, err := timestep.New(timestep.Config{
//		FPS:       60,
//		Scheduler: loop,
//		OnRender:  draw,
//	})
//	if err != nil {
//		return err
//	}
//	go loop.Run(ctx)
//	...
//	loop.Submit(ctrl.Stop)
//	<-loop.Stop()
//
// A panicking task does not stop the loop; the recovered value is handed
// to Config.PanicHandler.
package eventloop
