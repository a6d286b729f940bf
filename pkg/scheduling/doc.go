/*
Package scheduling provides the execution primitives the pacing loop is
built on.

  - cooperative: Scheduler interface with immediate and delayed tasks
  - eventloop: Single-goroutine implementation of cooperative.Scheduler
  - workerpool: Fixed worker pool for blocking work off the loop

Event Loop:

Every task submitted to an eventloop.Loop runs on the goroutine that
called Run, so callbacks can share state without locks:

	loop := eventloop.New(eventloop.Config{})
	go loop.Run(ctx)

	loop.DeferImmediate(func() { fmt.Println("next turn") })
	loop.DeferAfter(10*time.Millisecond, func() { fmt.Println("later") })

	<-loop.Stop()

Worker Pool:

Blocking side effects, such as network writes triggered from a render
callback, belong on a worker pool:

	pool := workerpool.New(1, 4)
	defer func() { <-pool.Shutdown() }()

	_ = pool.TrySubmit(workerpool.TaskFunc(func(ctx context.Context) error {
		return publish(ctx)
	}))

TrySubmit never blocks; callers that must not stall the loop drop the
task when the pool is busy.
*/
package scheduling
