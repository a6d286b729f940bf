/*
Package workerpool provides a bounded pool of goroutines for work that must
not run on a pacing loop, such as network writes of frame statistics.

Basic usage:

	pool := workerpool.New(2, 64) // 2 workers, 64 queued tasks
	defer func() { <-pool.Shutdown() }()

	err := pool.TrySubmit(workerpool.TaskFunc(func(ctx context.Context) error {
		return publish(ctx, snapshot)
	}))
	if errors.Is(err, gperrors.ErrCapacityExceeded) {
		// queue full, drop this snapshot
	}

Submission:

  - Submit blocks while the queue is full
  - SubmitWithContext gives up when its context is done and passes the
    context to the task
  - TrySubmit never blocks and reports ErrCapacityExceeded instead

A QueueSize of zero hands each task straight to an idle worker.

Results:

Results are delivered to Config.OnTaskComplete on the worker goroutine.
A panicking task is recovered, reported to Config.PanicHandler and turned
into Result.Error; the worker keeps running. Config.TaskTimeout wraps the
task context with a deadline.

Shutdown:

Shutdown stops new submissions, unblocks callers waiting on a full queue,
runs every task already queued and closes the returned channel once all
workers have exited.

Metrics:

NewWithMetrics and NewWithConfigAndMetrics return a MetricsPool that
records the gopace_workerpool_* series.
*/
package workerpool
