package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	gperrors "github.com/vnykmshr/gopace/pkg/common/errors"
)

// Submit adds a task to the pool for execution.
// The task will be executed with context.Background().
// Use SubmitWithContext to provide a custom context.
func (p *workerPool) Submit(task Task) error {
	return p.SubmitWithContext(context.Background(), task)
}

// SubmitWithContext adds a task to the pool for execution with the given context.
// The context is passed to the task's Execute method, enabling timeout and
// cancellation propagation. If the pool has a TaskTimeout configured, the
// effective timeout will be the minimum of the context deadline and TaskTimeout.
func (p *workerPool) SubmitWithContext(ctx context.Context, task Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.enter(task); err != nil {
		return err
	}
	defer p.submitters.Done()

	// Check if context is already canceled before attempting to queue
	// This ensures deterministic behavior for pre-canceled contexts
	select {
	case <-ctx.Done():
		return fmt.Errorf("cannot submit task: %w", ctx.Err())
	default:
	}

	select {
	case p.taskQueue <- queuedTask{task: task, ctx: ctx}:
		p.totalSubmitted.Add(1)
		return nil
	case <-p.shutdownCh:
		return ErrPoolClosed
	case <-ctx.Done():
		return fmt.Errorf("cannot submit task: %w", ctx.Err())
	}
}

// TrySubmit adds a task only if a queue slot or idle worker is available.
func (p *workerPool) TrySubmit(task Task) error {
	if err := p.enter(task); err != nil {
		return err
	}
	defer p.submitters.Done()

	select {
	case p.taskQueue <- queuedTask{task: task, ctx: context.Background()}:
		p.totalSubmitted.Add(1)
		return nil
	default:
		return fmt.Errorf("workerpool: queue full: %w", gperrors.ErrCapacityExceeded)
	}
}

// enter registers an in-flight submission so Shutdown can close the queue
// only after every sender has left.
func (p *workerPool) enter(task Task) error {
	if task == nil {
		return gperrors.NewValidationError("workerpool", "task", nil, "cannot be nil")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.isShutdown {
		return ErrPoolClosed
	}
	p.submitters.Add(1)
	return nil
}

// Shutdown initiates a graceful shutdown of the pool.
func (p *workerPool) Shutdown() <-chan struct{} {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.isShutdown = true
		p.mu.Unlock()

		// Unblock submitters waiting on a full queue
		close(p.shutdownCh)

		go func() {
			p.submitters.Wait()
			close(p.taskQueue)
			p.workerWg.Wait()
			close(p.done)
		}()
	})

	return p.done
}

// Size returns the number of workers in the pool.
func (p *workerPool) Size() int {
	return p.config.WorkerCount
}

// QueueSize returns the current number of queued tasks waiting for execution.
func (p *workerPool) QueueSize() int {
	return len(p.taskQueue)
}

// ActiveWorkers returns the number of workers currently executing tasks.
func (p *workerPool) ActiveWorkers() int {
	return int(p.activeWorkers.Load())
}

// TotalSubmitted returns the total number of tasks accepted by the pool.
func (p *workerPool) TotalSubmitted() int64 {
	return p.totalSubmitted.Load()
}

// TotalCompleted returns the total number of tasks finished by the pool.
func (p *workerPool) TotalCompleted() int64 {
	return p.totalCompleted.Load()
}

// runWorker executes tasks until the queue is closed and drained.
func (p *workerPool) runWorker(id int) {
	defer p.workerWg.Done()

	for qt := range p.taskQueue {
		p.executeTask(id, qt)
	}
}

// executeTask executes a single task with the provided context.
func (p *workerPool) executeTask(id int, qt queuedTask) {
	p.activeWorkers.Add(1)
	start := time.Now()
	var err error

	// Handle panics during task execution
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			p.logger.Error().
				Int("worker_id", id).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("task panicked")
			if p.config.PanicHandler != nil {
				p.config.PanicHandler(qt.task, r)
			}
		}

		p.activeWorkers.Add(-1)
		p.totalCompleted.Add(1)

		if p.config.OnTaskComplete != nil {
			p.config.OnTaskComplete(id, Result{
				Task:     qt.task,
				Error:    err,
				Duration: time.Since(start),
				WorkerID: id,
			})
		}
	}()

	if p.config.OnTaskStart != nil {
		p.config.OnTaskStart(id, qt.task)
	}

	ctx := qt.ctx
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	err = qt.task.Execute(ctx)
}
