package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	gperrors "github.com/vnykmshr/gopace/pkg/common/errors"
	"github.com/vnykmshr/gopace/pkg/common/validation"
)

// ErrPoolClosed is returned when submitting to a pool that has been shut down.
var ErrPoolClosed = fmt.Errorf("workerpool: %w", gperrors.ErrClosed)

// Task represents a unit of work that can be executed by a worker.
type Task interface {
	// Execute runs the task with the given context.
	// It should respect context cancellation and return any error encountered.
	Execute(ctx context.Context) error
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Result represents the result of a task execution.
type Result struct {
	// Task is the original task that was executed
	Task Task

	// Error is any error returned by the task, or the recovered panic
	Error error

	// Duration is how long the task took to execute
	Duration time.Duration

	// WorkerID identifies which worker executed the task
	WorkerID int
}

// Pool runs tasks on a fixed set of goroutines so that slow work (network
// writes, disk) stays off a pacing loop.
type Pool interface {
	// Submit queues a task, blocking while the queue is full.
	Submit(task Task) error

	// SubmitWithContext queues a task, giving up when ctx is done. The
	// context is also passed to the task.
	SubmitWithContext(ctx context.Context, task Task) error

	// TrySubmit queues a task without blocking. It returns an error
	// wrapping ErrCapacityExceeded when the queue is full.
	TrySubmit(task Task) error

	// Shutdown stops accepting tasks, finishes queued ones and returns a
	// channel that closes once every worker has exited.
	Shutdown() <-chan struct{}

	// Size returns the number of workers in the pool.
	Size() int

	// QueueSize returns the current number of queued tasks waiting for execution.
	QueueSize() int

	// ActiveWorkers returns the number of workers currently executing tasks.
	ActiveWorkers() int

	// TotalSubmitted returns the total number of tasks accepted by the pool.
	TotalSubmitted() int64

	// TotalCompleted returns the total number of tasks finished by the pool.
	TotalCompleted() int64
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// WorkerCount is the number of workers in the pool.
	// Must be greater than 0.
	WorkerCount int

	// QueueSize is the maximum number of tasks waiting for a worker.
	// Zero hands each task directly to an idle worker.
	QueueSize int

	// TaskTimeout bounds each task execution. Zero means no timeout.
	TaskTimeout time.Duration

	// Logger receives recovered panics. If nil, nothing is logged.
	Logger *zerolog.Logger

	// PanicHandler is called when a task panics. The panic is also
	// reported as the task's Result.Error.
	PanicHandler func(task Task, recovered any)

	// OnTaskStart is called before a task begins execution.
	OnTaskStart func(workerID int, task Task)

	// OnTaskComplete is called after a task completes (success or failure).
	OnTaskComplete func(workerID int, result Result)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validation.ValidatePositive("workerpool", "worker_count", c.WorkerCount); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("workerpool", "queue_size", float64(c.QueueSize)); err != nil {
		return err
	}
	return validation.ValidateNonNegativeDuration("workerpool", "task_timeout", c.TaskTimeout)
}

type queuedTask struct {
	task Task
	ctx  context.Context
}

// workerPool implements the Pool interface.
type workerPool struct {
	config Config
	logger zerolog.Logger

	taskQueue    chan queuedTask
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	mu         sync.RWMutex
	isShutdown bool
	submitters sync.WaitGroup

	activeWorkers  atomic.Int32
	totalSubmitted atomic.Int64
	totalCompleted atomic.Int64

	workerWg sync.WaitGroup
}

// New creates a new worker pool with the specified number of workers and
// queue size. It panics on an invalid configuration; use NewWithConfig to
// handle the error.
func New(workerCount, queueSize int) Pool {
	pool, err := NewWithConfig(Config{
		WorkerCount: workerCount,
		QueueSize:   queueSize,
	})
	if err != nil {
		panic(err)
	}
	return pool
}

// NewWithConfig creates a new worker pool with the specified configuration.
func NewWithConfig(config Config) (Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newWorkerPool(config), nil
}

func newWorkerPool(config Config) *workerPool {
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "workerpool").Logger()
	}

	pool := &workerPool{
		config:     config,
		logger:     logger,
		taskQueue:  make(chan queuedTask, config.QueueSize),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}

	for i := 0; i < config.WorkerCount; i++ {
		pool.workerWg.Add(1)
		go pool.runWorker(i)
	}

	return pool
}
