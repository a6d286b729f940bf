package workerpool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/gopace/internal/testutil"
	gperrors "github.com/vnykmshr/gopace/pkg/common/errors"
	"github.com/vnykmshr/gopace/pkg/metrics"
)

// TestTask is a simple task for testing.
type TestTask struct {
	ID          int
	Duration    time.Duration
	ShouldErr   bool
	ShouldPanic bool
	Executed    *int32 // Atomic counter
}

func (t *TestTask) Execute(ctx context.Context) error {
	atomic.AddInt32(t.Executed, 1)

	if t.ShouldPanic {
		panic("test panic")
	}

	if t.Duration > 0 {
		select {
		case <-time.After(t.Duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if t.ShouldErr {
		return errors.New("test error")
	}

	return nil
}

// results collects completion callbacks.
type results struct {
	mu  sync.Mutex
	all []Result
}

func (r *results) add(_ int, res Result) {
	r.mu.Lock()
	r.all = append(r.all, res)
	r.mu.Unlock()
}

func (r *results) snapshot() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.all...)
}

func TestNewWithConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{WorkerCount: 2, QueueSize: 10}, false},
		{"handoff queue", Config{WorkerCount: 1}, false},
		{"zero workers", Config{WorkerCount: 0, QueueSize: 10}, true},
		{"negative workers", Config{WorkerCount: -1}, true},
		{"negative queue", Config{WorkerCount: 2, QueueSize: -1}, true},
		{"negative timeout", Config{WorkerCount: 2, TaskTimeout: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := NewWithConfig(tt.config)
			if tt.wantErr {
				testutil.AssertError(t, err)
				if !gperrors.IsValidationError(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, pool.Size(), tt.config.WorkerCount)
			<-pool.Shutdown()
		})
	}
}

func TestNew_PanicsOnInvalid(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic")
		}
	}()
	New(0, 1)
}

func TestBasicTaskExecution(t *testing.T) {
	res := &results{}
	pool, err := NewWithConfig(Config{WorkerCount: 2, QueueSize: 5, OnTaskComplete: res.add})
	testutil.AssertNoError(t, err)

	var executed int32
	task := &TestTask{ID: 1, Duration: 10 * time.Millisecond, Executed: &executed}
	testutil.AssertNoError(t, pool.Submit(task))

	<-pool.Shutdown()

	all := res.snapshot()
	testutil.AssertEqual(t, len(all), 1)
	testutil.AssertEqual(t, all[0].Error, nil)
	testutil.AssertEqual(t, all[0].Task == task, true)
	testutil.AssertEqual(t, all[0].Duration >= 10*time.Millisecond, true)
	testutil.AssertEqual(t, atomic.LoadInt32(&executed), int32(1))
	testutil.AssertEqual(t, pool.TotalSubmitted(), int64(1))
	testutil.AssertEqual(t, pool.TotalCompleted(), int64(1))
}

func TestShutdownDrainsQueue(t *testing.T) {
	pool := New(2, 20)

	var executed int32
	for i := 0; i < 20; i++ {
		testutil.AssertNoError(t, pool.Submit(&TestTask{ID: i, Duration: time.Millisecond, Executed: &executed}))
	}

	select {
	case <-pool.Shutdown():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	testutil.AssertEqual(t, atomic.LoadInt32(&executed), int32(20))
	testutil.AssertEqual(t, pool.TotalCompleted(), int64(20))

	err := pool.Submit(&TestTask{Executed: &executed})
	if !errors.Is(err, ErrPoolClosed) || !errors.Is(err, gperrors.ErrClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}

	// Shutdown is idempotent.
	<-pool.Shutdown()
}

func TestTrySubmit_CapacityExceeded(t *testing.T) {
	pool := New(1, 1)
	defer func() { <-pool.Shutdown() }()

	release := make(chan struct{})
	started := make(chan struct{})
	testutil.AssertNoError(t, pool.Submit(TaskFunc(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})))
	<-started

	// Worker busy, one slot left in the queue.
	testutil.AssertNoError(t, pool.TrySubmit(TaskFunc(func(ctx context.Context) error { return nil })))

	err := pool.TrySubmit(TaskFunc(func(ctx context.Context) error { return nil }))
	if !errors.Is(err, gperrors.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	testutil.AssertEqual(t, gperrors.IsRetryable(err), true)
	testutil.AssertEqual(t, pool.QueueSize(), 1)
	testutil.AssertEqual(t, pool.ActiveWorkers(), 1)

	close(release)
}

func TestSubmitNilTask(t *testing.T) {
	pool := New(1, 1)
	defer func() { <-pool.Shutdown() }()

	err := pool.Submit(nil)
	if !gperrors.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitWithContext_Canceled(t *testing.T) {
	pool := New(1, 0)
	defer func() { <-pool.Shutdown() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var executed int32
	err := pool.SubmitWithContext(ctx, &TestTask{Executed: &executed})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSubmitWithContext_TimesOutWhenFull(t *testing.T) {
	pool := New(1, 0)
	release := make(chan struct{})
	started := make(chan struct{})
	testutil.AssertNoError(t, pool.Submit(TaskFunc(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.SubmitWithContext(ctx, TaskFunc(func(ctx context.Context) error { return nil }))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	<-pool.Shutdown()
}

func TestShutdownUnblocksSubmitters(t *testing.T) {
	pool := New(1, 0)
	release := make(chan struct{})
	started := make(chan struct{})
	testutil.AssertNoError(t, pool.Submit(TaskFunc(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})))
	<-started

	errc := make(chan error, 1)
	go func() {
		errc <- pool.Submit(TaskFunc(func(ctx context.Context) error { return nil }))
	}()

	time.Sleep(10 * time.Millisecond)
	done := pool.Shutdown()

	select {
	case err := <-errc:
		// The blocked submit either lost the race to shutdown or was
		// handed to the worker; both are valid.
		if err != nil && !errors.Is(err, ErrPoolClosed) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("submitter still blocked after shutdown")
	}

	close(release)
	<-done
}

func TestPanicRecovery(t *testing.T) {
	res := &results{}
	var handled atomic.Value
	pool, err := NewWithConfig(Config{
		WorkerCount:    1,
		QueueSize:      2,
		OnTaskComplete: res.add,
		PanicHandler:   func(task Task, r any) { handled.Store(r) },
	})
	testutil.AssertNoError(t, err)

	var executed int32
	testutil.AssertNoError(t, pool.Submit(&TestTask{ShouldPanic: true, Executed: &executed}))
	testutil.AssertNoError(t, pool.Submit(&TestTask{Executed: &executed}))
	<-pool.Shutdown()

	all := res.snapshot()
	testutil.AssertEqual(t, len(all), 2)
	testutil.AssertError(t, all[0].Error)
	if !strings.Contains(all[0].Error.Error(), "test panic") {
		t.Fatalf("panic not reported in result: %v", all[0].Error)
	}
	testutil.AssertEqual(t, all[1].Error, nil)
	testutil.AssertEqual(t, handled.Load(), any("test panic"))
	testutil.AssertEqual(t, pool.ActiveWorkers(), 0)
}

func TestTaskTimeout(t *testing.T) {
	res := &results{}
	pool, err := NewWithConfig(Config{
		WorkerCount:    1,
		QueueSize:      1,
		TaskTimeout:    10 * time.Millisecond,
		OnTaskComplete: res.add,
	})
	testutil.AssertNoError(t, err)

	var executed int32
	testutil.AssertNoError(t, pool.Submit(&TestTask{Duration: time.Second, Executed: &executed}))
	<-pool.Shutdown()

	all := res.snapshot()
	testutil.AssertEqual(t, len(all), 1)
	if !errors.Is(all[0].Error, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", all[0].Error)
	}
}

func TestOnTaskStart(t *testing.T) {
	var starts atomic.Int32
	pool, err := NewWithConfig(Config{
		WorkerCount: 2,
		QueueSize:   4,
		OnTaskStart: func(workerID int, task Task) { starts.Add(1) },
	})
	testutil.AssertNoError(t, err)

	var executed int32
	for i := 0; i < 4; i++ {
		testutil.AssertNoError(t, pool.Submit(&TestTask{Executed: &executed}))
	}
	<-pool.Shutdown()
	testutil.AssertEqual(t, starts.Load(), int32(4))
}

func TestConcurrentSubmit(t *testing.T) {
	pool := New(4, 16)

	var executed int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := pool.Submit(&TestTask{Executed: &executed}); err != nil {
					t.Errorf("submit: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	<-pool.Shutdown()

	testutil.AssertEqual(t, atomic.LoadInt32(&executed), int32(400))
	testutil.AssertEqual(t, pool.TotalSubmitted(), int64(400))
	testutil.AssertEqual(t, pool.TotalCompleted(), int64(400))
}

func TestMetricsPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	pool, err := NewWithConfigAndMetrics(Config{WorkerCount: 2, QueueSize: 4}, "sink", metrics.Config{Enabled: true, Registry: reg})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, pool.MetricsEnabled(), true)

	var executed int32
	testutil.AssertNoError(t, pool.Submit(&TestTask{Executed: &executed}))
	testutil.AssertNoError(t, pool.TrySubmit(&TestTask{ShouldErr: true, Executed: &executed}))
	testutil.AssertNoError(t, pool.SubmitWithTimeout(&TestTask{Executed: &executed}, time.Second))
	<-pool.Shutdown()

	r := metrics.Resolve(metrics.Config{Registry: reg})
	testutil.AssertEqual(t, promtestutil.ToFloat64(r.TasksExecuted.WithLabelValues("sink")), 3.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(r.TasksFailed.WithLabelValues("sink")), 1.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(r.WorkerPoolSize.WithLabelValues("sink")), 2.0)

	pool.DisableMetrics()
	testutil.AssertEqual(t, pool.MetricsEnabled(), false)
}

func TestMetricsPool_InvalidConfig(t *testing.T) {
	_, err := NewWithConfigAndMetrics(Config{}, "bad", metrics.Config{})
	testutil.AssertError(t, err)
}
