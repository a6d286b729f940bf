package timestep

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/vnykmshr/gopace/internal/testutil"
	gperrors "github.com/vnykmshr/gopace/pkg/common/errors"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newManual() (*testutil.ManualScheduler, *testutil.MockClock) {
	clk := testutil.NewMockClock(testStart)
	return testutil.NewManualScheduler(clk), clk
}

func mustNew(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c, err := New(cfg)
	testutil.AssertNoError(t, err)
	return c
}

func TestNew_Defaults(t *testing.T) {
	sched, clk := newManual()
	c := mustNew(t, Config{
		Clock:     clk,
		Scheduler: sched,
		OnRender:  func(RenderEvent) {},
	})

	testutil.AssertEqual(t, c.TargetFPS(), float64(DefaultFPS))
	testutil.AssertEqual(t, c.Interval(), time.Duration(33333333))
	testutil.AssertEqual(t, c.Name(), "timestep")
	testutil.AssertEqual(t, c.IsActive(), false)

	imm, timers := sched.Pending()
	testutil.AssertEqual(t, imm, 1)
	testutil.AssertEqual(t, timers, 0)

	// The scheduled Resume activates the controller on the first turn.
	sched.RunNext()
	testutil.AssertEqual(t, c.IsActive(), true)
}

func TestNew_InvalidFPSFallsBack(t *testing.T) {
	for _, fps := range []float64{0, -5, math.NaN(), math.Inf(1), math.Inf(-1), 2e9, 1e-11} {
		sched, clk := newManual()
		c := mustNew(t, Config{FPS: fps, Clock: clk, Scheduler: sched, Paused: true})
		testutil.AssertEqual(t, c.TargetFPS(), float64(DefaultFPS))
	}
}

func TestNew_RequiresScheduler(t *testing.T) {
	_, err := New(Config{FPS: 60})
	testutil.AssertError(t, err)

	if !gperrors.IsValidationError(err) {
		t.Fatalf("expected validation error, got %T", err)
	}
	if !errors.Is(err, gperrors.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}

	var verr *gperrors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	testutil.AssertEqual(t, verr.Module, "timestep")
	testutil.AssertEqual(t, verr.Field, "scheduler")
	testutil.AssertEqual(t, verr.Hint, "pass an eventloop.Loop or another cooperative.Scheduler")
}

func TestNew_Paused(t *testing.T) {
	sched, clk := newManual()
	c := mustNew(t, Config{Clock: clk, Scheduler: sched, OnUpdate: func(UpdateEvent) {}, Paused: true})

	imm, timers := sched.Pending()
	testutil.AssertEqual(t, imm, 0)
	testutil.AssertEqual(t, timers, 0)
	testutil.AssertEqual(t, c.IsActive(), false)
}

func TestResume_Idempotent(t *testing.T) {
	sched, clk := newManual()
	c := mustNew(t, Config{Clock: clk, Scheduler: sched, OnRender: func(RenderEvent) {}, Paused: true})

	c.Resume()
	testutil.AssertEqual(t, c.IsActive(), true)
	testutil.AssertEqual(t, c.Stats().CurrentIndex, uint64(1))

	c.Resume()
	testutil.AssertEqual(t, c.Stats().CurrentIndex, uint64(1))
	imm, timers := sched.Pending()
	testutil.AssertEqual(t, imm, 0)
	testutil.AssertEqual(t, timers, 1)
}

func TestResume_WithoutCallbacks(t *testing.T) {
	sched, clk := newManual()
	c := mustNew(t, Config{Clock: clk, Scheduler: sched, Paused: true})

	c.Resume()
	testutil.AssertEqual(t, c.IsActive(), true)
	testutil.AssertEqual(t, c.Stats().CurrentIndex, uint64(0))

	imm, timers := sched.Pending()
	testutil.AssertEqual(t, imm, 0)
	testutil.AssertEqual(t, timers, 0)
}

func TestStop(t *testing.T) {
	sched, clk := newManual()
	var updates, renders int
	c := mustNew(t, Config{
		Clock:     clk,
		Scheduler: sched,
		OnUpdate:  func(UpdateEvent) { updates++ },
		OnRender:  func(RenderEvent) { renders++ },
	})

	sched.Simulate(500*time.Millisecond, 50*time.Microsecond)
	if renders == 0 || updates == 0 {
		t.Fatalf("expected activity before stop, got %d updates %d renders", updates, renders)
	}

	c.Stop()
	testutil.AssertEqual(t, c.IsActive(), false)
	u, r, idx := updates, renders, c.Stats().CurrentIndex

	sched.Simulate(time.Second, 50*time.Microsecond)
	testutil.AssertEqual(t, updates, u)
	testutil.AssertEqual(t, renders, r)
	testutil.AssertEqual(t, c.Stats().CurrentIndex, idx)

	// The guard does not re-arm, so the queue drains.
	imm, timers := sched.Pending()
	testutil.AssertEqual(t, imm, 0)
	testutil.AssertEqual(t, timers, 0)

	// Stop on an inactive controller is a no-op.
	c.Stop()
	testutil.AssertEqual(t, c.IsActive(), false)
}

func TestStop_FromRenderCallback(t *testing.T) {
	sched, clk := newManual()
	var c *Controller
	renders := 0
	c = mustNew(t, Config{
		Clock:     clk,
		Scheduler: sched,
		OnRender: func(RenderEvent) {
			renders++
			c.Stop()
		},
	})

	sched.Simulate(time.Second, 50*time.Microsecond)
	testutil.AssertEqual(t, renders, 1)
	testutil.AssertEqual(t, c.IsActive(), false)
}

func TestUpdateFPS(t *testing.T) {
	sched, clk := newManual()
	c := mustNew(t, Config{Clock: clk, Scheduler: sched, Paused: true})

	c.UpdateFPS(60)
	testutil.AssertEqual(t, c.TargetFPS(), 60.0)
	testutil.AssertEqual(t, c.Interval(), time.Duration(16666666))

	for _, fps := range []float64{0, -1, -60, math.NaN(), math.Inf(1), 2e9, 1e-11} {
		c.UpdateFPS(fps)
		testutil.AssertEqual(t, c.TargetFPS(), 60.0)
		testutil.AssertEqual(t, c.Interval(), time.Duration(16666666))
	}

	// One render per nanosecond is the fastest representable rate.
	c.UpdateFPS(1e9)
	testutil.AssertEqual(t, c.Interval(), time.Nanosecond)
	c.UpdateFPS(60)

	c.UpdateFPS(144)
	st := c.Stats()
	testutil.AssertEqual(t, st.TargetFPS, 144.0)
	testutil.AssertEqual(t, st.Interval, intervalFor(144))
}

func TestUpdateFPS_UnrepresentableRateKeepsThrottling(t *testing.T) {
	sched, clk := newManual()
	var renders int
	c := mustNew(t, Config{
		Clock:     clk,
		Scheduler: sched,
		OnRender:  func(RenderEvent) { renders++ },
		Paused:    true,
	})

	c.UpdateFPS(1e-11)
	c.UpdateFPS(2e9)
	c.Resume()
	clk.Advance(time.Millisecond)
	sched.RunUntilIdle(5)

	testutil.AssertEqual(t, renders, 0)
	testutil.AssertEqual(t, c.TargetFPS(), float64(DefaultFPS))
}

func TestController_ConcurrentAccess(t *testing.T) {
	sched, clk := newManual()
	c := mustNew(t, Config{
		Clock:     clk,
		Scheduler: sched,
		OnUpdate:  func(UpdateEvent) {},
		OnRender:  func(RenderEvent) {},
	})

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		rates := []float64{30, 60, 90}
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			c.UpdateFPS(rates[i%len(rates)])
			_ = c.Stats()
			_ = c.IsActive()
			_ = c.Interval()
		}
	}()

	sched.Simulate(time.Second, 50*time.Microsecond)
	close(done)
	wg.Wait()

	if c.Stats().CurrentFrame == 0 {
		t.Fatal("expected renders while the target rate was changing")
	}
}
