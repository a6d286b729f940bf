package timestep

import (
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vnykmshr/gopace/pkg/clock"
	gperrors "github.com/vnykmshr/gopace/pkg/common/errors"
	"github.com/vnykmshr/gopace/pkg/common/validation"
	"github.com/vnykmshr/gopace/pkg/scheduling/cooperative"
)

const (
	// DefaultFPS is used when no valid target rate is configured.
	DefaultFPS = 30

	// DefaultWindowSize is the number of render samples averaged into AverageFPS.
	DefaultWindowSize = 10

	// DefaultThrottleDelay is the re-check delay while the update cadence matures.
	DefaultThrottleDelay = time.Millisecond

	// throttleDivisor splits the interval between update and render: an
	// update may run once half an interval has passed since the last one.
	throttleDivisor = 2

	// divergence is how far the update and render clocks must drift apart
	// before an update is followed by an immediate render check.
	divergence = time.Millisecond
)

// Config holds configuration options for creating a Controller.
type Config struct {
	// Name identifies the controller in logs and metrics. Defaults to "timestep".
	Name string

	// FPS is the target render frequency. Zero, negative or NaN values
	// fall back to DefaultFPS, as do rates whose interval is not a positive
	// Duration.
	FPS float64

	// OnUpdate is invoked at a controlled cadence independent of rendering.
	OnUpdate UpdateHandler

	// OnRender is invoked once at least one target interval has elapsed.
	OnRender RenderHandler

	// Clock provides the current time. If nil, clock.System is used.
	Clock clock.Clock

	// Scheduler runs the pacing loop. Required.
	Scheduler cooperative.Scheduler

	// Logger receives lifecycle events. If nil, nothing is logged.
	Logger *zerolog.Logger

	// ThrottleDelay is the minimal re-arm delay used while throttled.
	// Defaults to DefaultThrottleDelay.
	ThrottleDelay time.Duration

	// WindowSize is the rolling average capacity. Defaults to DefaultWindowSize.
	WindowSize int

	// Paused leaves the controller inactive after construction; call
	// Resume to start it. By default the first Resume is scheduled
	// immediately.
	Paused bool
}

// Controller paces an update and a render callback toward a target rate.
//
// The pacing state is owned by the scheduler goroutine. Stop, IsActive,
// UpdateFPS, TargetFPS, Interval and Stats are safe to call from any
// goroutine; Resume runs the first tick synchronously and must be called
// on the scheduler goroutine (for eventloop.Loop, via Submit).
type Controller struct {
	name          string
	onUpdate      UpdateHandler
	onRender      RenderHandler
	clock         clock.Clock
	sched         cooperative.Scheduler
	logger        zerolog.Logger
	throttleDelay time.Duration
	start         time.Time

	// shared with other goroutines
	active       atomic.Bool
	targetBits   atomic.Uint64
	averageBits  atomic.Uint64
	currentIndex atomic.Uint64
	currentFrame atomic.Uint64
	currentCycle atomic.Uint64
	instruments  atomic.Pointer[instrumentation]

	// scheduler goroutine only
	lastTime     time.Time
	lastUpdate   time.Time
	willUpdate   bool
	willRender   bool
	window       *window
	pendingReArm cooperative.Handle
	epoch        uint64
}

// New creates a Controller and, unless cfg.Paused is set, schedules its
// first Resume on cfg.Scheduler.
func New(cfg Config) (*Controller, error) {
	c, err := newController(cfg)
	if err != nil {
		return nil, err
	}
	c.autostart(cfg.Paused)
	return c, nil
}

func newController(cfg Config) (*Controller, error) {
	if err := validation.ValidateNotNil("timestep", "scheduler", cfg.Scheduler); err != nil {
		var verr *gperrors.ValidationError
		if errors.As(err, &verr) {
			verr.WithHint("pass an eventloop.Loop or another cooperative.Scheduler")
		}
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Name == "" {
		cfg.Name = "timestep"
	}
	if cfg.ThrottleDelay <= 0 {
		cfg.ThrottleDelay = DefaultThrottleDelay
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("timestep", cfg.Name).Logger()
	}

	fps := cfg.FPS
	if !validFPS(fps) {
		if fps != 0 {
			logger.Warn().Float64("fps", fps).Int("default_fps", DefaultFPS).Msg("invalid target rate, using default")
		}
		fps = DefaultFPS
	}

	now := cfg.Clock.Now()
	c := &Controller{
		name:          cfg.Name,
		onUpdate:      cfg.OnUpdate,
		onRender:      cfg.OnRender,
		clock:         cfg.Clock,
		sched:         cfg.Scheduler,
		logger:        logger,
		throttleDelay: cfg.ThrottleDelay,
		start:         now,
		lastTime:      now,
		lastUpdate:    now,
		window:        newWindow(cfg.WindowSize),
	}
	c.targetBits.Store(math.Float64bits(fps))

	if c.onUpdate == nil && c.onRender == nil {
		logger.Warn().Msg("no update or render callback registered, ticks will do nothing")
	}

	return c, nil
}

func (c *Controller) autostart(paused bool) {
	if paused {
		return
	}
	c.sched.DeferImmediate(c.Resume)
}

// Resume activates the controller and runs the first tick synchronously.
// It is a no-op if the controller is already active.
func (c *Controller) Resume() {
	if !c.active.CompareAndSwap(false, true) {
		return
	}

	now := c.clock.Now()
	c.lastTime = now
	c.lastUpdate = now
	c.willUpdate = false
	c.willRender = false
	c.epoch++

	c.logger.Debug().
		Float64("target_fps", c.TargetFPS()).
		Dur("interval", c.Interval()).
		Msg("timestep resumed")

	c.tick()
}

// Stop deactivates the controller. Already scheduled ticks still run but
// return at the guard without invoking callbacks or re-arming.
func (c *Controller) Stop() {
	if c.active.CompareAndSwap(true, false) {
		c.logger.Debug().Uint64("frame", c.currentFrame.Load()).Msg("timestep stopped")
	}
}

// IsActive reports whether the loop keeps re-arming itself.
func (c *Controller) IsActive() bool {
	return c.active.Load()
}

// UpdateFPS changes the target rate. Zero, negative and NaN values keep the
// current rate, as do rates whose interval is not a positive Duration.
// Negative values are not mirrored to their absolute value. The change is
// observed by the next tick; a tick already in progress finishes with the
// rate it started with.
func (c *Controller) UpdateFPS(fps float64) {
	if !validFPS(fps) {
		c.logger.Debug().Float64("fps", fps).Msg("ignoring invalid target rate")
		return
	}
	old := math.Float64frombits(c.targetBits.Swap(math.Float64bits(fps)))
	if inst := c.instruments.Load(); inst != nil {
		inst.target(fps)
	}
	c.logger.Debug().Float64("from_fps", old).Float64("target_fps", fps).Msg("target rate changed")
}

// TargetFPS returns the current target rate.
func (c *Controller) TargetFPS() float64 {
	return math.Float64frombits(c.targetBits.Load())
}

// Interval returns the target time between renders.
func (c *Controller) Interval() time.Duration {
	return intervalFor(c.TargetFPS())
}

// Name returns the controller name used in logs and metrics.
func (c *Controller) Name() string {
	return c.name
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	fps := c.TargetFPS()
	return Stats{
		Active:       c.active.Load(),
		TargetFPS:    fps,
		Interval:     intervalFor(fps),
		AverageFPS:   math.Float64frombits(c.averageBits.Load()),
		CurrentIndex: c.currentIndex.Load(),
		CurrentFrame: c.currentFrame.Load(),
		CurrentCycle: c.currentCycle.Load(),
	}
}

// validFPS accepts rates whose interval is representable as a positive
// Duration: at most one render per nanosecond and no slower than one per
// MaxInt64 nanoseconds.
func validFPS(fps float64) bool {
	if !(fps > 0) || math.IsInf(fps, 1) {
		return false
	}
	ns := float64(time.Second) / fps
	return ns >= 1 && ns < math.MaxInt64
}
