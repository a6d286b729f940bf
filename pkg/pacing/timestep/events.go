package timestep

import (
	"math"
	"time"

	"github.com/vnykmshr/gopace/pkg/clock"
)

// UpdateEvent is delivered to the update callback.
type UpdateEvent struct {
	// Timestamp is the monotonic reading taken at the start of the tick.
	Timestamp time.Time

	// CurrentFPS is the achieved update frequency, 1s / Delta.
	CurrentFPS float64

	// CurrentFrame is the number of renders completed so far.
	CurrentFrame uint64

	// CurrentIndex is the tick counter at the time of the update.
	CurrentIndex uint64

	// Delta is the time since the previous update.
	Delta time.Duration

	// Duration is the time since the controller was created.
	Duration time.Duration

	// Offset is TargetFPS / CurrentFPS rounded to 8 decimals. Updates run
	// at roughly twice the target rate, so a healthy loop reports ~0.5.
	Offset float64
}

// DeltaMillis returns Delta in fractional milliseconds.
func (e UpdateEvent) DeltaMillis() float64 { return clock.Millis(e.Delta) }

// DurationMillis returns Duration in fractional milliseconds.
func (e UpdateEvent) DurationMillis() float64 { return clock.Millis(e.Duration) }

// RenderEvent is delivered to the render callback.
type RenderEvent struct {
	Timestamp time.Time

	// CurrentFPS is the instantaneous render frequency, 1s / Delta.
	CurrentFPS float64

	// AverageFPS is the mean CurrentFPS over the rolling window,
	// this frame included.
	AverageFPS float64

	CurrentFrame uint64
	CurrentIndex uint64

	// Delta is the time since the previous render.
	Delta    time.Duration
	Duration time.Duration

	// Offset is CurrentFPS / TargetFPS rounded to 8 decimals; 1 means on
	// target, below 1 means the loop is falling behind.
	Offset float64
}

// DeltaMillis returns Delta in fractional milliseconds.
func (e RenderEvent) DeltaMillis() float64 { return clock.Millis(e.Delta) }

// DurationMillis returns Duration in fractional milliseconds.
func (e RenderEvent) DurationMillis() float64 { return clock.Millis(e.Duration) }

// UpdateHandler consumes update events.
type UpdateHandler func(UpdateEvent)

// RenderHandler consumes render events.
type RenderHandler func(RenderEvent)

// Stats is a point-in-time view of a controller's counters.
type Stats struct {
	Active       bool
	TargetFPS    float64
	Interval     time.Duration
	AverageFPS   float64
	CurrentIndex uint64
	CurrentFrame uint64
	CurrentCycle uint64
}

// frequency returns events per second for a period of d. Callers
// guarantee d > 0.
func frequency(d time.Duration) float64 {
	return float64(time.Second) / float64(d)
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// intervalFor returns the target time between renders at fps.
func intervalFor(fps float64) time.Duration {
	return time.Duration(float64(time.Second) / fps)
}
