package timestep

import (
	"math"
)

// tick runs one pacing decision: throttle, update, continue or render.
// Every path that keeps the loop alive re-arms it through the scheduler,
// except the update-to-render hand-off which re-enters synchronously so
// the render check happens in the same cooperative turn.
func (c *Controller) tick() {
	if !c.active.Load() || (c.onUpdate == nil && c.onRender == nil) {
		return
	}

	index := c.currentIndex.Load()
	if index == math.MaxUint64 {
		index = 0
		c.currentCycle.Add(1)
	}
	frame := c.currentFrame.Load()
	if frame == math.MaxUint64 {
		frame = 0
		c.currentFrame.Store(0)
	}
	index++
	c.currentIndex.Store(index)

	target := c.TargetFPS()
	interval := intervalFor(target)

	now := c.clock.Now()
	delta := now.Sub(c.lastTime)
	updateDelta := now.Sub(c.lastUpdate)
	duration := now.Sub(c.start)

	if !c.willRender && updateDelta <= interval/throttleDivisor {
		c.throttle()
		return
	}

	if !c.willUpdate && !c.willRender {
		c.willUpdate = true
		callbackDelta := (updateDelta - delta).Abs()

		if c.onUpdate != nil && updateDelta > 0 {
			fps := frequency(updateDelta)
			c.emitUpdate(UpdateEvent{
				Timestamp:    now,
				CurrentFPS:   fps,
				CurrentFrame: frame,
				CurrentIndex: index,
				Delta:        updateDelta,
				Duration:     duration,
				Offset:       round8(target / fps),
			})
		}

		c.willUpdate = false
		c.lastUpdate = now

		if callbackDelta >= divergence {
			c.willRender = true
			c.tick()
			return
		}
	}

	if delta <= interval {
		c.rearm()
		return
	}

	fps := frequency(delta)
	c.window.Push(fps)
	average := c.window.Mean()
	c.averageBits.Store(math.Float64bits(average))

	if c.onRender != nil {
		c.emitRender(RenderEvent{
			Timestamp:    now,
			CurrentFPS:   fps,
			AverageFPS:   average,
			CurrentFrame: frame,
			CurrentIndex: index,
			Delta:        delta,
			Duration:     duration,
			Offset:       round8(fps / target),
		})
	}

	c.willRender = false
	c.currentFrame.Store(frame + 1)
	c.lastTime = now
	c.rearm()
}

// throttle replaces any pending delayed re-arm with a fresh one after the
// throttle delay, bounding busy-looping while the update cadence matures.
func (c *Controller) throttle() {
	c.sched.Cancel(c.pendingReArm)
	c.pendingReArm = c.sched.DeferAfter(c.throttleDelay, c.resumeChain(c.epoch))
	if inst := c.instruments.Load(); inst != nil {
		inst.throttled()
	}
}

// rearm yields to the scheduler and continues the chain on its next turn.
func (c *Controller) rearm() {
	c.sched.DeferImmediate(c.resumeChain(c.epoch))
}

// resumeChain binds a re-arm to the current activation so that ticks
// scheduled before a Stop/Resume cycle cannot start a second chain.
func (c *Controller) resumeChain(epoch uint64) func() {
	return func() {
		if epoch != c.epoch {
			return
		}
		c.tick()
	}
}

func (c *Controller) emitUpdate(ev UpdateEvent) {
	defer c.haltOnPanic("update")
	c.onUpdate(ev)
	if inst := c.instruments.Load(); inst != nil {
		inst.update(ev)
	}
}

func (c *Controller) emitRender(ev RenderEvent) {
	defer c.haltOnPanic("render")
	c.onRender(ev)
	if inst := c.instruments.Load(); inst != nil {
		inst.render(ev)
	}
}

// haltOnPanic deactivates the controller when a callback panics and lets
// the panic continue to the scheduler. The chain is broken at that point,
// so IsActive must stop reporting true; Resume starts a fresh chain.
func (c *Controller) haltOnPanic(kind string) {
	if r := recover(); r != nil {
		c.active.Store(false)
		c.willUpdate = false
		c.willRender = false
		c.logger.Error().Str("callback", kind).Interface("panic", r).Msg("callback panicked, timestep stopped")
		panic(r)
	}
}
