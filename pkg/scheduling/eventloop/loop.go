package eventloop

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vnykmshr/gopace/pkg/clock"
	gperrors "github.com/vnykmshr/gopace/pkg/common/errors"
	"github.com/vnykmshr/gopace/pkg/scheduling/cooperative"
)

// DefaultIngressSize bounds the number of Submit calls waiting for the loop.
const DefaultIngressSize = 1024

var (
	// ErrLoopAlreadyRunning is returned by Run when the loop is already running.
	ErrLoopAlreadyRunning = fmt.Errorf("eventloop: %w", gperrors.ErrAlreadyRunning)

	// ErrLoopClosed is returned by Run and Submit once the loop has stopped.
	ErrLoopClosed = fmt.Errorf("eventloop: %w", gperrors.ErrClosed)
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// Config holds configuration options for a Loop.
type Config struct {
	// Clock is used for timer deadlines. If nil, clock.System is used.
	Clock clock.Clock

	// Logger receives loop lifecycle events and, with the default
	// PanicHandler, recovered panics.
	Logger *zerolog.Logger

	// PanicHandler receives values recovered from panicking tasks. The
	// loop keeps running after a panic. Defaults to logging at error level.
	PanicHandler func(recovered any)

	// IngressSize caps tasks queued through Submit. Defaults to
	// DefaultIngressSize.
	IngressSize int
}

// Loop is a single-goroutine cooperative scheduler. Tasks run one at a
// time on the goroutine that called Run, so state touched only from tasks
// needs no locking.
type Loop struct {
	clock       clock.Clock
	logger      zerolog.Logger
	onPanic     func(any)
	ingressSize int

	mu         sync.Mutex
	next       cooperative.Handle
	ingress    []func()
	immediates []immediate
	live       map[cooperative.Handle]struct{}
	timers     timerHeap
	byHandle   map[cooperative.Handle]*timer
	closed     bool

	state    atomic.Int32
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type immediate struct {
	handle cooperative.Handle
	fn     func()
}

var _ cooperative.Scheduler = (*Loop)(nil)

// New creates a Loop. Tasks may be queued before Run is called; they run
// once the loop starts.
func New(cfg Config) *Loop {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.IngressSize <= 0 {
		cfg.IngressSize = DefaultIngressSize
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "eventloop").Logger()
	}

	l := &Loop{
		clock:       cfg.Clock,
		logger:      logger,
		onPanic:     cfg.PanicHandler,
		ingressSize: cfg.IngressSize,
		live:        make(map[cooperative.Handle]struct{}),
		byHandle:    make(map[cooperative.Handle]*timer),
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if l.onPanic == nil {
		l.onPanic = func(r any) {
			l.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("task panicked")
		}
	}
	return l
}

// Run processes tasks on the calling goroutine until ctx is done or Stop
// is called. It returns nil after Stop and ctx.Err() on cancellation.
// Tasks still queued when Run returns are dropped.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(stateIdle, stateRunning) {
		if l.state.Load() == stateStopped {
			return ErrLoopClosed
		}
		return ErrLoopAlreadyRunning
	}
	defer close(l.done)
	defer l.shutdown()

	l.logger.Debug().Msg("event loop started")

	var sleeper *time.Timer
	defer func() {
		if sleeper != nil {
			sleeper.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		default:
		}

		l.turn()

		wait, ok := l.nextWait()
		if ok && wait <= 0 {
			continue
		}

		var timeout <-chan time.Time
		if ok {
			if sleeper == nil {
				sleeper = time.NewTimer(wait)
			} else {
				sleeper.Reset(wait)
			}
			timeout = sleeper.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case <-l.wake:
		case <-timeout:
		}
		if sleeper != nil {
			sleeper.Stop()
		}
	}
}

// Stop ends Run and returns a channel closed once Run has returned. It is
// idempotent. A loop stopped before Run was called never runs.
func (l *Loop) Stop() <-chan struct{} {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.stop)
		if l.state.CompareAndSwap(stateIdle, stateStopped) {
			close(l.done)
		}
	})
	return l.done
}

// Done returns a channel closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Submit queues fn to run on the loop goroutine. It is safe to call from
// any goroutine.
func (l *Loop) Submit(fn func()) error {
	if fn == nil {
		return gperrors.NewValidationError("eventloop", "task", nil, "cannot be nil")
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	if len(l.ingress) >= l.ingressSize {
		l.mu.Unlock()
		return gperrors.ErrCapacityExceeded
	}
	l.ingress = append(l.ingress, fn)
	l.mu.Unlock()
	l.notify()
	return nil
}

// DeferImmediate queues fn for the next loop turn. Immediates run in FIFO
// order before any timer. After Stop it returns 0 and fn never runs.
func (l *Loop) DeferImmediate(fn func()) cooperative.Handle {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0
	}
	l.next++
	h := l.next
	l.immediates = append(l.immediates, immediate{handle: h, fn: fn})
	l.live[h] = struct{}{}
	l.mu.Unlock()
	l.notify()
	return h
}

// DeferAfter queues fn to run once d has elapsed on the loop clock.
func (l *Loop) DeferAfter(d time.Duration, fn func()) cooperative.Handle {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0
	}
	l.next++
	t := &timer{handle: l.next, when: l.clock.Now().Add(d), fn: fn}
	heap.Push(&l.timers, t)
	l.byHandle[t.handle] = t
	l.mu.Unlock()
	l.notify()
	return t.handle
}

// Cancel drops a pending task. Unknown or already-run handles are ignored.
func (l *Loop) Cancel(h cooperative.Handle) {
	if h == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.live[h]; ok {
		delete(l.live, h)
		return
	}
	if t, ok := l.byHandle[h]; ok {
		heap.Remove(&l.timers, t.index)
		delete(l.byHandle, h)
	}
}

// Pending returns the number of queued immediates and timers. Submitted
// tasks not yet picked up count as immediates.
func (l *Loop) Pending() (immediates, timers int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live) + len(l.ingress), len(l.timers)
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// turn runs one scheduling pass: submitted tasks, then the immediates
// queued before the pass started, then due timers. Work queued during the
// pass waits for the next one.
func (l *Loop) turn() {
	l.mu.Lock()
	ingress := l.ingress
	l.ingress = nil
	n := len(l.immediates)
	limit := l.next
	l.mu.Unlock()

	for _, fn := range ingress {
		l.execute(fn)
	}

	for i := 0; i < n; i++ {
		l.mu.Lock()
		im := l.immediates[0]
		l.immediates[0] = immediate{}
		l.immediates = l.immediates[1:]
		_, ok := l.live[im.handle]
		delete(l.live, im.handle)
		l.mu.Unlock()
		if ok {
			l.execute(im.fn)
		}
	}

	now := l.clock.Now()
	for {
		l.mu.Lock()
		if len(l.timers) == 0 {
			l.mu.Unlock()
			return
		}
		top := l.timers[0]
		if top.when.After(now) || top.handle > limit {
			l.mu.Unlock()
			return
		}
		heap.Pop(&l.timers)
		delete(l.byHandle, top.handle)
		l.mu.Unlock()
		l.execute(top.fn)
	}
}

// nextWait reports how long the loop may sleep. ok is false when nothing
// is scheduled and the loop should wait for new work.
func (l *Loop) nextWait() (wait time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ingress) > 0 || len(l.immediates) > 0 {
		return 0, true
	}
	if len(l.timers) == 0 {
		return 0, false
	}
	return l.timers[0].when.Sub(l.clock.Now()), true
}

func (l *Loop) execute(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.onPanic(r)
		}
	}()
	fn()
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	l.closed = true
	dropped := len(l.live) + len(l.ingress) + len(l.timers)
	l.ingress = nil
	l.immediates = nil
	l.live = make(map[cooperative.Handle]struct{})
	l.timers = nil
	l.byHandle = make(map[cooperative.Handle]*timer)
	l.mu.Unlock()
	l.state.Store(stateStopped)

	l.logger.Debug().Int("dropped", dropped).Msg("event loop stopped")
}
