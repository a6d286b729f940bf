package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/vnykmshr/gopace/pkg/scheduling/cooperative"
)

// MockClock implements clock.Clock with controllable time.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new MockClock starting at the given time.
// If zero time is provided, uses current time.
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &MockClock{now: start}
}

// Now returns the current mock time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by the given duration.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock clock to a specific time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

type manualTask struct {
	handle cooperative.Handle
	when   time.Time
	fn     func()
}

// ManualScheduler is a deterministic cooperative.Scheduler driven by a
// MockClock. Nothing runs until the test calls RunNext, RunUntilIdle or
// Simulate, so every tick of a pacing loop can be observed in isolation.
type ManualScheduler struct {
	Clock *MockClock

	next       cooperative.Handle
	immediates []manualTask
	timers     []manualTask
	canceled   map[cooperative.Handle]bool
	executed   int
}

// NewManualScheduler creates a scheduler reading time from clk.
func NewManualScheduler(clk *MockClock) *ManualScheduler {
	return &ManualScheduler{
		Clock:    clk,
		canceled: make(map[cooperative.Handle]bool),
	}
}

// DeferImmediate queues fn to run before any timer.
func (s *ManualScheduler) DeferImmediate(fn func()) cooperative.Handle {
	s.next++
	s.immediates = append(s.immediates, manualTask{handle: s.next, fn: fn})
	return s.next
}

// DeferAfter queues fn to run once the clock reaches now+d.
func (s *ManualScheduler) DeferAfter(d time.Duration, fn func()) cooperative.Handle {
	s.next++
	s.timers = append(s.timers, manualTask{handle: s.next, when: s.Clock.Now().Add(d), fn: fn})
	sort.SliceStable(s.timers, func(i, j int) bool {
		return s.timers[i].when.Before(s.timers[j].when)
	})
	return s.next
}

// Cancel drops a pending task.
func (s *ManualScheduler) Cancel(h cooperative.Handle) {
	if h == 0 {
		return
	}
	for i, t := range s.immediates {
		if t.handle == h {
			s.immediates = append(s.immediates[:i], s.immediates[i+1:]...)
			s.canceled[h] = true
			return
		}
	}
	for i, t := range s.timers {
		if t.handle == h {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			s.canceled[h] = true
			return
		}
	}
}

// Canceled reports whether h was dropped by Cancel before it ran.
func (s *ManualScheduler) Canceled(h cooperative.Handle) bool {
	return s.canceled[h]
}

// Pending returns the number of queued immediates and timers.
func (s *ManualScheduler) Pending() (immediates, timers int) {
	return len(s.immediates), len(s.timers)
}

// Executed returns the number of tasks run so far.
func (s *ManualScheduler) Executed() int {
	return s.executed
}

// RunNext runs one task that is runnable at the current mock time:
// the oldest immediate, otherwise the earliest due timer. It reports
// whether a task ran.
func (s *ManualScheduler) RunNext() bool {
	if len(s.immediates) > 0 {
		t := s.immediates[0]
		s.immediates = s.immediates[1:]
		s.executed++
		t.fn()
		return true
	}
	if len(s.timers) > 0 && !s.timers[0].when.After(s.Clock.Now()) {
		t := s.timers[0]
		s.timers = s.timers[1:]
		s.executed++
		t.fn()
		return true
	}
	return false
}

// RunUntilIdle runs tasks without advancing time until nothing is runnable
// or max tasks have run. It returns the number of tasks run.
func (s *ManualScheduler) RunUntilIdle(max int) int {
	n := 0
	for n < max && s.RunNext() {
		n++
	}
	return n
}

// AdvanceToNextTimer moves the clock to the earliest pending timer.
// It reports false when no timer is pending.
func (s *ManualScheduler) AdvanceToNextTimer() bool {
	if len(s.timers) == 0 {
		return false
	}
	if when := s.timers[0].when; when.After(s.Clock.Now()) {
		s.Clock.Set(when)
	}
	return true
}

// Simulate runs the scheduler for d of mock time. Each task is charged
// cost of mock time after it runs, which stands in for the real work a
// busy cooperative loop performs. When only timers remain the clock jumps
// to the next one. It returns the number of tasks run.
func (s *ManualScheduler) Simulate(d, cost time.Duration) int {
	if cost <= 0 {
		cost = time.Microsecond
	}
	end := s.Clock.Now().Add(d)
	n := 0
	for s.Clock.Now().Before(end) {
		if s.RunNext() {
			n++
			s.Clock.Advance(cost)
			continue
		}
		if len(s.timers) == 0 || s.timers[0].when.After(end) {
			s.Clock.Set(end)
			break
		}
		s.AdvanceToNextTimer()
	}
	return n
}
