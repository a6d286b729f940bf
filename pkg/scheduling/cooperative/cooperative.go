// Package cooperative defines the contract between the pacing loop and the
// single-goroutine scheduler that runs it.
//
// All methods are called from the scheduler's own goroutine (that is, from
// inside a task it is running). Implementations therefore need no locking
// for these calls; cross-goroutine entry is the implementation's business
// (see eventloop.Loop.Submit).
package cooperative

import "time"

// Handle identifies a deferred task. The zero Handle never refers to a task.
type Handle uint64

// Scheduler runs deferred work on one logical thread.
type Scheduler interface {
	// DeferImmediate runs fn after the current synchronous work completes and
	// before any timer-based task that is due in the same turn.
	DeferImmediate(fn func()) Handle

	// DeferAfter runs fn no sooner than d from now.
	DeferAfter(d time.Duration, fn func()) Handle

	// Cancel drops a pending task. Unknown, fired or zero handles are ignored.
	Cancel(h Handle)
}
