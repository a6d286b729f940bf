// Package clock provides the monotonic time source used by the pacing loop.
package clock

import "time"

// Clock provides the current time. It can be mocked for testing.
//
// Implementations must return readings that never go backwards. time.Now
// satisfies this because it carries a monotonic clock reading, and
// Sub/Since on such values ignore wall-clock adjustments.
type Clock interface {
	Now() time.Time
}

// System implements Clock using the runtime's monotonic clock.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time {
	return time.Now()
}

// Millis converts d to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// FromMillis converts fractional milliseconds to a Duration.
func FromMillis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
