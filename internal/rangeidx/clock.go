package rangeidx

import "time"

// Clock is an interface for time-related operations, letting tests
// substitute a deterministic clock for [Revision] timestamps.
type Clock interface {
	Now() (now time.Time)
}

// SystemClock is a [Clock] that uses the functions from package time.
type SystemClock struct{}

// type check
var _ Clock = SystemClock{}

// Now implements the [Clock] interface for SystemClock.
func (SystemClock) Now() (now time.Time) { return time.Now() }
