package clock

import "time"

// Clock provides current time abstraction for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
type RealClock struct{}

// Now returns current UTC time.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts a plain function to Clock.
type Func func() time.Time

// Now calls the wrapped function.
func (f Func) Now() time.Time {
	return f()
}

// Since returns elapsed time on clk, never negative.
// Params: clock and start time read from the same clock.
// Returns: elapsed duration.
func Since(clk Clock, start time.Time) time.Duration {
	elapsed := clk.Now().Sub(start)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
