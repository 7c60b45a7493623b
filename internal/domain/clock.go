package domain

import "time"

// Clock provides the current time. Connections stamp their last activity
// through it so heartbeat bookkeeping can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// UnixMillis returns the clock's wall time as UTC milliseconds since epoch.
// Wire frames carry timestamps in this form.
func UnixMillis(c Clock) int64 {
	return c.Now().UTC().UnixMilli()
}

var _ Clock = RealClock{}
