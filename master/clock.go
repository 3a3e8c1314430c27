package master

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrNilClock is returned by WithClock(nil).
var ErrNilClock = errors.New("clock must not be nil")

// Clock supplies the instants written to the version and correction axes.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// MonotonicClock never returns the same instant twice and never goes backwards,
// even when the wrapped clock does.
type MonotonicClock struct {
	source Clock
	last   atomic.Int64
}

// NewMonotonicClock wraps source. Wrapping a MonotonicClock returns it unchanged.
func NewMonotonicClock(source Clock) *MonotonicClock {
	if mc, ok := source.(*MonotonicClock); ok {
		return mc
	}

	return &MonotonicClock{source: source}
}

// Now returns max(source, previous+1ns) in UTC.
func (c *MonotonicClock) Now() time.Time {
	for {
		prev := c.last.Load()
		next := c.source.Now().UnixNano()

		if next <= prev {
			next = prev + 1
		}

		if c.last.CompareAndSwap(prev, next) {
			return time.Unix(0, next).UTC()
		}
	}
}

// after returns an instant from clock that is strictly later than floor.
func after(clock Clock, floor time.Time) time.Time {
	now := clock.Now()
	if !now.After(floor) {
		return floor.Add(time.Nanosecond).UTC()
	}

	return now
}
