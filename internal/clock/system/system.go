// Package system provides a real clock implementation.
package system

import "time"

// Clock implements clock.Clock using the wall clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Sleep pauses the calling goroutine for d.
func (Clock) Sleep(d time.Duration) {
	time.Sleep(d)
}
