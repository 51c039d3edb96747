// Package clock abstracts time for components that need to be tested with
// a controllable clock.
package clock

import "time"

// Clock returns the current time and sleeps; fakes substitute both in tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}
