// Package clock abstracts the time operations used by the circle
// coordinator so deferred checks can be driven deterministically in tests.
package clock

import "time"

// Clock is injected wherever production code would call time.Now or
// time.AfterFunc.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f after d elapses. The returned Timer cancels the
	// pending call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop reports whether the call was prevented from running.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
