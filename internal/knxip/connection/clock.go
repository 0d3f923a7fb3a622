package connection

import "time"

// Timer is a pending callback armed by a Clock.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the
	// timer was still pending.
	Stop() bool
}

// Clock supplies time to the machine. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
