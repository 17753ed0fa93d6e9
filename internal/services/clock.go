package services

import "time"

// Clock provides current time so the engine and scorer can be driven by
// virtual time in tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}
