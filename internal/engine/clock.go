package engine

import "time"

// timerHandle is the clearable half of a deferred callback. Stop reports
// whether the call was prevented; stopping an already-fired or already-
// stopped timer is a no-op.
type timerHandle interface {
	Stop() bool
}

// clock abstracts time so timer choreography is testable without sleeping.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) timerHandle
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) timerHandle {
	return time.AfterFunc(d, f)
}
