// Package clock provides the time source and cancellable timer primitives used
// by the scheduling loops, so timing behavior can be driven deterministically
// in tests.
package clock

import "time"

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

// Token identifies a scheduled timer. Callers choose tokens; a fired token is
// only meaningful to the scheduler that issued it.
type Token uint64

// Timers schedules cancellable one-shot timers. Scheduling a token that is
// already pending replaces its deadline. Cancel suppresses delivery of a
// pending token. Fired tokens are delivered on the Fired channel.
type Timers interface {
	Schedule(d time.Duration, tok Token)
	Cancel(tok Token)
	Fired() <-chan Token
	Close()
}

// System returns a Clock backed by time.Now.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
