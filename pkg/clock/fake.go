package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake implements Clock and Timers with manually controlled time. Advance moves
// the clock forward and delivers every timer whose deadline has been reached,
// in deadline order. Intended for tests.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending []fakeTimer
	fired   chan Token
}

type fakeTimer struct {
	at  time.Time
	tok Token
	seq uint64
}

// NewFake creates a fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, fired: make(chan Token, 64)}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// SetNow moves the clock to an arbitrary instant without firing timers. Moving
// it backward simulates a host clock that was wound back.
func (f *Fake) SetNow(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Schedule arms a timer at now+d, replacing any pending deadline for the token.
func (f *Fake) Schedule(d time.Duration, tok Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(tok)
	f.seq++
	f.pending = append(f.pending, fakeTimer{at: f.now.Add(d), tok: tok, seq: f.seq})
}

// Cancel suppresses a pending token.
func (f *Fake) Cancel(tok Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(tok)
}

// Fired returns the delivery channel.
func (f *Fake) Fired() <-chan Token { return f.fired }

// Close is a no-op for the fake.
func (f *Fake) Close() {}

// Advance moves the clock forward by d and delivers all timers due at the new
// instant, ordered by deadline then scheduling order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	var due []fakeTimer
	var rest []fakeTimer
	for _, t := range f.pending {
		if !t.at.After(f.now) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	f.pending = rest
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	f.mu.Unlock()

	for _, t := range due {
		f.fired <- t.tok
	}
}

// PendingCount reports how many timers are armed.
func (f *Fake) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// NextDeadline returns the earliest pending deadline, if any.
func (f *Fake) NextDeadline() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return time.Time{}, false
	}
	earliest := f.pending[0].at
	for _, t := range f.pending[1:] {
		if t.at.Before(earliest) {
			earliest = t.at
		}
	}
	return earliest, true
}

func (f *Fake) removeLocked(tok Token) {
	kept := f.pending[:0]
	for _, t := range f.pending {
		if t.tok != tok {
			kept = append(kept, t)
		}
	}
	f.pending = kept
}

var (
	_ Clock  = (*Fake)(nil)
	_ Timers = (*Fake)(nil)
)
