package clock

import (
	"sync"
	"time"
)

// SystemTimers implements Timers on top of time.AfterFunc.
type SystemTimers struct {
	mu      sync.Mutex
	pending map[Token]*time.Timer
	fired   chan Token
	done    chan struct{}
	closed  bool
}

// NewSystemTimers creates a Timers backed by real timers.
func NewSystemTimers() *SystemTimers {
	return &SystemTimers{
		pending: make(map[Token]*time.Timer),
		fired:   make(chan Token, 16),
		done:    make(chan struct{}),
	}
}

// Schedule arms a one-shot timer for the token, replacing any pending deadline.
func (t *SystemTimers) Schedule(d time.Duration, tok Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if old, ok := t.pending[tok]; ok {
		old.Stop()
	}
	t.pending[tok] = time.AfterFunc(d, func() { t.fire(tok) })
}

// Cancel suppresses a pending token. Cancelling an unknown token is a no-op.
func (t *SystemTimers) Cancel(tok Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.pending[tok]; ok {
		timer.Stop()
		delete(t.pending, tok)
	}
}

// Fired returns the channel on which expired tokens are delivered.
func (t *SystemTimers) Fired() <-chan Token { return t.fired }

// Close cancels all pending timers and releases any timer goroutine blocked on
// delivery. The Fired channel is not closed; readers should stop via their own
// shutdown signal.
func (t *SystemTimers) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for tok, timer := range t.pending {
		timer.Stop()
		delete(t.pending, tok)
	}
	close(t.done)
}

func (t *SystemTimers) fire(tok Token) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if _, ok := t.pending[tok]; !ok {
		// Cancelled between expiry and this callback running.
		t.mu.Unlock()
		return
	}
	delete(t.pending, tok)
	t.mu.Unlock()

	select {
	case t.fired <- tok:
	case <-t.done:
	}
}

var _ Timers = (*SystemTimers)(nil)
