// Package future provides the runtime's promise equivalent: a one-shot
// settlement box and a one-shot cancellation signal that can be raced against
// each other with a plain select, the way a suspended pipeline instance races
// the promise it is awaiting against its own cancellation.
package future

import (
	"context"
	"sync"
)

// Settlement is the terminal outcome of a promise-returning step: either a
// value (Err is nil) or an error (Value is ignored). A non-error rejection
// reason from foreign code should already have been normalized by the caller
// before it reaches a Settlement.
type Settlement struct {
	Value any
	Err   error
}

// Future is a single-assignment box for a Settlement. Callers observe it
// either by receiving from C, or by blocking with Await. Settle is safe to
// call more than once; only the first call has any effect, matching a
// JavaScript promise's "resolve/reject is idempotent" behavior.
type Future struct {
	ch   chan Settlement
	once sync.Once
}

// New returns an unsettled Future.
func New() *Future {
	return &Future{ch: make(chan Settlement, 1)}
}

// Settle resolves or rejects the future. Only the first call takes effect.
func (f *Future) Settle(s Settlement) {
	f.once.Do(func() {
		f.ch <- s
		close(f.ch)
	})
}

// Resolve settles the future with a value and no error.
func (f *Future) Resolve(v any) { f.Settle(Settlement{Value: v}) }

// Reject settles the future with an error.
func (f *Future) Reject(err error) { f.Settle(Settlement{Err: err}) }

// C returns the channel that will carry exactly one Settlement, then close.
// Safe to read from multiple goroutines; only the first value delivered is
// meaningful, subsequent receives return the zero Settlement with ok=false.
func (f *Future) C() <-chan Settlement { return f.ch }

// Await blocks until the future settles or ctx is done, whichever comes
// first. It does not consume ctx.Err() as the future's outcome — the caller
// distinguishes "future settled" from "context gave up" via the second
// return value.
func (f *Future) Await(ctx context.Context) (Settlement, bool) {
	select {
	case s, ok := <-f.ch:
		if !ok {
			return Settlement{}, false
		}
		return s, true
	case <-ctx.Done():
		return Settlement{}, false
	}
}

// Signal is a one-shot cancellation channel: close-able exactly once, cheap
// to select on. It is the "cancellation channel" the interpreter multiplexes
// against an awaited Future during suspension (spec §5's "race a promise
// against a signal").
type Signal struct {
	ch   chan struct{}
	once sync.Once
}

// NewSignal returns an unfired Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire closes the signal. Safe to call more than once.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns the channel that closes when Fire is called.
func (s *Signal) Done() <-chan struct{} { return s.ch }

// Fired reports whether Fire has already been called, without blocking.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
