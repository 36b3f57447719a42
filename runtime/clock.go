package runtime

import "time"

// Clock is the runtime's view of time, settable through Options.Clock. The
// default wraps the standard library. No runtime or queue code path reads
// it, and no test substitutes a fake.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
