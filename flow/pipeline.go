// Package flow is the runtime's data model: the immutable Pipeline template,
// the mutable Resumable snapshot of one instance's progress, the Step kinds a
// pipeline body is built from, and the builder combinators applied to a
// Pipeline value. Nothing in this package touches goroutines, channels, or
// scheduling — that belongs to interp, queue, registry, and runtime. The
// data model imports none of those four packages (only future and
// github.com/google/uuid), which is what lets them depend on flow without
// any risk of a cycle back into it.
package flow

import (
	"context"
	"fmt"
)

// Behavior is one of the five queue concurrency policies from the spec.
type Behavior int

const (
	// None means unlimited concurrency; Max must be infinite when Behavior
	// is None (pending registration under this behavior is unreachable).
	None Behavior = iota
	BehaviorRestartable
	BehaviorEnqueued
	BehaviorDropping
	BehaviorKeepLatest
)

func (b Behavior) String() string {
	switch b {
	case None:
		return "none"
	case BehaviorRestartable:
		return "restartable"
	case BehaviorEnqueued:
		return "enqueued"
	case BehaviorDropping:
		return "dropping"
	case BehaviorKeepLatest:
		return "keep-latest"
	default:
		return fmt.Sprintf("Behavior(%d)", int(b))
	}
}

// Unbounded is the "positive infinity" max for Concurrency.Max.
const Unbounded = -1

// Concurrency is a queue's concurrency configuration: a behavior plus the
// maximum number of instances allowed in {running, waiting-children} at
// once. Max == Unbounded means no cap.
type Concurrency struct {
	Behavior Behavior
	Max      int
}

// Equal reports whether two concurrency configs describe the same policy.
// Used by the queue manager to detect the "later invoke disagrees with the
// frozen queue config" fatal configuration error (spec §4.2.3).
func (c Concurrency) Equal(o Concurrency) bool {
	return c.Behavior == o.Behavior && c.Max == o.Max
}

func (c Concurrency) String() string {
	if c.Max == Unbounded {
		return fmt.Sprintf("%s(∞)", c.Behavior)
	}
	return fmt.Sprintf("%s(%d)", c.Behavior, c.Max)
}

// DefaultConcurrency is the config a freshly constructed Pipeline carries
// until a builder combinator changes it: unbounded, no queueing behavior.
var DefaultConcurrency = Concurrency{Behavior: None, Max: Unbounded}

// QueueNameFunc computes a queue name from the invocation args.
type QueueNameFunc func(args any) string

// Config is a Pipeline's concurrency/queueing/lifecycle configuration
// (spec §3). QueueName and QueueNameFn are mutually exclusive; QueueNameFn
// takes precedence when set.
type Config struct {
	QueueName   string
	QueueNameFn QueueNameFunc

	Concurrency Concurrency

	// UseExisting: a new invocation whose (id, args) matches an already-live
	// instance on the same queue returns the existing instance's result.
	UseExisting bool

	// Detached: the caller does not observe the result, and the instance is
	// excluded from its parent's cancellation subtree.
	Detached bool

	// CancelOnShutdown: whether Stop cancels this pipeline's live instances.
	// Defaults to true; set explicitly false via CancelOnShutdown(p, false).
	CancelOnShutdown bool
}

// ResolveQueueName computes the queue name for an invocation with the given
// args, per spec §4.2 "Queue selection": the function form wins if present,
// otherwise the fixed name, otherwise the caller's fallback (the pipeline id,
// or the registration key — the caller decides which fallback applies).
func (c Config) ResolveQueueName(args any, fallback string) string {
	if c.QueueNameFn != nil {
		return c.QueueNameFn(args)
	}
	if c.QueueName != "" {
		return c.QueueName
	}
	return fallback
}

// Body is a pipeline's three ordered step lists.
type Body struct {
	Begin   []Step
	Rescue  []Step
	Finally []Step
}

// Pipeline is the immutable description of a computation: three step lists
// plus a Config. ID is assigned at construction (New) and never changes;
// for a registered pipeline with an empty ID the runtime uses the
// registration key as the queue-name fallback (spec §3 "Registration").
type Pipeline struct {
	id     string
	Body   Body
	Config Config
}

// New returns a Pipeline with the given id and body, and the package default
// Config (CancelOnShutdown defaults true, per spec).
func New(id string, body Body) *Pipeline {
	return &Pipeline{
		id:   id,
		Body: body,
		Config: Config{
			Concurrency:      DefaultConcurrency,
			CancelOnShutdown: true,
		},
	}
}

// ID returns the pipeline's identifier.
func (p *Pipeline) ID() string { return p.id }

// isStep makes *Pipeline satisfy Step, so a pipeline value can be embedded
// directly in another pipeline's Body as a nested-pipeline step.
func (*Pipeline) isStep() {}

// clone returns a shallow copy of p, used by every builder combinator so
// combinators are pure functions over Pipeline values (spec §6: "applied to
// a pipeline value, returning a new one").
func (p *Pipeline) clone() *Pipeline {
	cp := *p
	return &cp
}

// SetQueue returns a copy of p with a fixed queue name.
func SetQueue(p *Pipeline, name string) *Pipeline {
	cp := p.clone()
	cp.Config.QueueName = name
	cp.Config.QueueNameFn = nil
	return cp
}

// SetQueueFunc returns a copy of p whose queue name is computed from args.
func SetQueueFunc(p *Pipeline, fn QueueNameFunc) *Pipeline {
	cp := p.clone()
	cp.Config.QueueNameFn = fn
	cp.Config.QueueName = ""
	return cp
}

// UseExisting returns a copy of p with UseExisting enabled.
func UseExisting(p *Pipeline) *Pipeline {
	cp := p.clone()
	cp.Config.UseExisting = true
	return cp
}

// Restartable returns a copy of p configured to cancel the oldest live
// instance on admission so at most max remain (default max=1).
func Restartable(p *Pipeline, max ...int) *Pipeline {
	cp := p.clone()
	cp.Config.Concurrency = Concurrency{Behavior: BehaviorRestartable, Max: firstOr(max, 1)}
	return cp
}

// Enqueued returns a copy of p configured to queue admissions beyond max
// with no peer cancellation (default max=1).
func Enqueued(p *Pipeline, max ...int) *Pipeline {
	cp := p.clone()
	cp.Config.Concurrency = Concurrency{Behavior: BehaviorEnqueued, Max: firstOr(max, 1)}
	return cp
}

// Dropping returns a copy of p configured to reject admissions beyond max
// with the Cancelled sentinel (default max=1).
func Dropping(p *Pipeline, max ...int) *Pipeline {
	cp := p.clone()
	cp.Config.Concurrency = Concurrency{Behavior: BehaviorDropping, Max: firstOr(max, 1)}
	return cp
}

// KeepLatest returns a copy of p configured to cancel every pending instance
// on each new admission, keeping only the newest pending (default max=1).
func KeepLatest(p *Pipeline, max ...int) *Pipeline {
	cp := p.clone()
	cp.Config.Concurrency = Concurrency{Behavior: BehaviorKeepLatest, Max: firstOr(max, 1)}
	return cp
}

// CancelOnShutdown returns a copy of p with the shutdown-cancellation flag
// set to flag (defaults to true when omitted).
func CancelOnShutdown(p *Pipeline, flag ...bool) *Pipeline {
	cp := p.clone()
	cp.Config.CancelOnShutdown = firstBoolOr(flag, true)
	return cp
}

// Detached returns a copy of p with the detached flag set to flag (defaults
// to true when omitted).
func Detached(p *Pipeline, flag ...bool) *Pipeline {
	cp := p.clone()
	cp.Config.Detached = firstBoolOr(flag, true)
	return cp
}

// Muted returns a pipeline that invokes p with the current value and then
// resumes with the original value unchanged: p's own result is discarded.
// p runs as a plain nested-pipeline step (its result becomes the current
// value, per the normal nested-pipeline dispatch rule); the step after it
// reads State.PrevValue off the live resumable — which the interpreter set
// to "the value before p ran" the moment p's result replaced the current
// value — to restore it. This is the same interpreter-state read that
// powers stale-while-revalidate, applied to the simplest possible case,
// and matches the design notes: no language-level scoping trick.
func Muted(p *Pipeline) *Pipeline {
	restore := InterpStep(func(_ Invoker, _ context.Context, value any, _ error, frame StepFrame) (any, error) {
		if len(frame.Stack) == 0 {
			return value, nil
		}
		return frame.Stack[0].State.PrevValue, nil
	})
	return New(p.id+"/muted", Body{
		Begin: []Step{p, restore},
	})
}

func firstOr(xs []int, def int) int {
	if len(xs) > 0 {
		return xs[0]
	}
	return def
}

func firstBoolOr(xs []bool, def bool) bool {
	if len(xs) > 0 {
		return xs[0]
	}
	return def
}
