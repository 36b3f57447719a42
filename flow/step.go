package flow

import (
	"context"

	"github.com/dcshock/flowrt/future"
)

// Step is one unit of work inside a pipeline body. It is one of four kinds
// (spec §3/§4.1): FuncStep (a synchronous pure computation over
// (value, context, error)), AsyncStep (a call returning a promise),
// *Pipeline (a nested pipeline used directly), or InterpStep (an
// interpreter-aware "pipeline-step function"). The interface is sealed —
// isStep is unexported — so Body can only ever hold one of these four.
type Step interface {
	isStep()
}

// FuncStep is a synchronous step: given the incoming value and the error
// carried into this block (non-nil only at the first step of a rescue
// block), it returns the next value or an error. Its returned value is
// still dispatched dynamically by the interpreter (spec §4.1 "Dispatch by
// step return") — a FuncStep may itself hand back the Cancelled sentinel,
// a *Resumable, a promise, or a *Pipeline, and the interpreter reacts to
// whichever it sees, exactly as if a step of that kind had run directly.
type FuncStep func(ctx context.Context, value any, stepErr error) (any, error)

func (FuncStep) isStep() {}

// AsyncStep is a promise-returning step. The channel must eventually carry
// exactly one future.Settlement, or never carry one (in which case the
// instance stays suspended, e.g. until cancelled).
type AsyncStep func(ctx context.Context, value any, stepErr error) <-chan future.Settlement

func (AsyncStep) isStep() {}

// InterpStep is an interpreter-aware step: it additionally receives the
// Invoker (to recurse into nested pipelines the way the interpreter itself
// does) and the current StepFrame (read/write access to the live stack of
// resumables). Its return value is dispatched the same way as any other
// step's — including returning a *Resumable to replace the execution
// stack, which is the mechanism the design notes call out for stale-while-
// revalidate and ancestor-step injection.
type InterpStep func(inv Invoker, ctx context.Context, value any, stepErr error, frame StepFrame) (any, error)

func (InterpStep) isStep() {}

// StepFrame is the interpreter state visible to an InterpStep: Stack holds
// pointers to the live resumables from innermost (the one currently being
// stepped, Stack[0]) to outermost, so a step can read or mutate an
// ancestor's remaining work in place. Parent is the ident of the instance
// StepFrame's Stack[0] belongs to, for use as InvokeOpts.Parent when the
// step invokes a further nested pipeline itself.
type StepFrame struct {
	Parent *Ident
	Stack  []*Resumable
}

// InvokeOpts configures a single Invoke call.
type InvokeOpts struct {
	// Parent, when non-nil, links the new instance into the calling
	// instance's cancellation subtree (unless the invoked pipeline is
	// itself detached).
	Parent *Ident
}

// Invoker is the slice of the runtime façade the interpreter and InterpStep
// functions need to recurse into nested pipelines without flow, interp, or
// this package depending on the runtime package (which depends on all of
// them). runtime.Runtime implements it.
type Invoker interface {
	// Invoke runs p with args, admission-controlled exactly like a
	// top-level Invoke (spec §4.1 "invoke it recursively through the
	// runtime"). Returns the terminal value synchronously if p's instance
	// never suspends, otherwise a <-chan future.Settlement wrapped so the
	// caller can treat it uniformly with any other promise.
	Invoke(ctx context.Context, p *Pipeline, args any, opts InvokeOpts) (any, error)
}
