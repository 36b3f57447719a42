// Package interp is the pipeline interpreter: the execution loop that
// drives one resumable forward from one suspension point to the next
// (spec §4.1). It owns value normalization, dispatch by a step's dynamic
// return type, the begin/rescue/finally block-transition rules, and tail
// resumption. It knows nothing about goroutines, queues, or the registry —
// those belong to runtime, queue, and registry; interp only ever touches
// the flow and future packages plus the minimal Invoker slice of runtime
// it needs to recurse into a nested pipeline.
//
// This mirrors the teacher's runStages: a plain for-loop over a step list
// threading (value, error) forward, reporting to an optional observer
// around each step — generalized here to three step lists instead of one,
// dynamic dispatch on what a step hands back, and the ability to suspend
// mid-loop and be driven again later from exactly where it left off.
package interp

import (
	"context"
	"errors"

	"github.com/dcshock/flowrt/flow"
	"github.com/dcshock/flowrt/future"
)

// Outcome is the interpreter's verdict after running r as far as it can go
// without yielding to another goroutine: one of Result, Failed, Suspended,
// or Replaced (spec §4.1 contract, all four return shapes).
type Outcome struct {
	kind outcomeKind

	Value     any
	Err       error
	Resumable *flow.Resumable
}

type outcomeKind int

const (
	kindResult outcomeKind = iota
	kindFailed
	kindSuspended
	kindReplaced
)

// IsResult reports whether the instance terminated with a plain value.
func (o Outcome) IsResult() bool { return o.kind == kindResult }

// IsFailed reports whether the instance terminated with an uncaught error.
func (o Outcome) IsFailed() bool { return o.kind == kindFailed }

// IsSuspended reports whether o.Resumable is awaiting a promise at
// o.Resumable.State.Value (a <-chan future.Settlement).
func (o Outcome) IsSuspended() bool { return o.kind == kindSuspended }

// IsReplaced reports whether a step handed back a wholesale replacement for
// the execution stack; the caller must continue from o.Resumable.
func (o Outcome) IsReplaced() bool { return o.kind == kindReplaced }

func result(v any) Outcome          { return Outcome{kind: kindResult, Value: v} }
func failed(err error) Outcome      { return Outcome{kind: kindFailed, Err: err} }
func suspended(r *flow.Resumable) Outcome { return Outcome{kind: kindSuspended, Resumable: r} }
func replaced(r *flow.Resumable) Outcome  { return Outcome{kind: kindReplaced, Resumable: r} }

// Step runs r forward from its current (block, remaining, value) until it
// terminates, suspends on a promise, or is replaced wholesale. frames are
// the ancestor resumables currently executing synchronously in this same
// transaction, innermost first excluding r itself — empty for a top-level
// invocation. It is what flow.StepFrame.Stack is built from for any
// InterpStep encountered along the way.
func Step(inv flow.Invoker, ctx context.Context, r *flow.Resumable, frames []*flow.Resumable) Outcome {
	return run(inv, ctx, r, frames)
}

// Resume continues a previously Suspended r with the settlement its
// awaited promise produced. A settled error is treated exactly like a step
// erroring. A settled value replaces the awaited channel in State.Value;
// State.PrevValue already holds the value from before the suspension, and
// suspendOn maps a nil settlement to that same value, so a promise that
// settles with nil leaves the pipeline value as it was. A settled
// *flow.Pipeline is invoked as a nested pipeline, fed that earlier value.
func Resume(inv flow.Invoker, ctx context.Context, r *flow.Resumable, s future.Settlement, frames []*flow.Resumable) Outcome {
	if s.Err != nil {
		if stop, outcome := applyStepError(r, s.Err); stop {
			return outcome
		}
		return run(inv, ctx, r, frames)
	}
	if p, ok := s.Value.(*flow.Pipeline); ok {
		r.State.Value = r.State.PrevValue
		if stop, outcome := dispatchNestedPipeline(inv, ctx, r, frames, p); stop {
			return outcome
		}
		return run(inv, ctx, r, frames)
	}
	r.State.Value = s.Value
	return run(inv, ctx, r, frames)
}

func run(inv flow.Invoker, ctx context.Context, r *flow.Resumable, frames []*flow.Resumable) Outcome {
	for {
		if r.Tail != nil {
			if stop, outcome := driveTail(inv, ctx, r, frames); stop {
				return outcome
			}
			continue
		}

		if len(r.State.Remaining) == 0 {
			if stop, outcome := applyExhaustion(r); stop {
				return outcome
			}
			continue
		}

		step := r.State.Remaining[0]
		r.State.Remaining = r.State.Remaining[1:]
		r.State.Index++

		stepErr := r.State.Err
		r.State.Err = nil

		value, err := execute(inv, ctx, r, frames, step, stepErr)
		if err != nil {
			if stop, outcome := applyStepError(r, err); stop {
				return outcome
			}
			continue
		}

		stop, outcome := dispatch(inv, ctx, r, frames, value)
		if stop {
			return outcome
		}
	}
}

// execute runs one popped step and returns its raw produced (value, err),
// uniformly across the four step kinds. A *flow.Pipeline used directly as
// a step is handed back as a value so it flows through the same
// nested-pipeline dispatch case as a step that dynamically returns one.
func execute(inv flow.Invoker, ctx context.Context, r *flow.Resumable, frames []*flow.Resumable, step flow.Step, stepErr error) (any, error) {
	switch s := step.(type) {
	case flow.FuncStep:
		return s(ctx, r.State.Value, stepErr)
	case flow.AsyncStep:
		return s(ctx, r.State.Value, stepErr), nil
	case flow.InterpStep:
		frame := flow.StepFrame{Parent: parentOf(r, frames), Stack: stack(r, frames)}
		return s(inv, ctx, r.State.Value, stepErr, frame)
	case *flow.Pipeline:
		return s, nil
	default:
		return nil, nil
	}
}

func parentOf(r *flow.Resumable, frames []*flow.Resumable) *flow.Ident {
	id := r.Ident
	return &id
}

func stack(r *flow.Resumable, frames []*flow.Resumable) []*flow.Resumable {
	out := make([]*flow.Resumable, 0, len(frames)+1)
	out = append(out, r)
	out = append(out, frames...)
	return out
}

// dispatch inspects a freshly produced value's dynamic type and either
// mutates r in place and signals "keep looping" (stop=false), or returns a
// terminal/suspended/replaced Outcome (stop=true) — spec §4.1 "Dispatch by
// step return".
func dispatch(inv flow.Invoker, ctx context.Context, r *flow.Resumable, frames []*flow.Resumable, value any) (bool, Outcome) {
	if value == nil {
		return false, Outcome{}
	}
	if flow.IsCancelled(value) {
		return true, result(flow.Cancelled)
	}
	if next, ok := value.(*flow.Resumable); ok {
		return true, replaced(next)
	}
	if ch, ok := value.(<-chan future.Settlement); ok {
		return true, suspended(suspendOn(r, ch))
	}
	if p, ok := value.(*flow.Pipeline); ok {
		return dispatchNestedPipeline(inv, ctx, r, frames, p)
	}
	setValue(r, value)
	return false, Outcome{}
}

// dispatchNestedPipeline invokes p recursively through the runtime with
// r's current value as input (spec §4.1 "Nested pipeline"), then treats
// its result — a plain value or, if it suspended, a further promise — as
// the step's own produced value.
func dispatchNestedPipeline(inv flow.Invoker, ctx context.Context, r *flow.Resumable, frames []*flow.Resumable, p *flow.Pipeline) (bool, Outcome) {
	id := r.Ident
	res, err := inv.Invoke(ctx, p, r.State.Value, flow.InvokeOpts{Parent: &id})
	if err != nil {
		stop, outcome := applyStepError(r, err)
		return stop, outcome
	}
	return dispatch(inv, ctx, r, frames, res)
}

// suspendOn returns a clone of r suspended on ch: the clone's PrevValue is
// r's current value, and ch is re-mapped so a nil settlement value resumes
// with that value instead (spec §4.1: "a promise mapped so undefined →
// prevValue").
func suspendOn(r *flow.Resumable, ch <-chan future.Settlement) *flow.Resumable {
	before := r.State.Value
	mapped := make(chan future.Settlement, 1)
	go func() {
		s, ok := <-ch
		if !ok {
			return
		}
		if s.Err == nil && s.Value == nil {
			s.Value = before
		}
		mapped <- s
		close(mapped)
	}()
	cp := *r
	cp.State.PrevValue = before
	cp.State.Value = (<-chan future.Settlement)(mapped)
	return &cp
}

// setValue applies the value-normalization rule: nil preserves the current
// value and prevValue; anything else becomes the new current value, moving
// the old one into PrevValue (spec §4.1 rule 1).
func setValue(r *flow.Resumable, v any) {
	if v == nil {
		return
	}
	r.State.PrevValue = r.State.Value
	r.State.Value = v
}

// applyStepError implements the error half of the block-transition rules.
// stop=true means outcome is terminal; stop=false means r was transitioned
// to a new block and the caller should keep looping.
func applyStepError(r *flow.Resumable, err error) (bool, Outcome) {
	block := r.State.Block
	index := r.State.Index
	switch block {
	case flow.Begin:
		if rescue := r.Pipeline.StepsFor(flow.Rescue); len(rescue) > 0 {
			r.State.Block = flow.Rescue
			r.State.Remaining = rescue
			r.State.Index = -1
			r.State.Err = err
			return false, Outcome{}
		}
		if fin := r.Pipeline.StepsFor(flow.Finally); len(fin) > 0 {
			r.State.Block = flow.Finally
			r.State.Remaining = fin
			r.State.Index = -1
			r.State.CarryErr = err
			r.State.CarryValue = nil
			return false, Outcome{}
		}
		return true, failed(asStepError(block, index, err))

	case flow.Rescue:
		if fin := r.Pipeline.StepsFor(flow.Finally); len(fin) > 0 {
			r.State.Block = flow.Finally
			r.State.Remaining = fin
			r.State.Index = -1
			r.State.CarryErr = err
			r.State.CarryValue = nil
			return false, Outcome{}
		}
		return true, failed(asStepError(block, index, err))

	case flow.Finally:
		return true, failed(asStepError(block, index, err))
	}
	return true, failed(asStepError(block, index, err))
}

// asStepError tags err with the block and index it came from, leaving an
// already-tagged error (one propagating up from a nested pipeline or a
// drained tail) as-is rather than wrapping it a second time.
func asStepError(block flow.Block, index int, err error) error {
	var existing *flow.StepError
	if errors.As(err, &existing) {
		return err
	}
	return &flow.StepError{Block: block, Index: index, Err: err}
}

// applyExhaustion implements the exhaustion half of the block-transition
// rules, run when a block's remaining steps run out without error.
func applyExhaustion(r *flow.Resumable) (bool, Outcome) {
	switch r.State.Block {
	case flow.Begin:
		if fin := r.Pipeline.StepsFor(flow.Finally); len(fin) > 0 {
			r.State.Block = flow.Finally
			r.State.Remaining = fin
			r.State.Index = -1
			r.State.CarryValue = r.State.Value
			r.State.CarryErr = nil
			return false, Outcome{}
		}
		return true, result(r.State.Value)

	case flow.Rescue:
		if fin := r.Pipeline.StepsFor(flow.Finally); len(fin) > 0 {
			r.State.Block = flow.Finally
			r.State.Remaining = fin
			r.State.Index = -1
			r.State.CarryValue = r.State.Value
			r.State.CarryErr = nil
			return false, Outcome{}
		}
		return true, result(r.State.Value)

	case flow.Finally:
		if r.State.CarryErr != nil {
			return true, failed(r.State.CarryErr)
		}
		return true, result(r.State.CarryValue)
	}
	return true, result(r.State.Value)
}

// driveTail runs r.Tail forward to its own terminal outcome, takes that
// terminal value as r's resumed value, and clears Tail (spec §4.1 "Tail
// resumption"). If the tail itself suspends, r suspends too: the returned
// Outcome's promise settles only once the tail (and any tail of its own)
// has fully drained to a terminal value or error.
func driveTail(inv flow.Invoker, ctx context.Context, r *flow.Resumable, frames []*flow.Resumable) (bool, Outcome) {
	tail := r.Tail
	out := Step(inv, ctx, tail, frames)
	switch {
	case out.IsResult():
		r.Tail = nil
		setValue(r, out.Value)
		return false, Outcome{}
	case out.IsFailed():
		r.Tail = nil
		stop, outcome := applyStepError(r, out.Err)
		return stop, outcome
	case out.IsReplaced():
		r.Tail = out.Resumable
		return driveTail(inv, ctx, r, frames)
	default: // suspended
		ch := out.Resumable.State.Value.(<-chan future.Settlement)
		final := make(chan future.Settlement, 1)
		go func() {
			s, ok := <-ch
			if !ok {
				return
			}
			next := *out.Resumable
			if s.Err != nil {
				final <- future.Settlement{Err: s.Err}
				close(final)
				return
			}
			setValue(&next, s.Value)
			terminal := drainToTerminal(inv, ctx, &next, frames)
			final <- terminal
			close(final)
		}()
		r.Tail = nil
		cp := *r
		cp.State.Value = (<-chan future.Settlement)(final)
		return true, suspended(&cp)
	}
}

// drainToTerminal keeps stepping r (which has just been resumed with a
// settled value) until it reaches a Result or Failed outcome, folding any
// further suspension or replacement into the wait, for driveTail's
// fully-async case.
func drainToTerminal(inv flow.Invoker, ctx context.Context, r *flow.Resumable, frames []*flow.Resumable) future.Settlement {
	out := Step(inv, ctx, r, frames)
	for {
		switch {
		case out.IsResult():
			return future.Settlement{Value: out.Value}
		case out.IsFailed():
			return future.Settlement{Err: out.Err}
		case out.IsReplaced():
			out = Step(inv, ctx, out.Resumable, frames)
		default: // suspended
			ch := out.Resumable.State.Value.(<-chan future.Settlement)
			s, ok := <-ch
			if !ok {
				return future.Settlement{}
			}
			if s.Err != nil {
				return future.Settlement{Err: s.Err}
			}
			next := out.Resumable
			setValue(next, s.Value)
			out = Step(inv, ctx, next, frames)
		}
	}
}
