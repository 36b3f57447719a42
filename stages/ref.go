package stages

import (
	"context"
	"sync/atomic"

	"github.com/dcshock/flowrt/flow"
)

// Ref is a typed value box a pipeline can update as a side effect while
// leaving its own return value untouched, mirroring the host state
// container an embedding UI would subscribe to. Safe to read concurrently
// from outside the runtime's dispatcher goroutine while ResetRef/UpdateRef
// write to it from inside a step.
type Ref[T any] struct {
	v atomic.Pointer[T]
}

// NewRef returns a Ref holding initial.
func NewRef[T any](initial T) *Ref[T] {
	r := &Ref[T]{}
	r.v.Store(&initial)
	return r
}

// Load returns the ref's current value.
func (r *Ref[T]) Load() T {
	if p := r.v.Load(); p != nil {
		return *p
	}
	var zero T
	return zero
}

func (r *Ref[T]) store(v T) { r.v.Store(&v) }

// ResetRef returns a step that sets ref to v and preserves the pipeline
// value (spec §6 "resetRef(ref, v)").
func ResetRef[T any](ref *Ref[T], v T) flow.FuncStep {
	return func(context.Context, any, error) (any, error) {
		ref.store(v)
		return nil, nil
	}
}

// UpdateRef returns a step that sets ref to fn(ref.Load()) and
// preserves the pipeline value (spec §6 "updateRef(ref, fn, ...)").
func UpdateRef[T any](ref *Ref[T], fn func(current T) T) flow.FuncStep {
	return func(context.Context, any, error) (any, error) {
		ref.store(fn(ref.Load()))
		return nil, nil
	}
}
