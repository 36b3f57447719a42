// Package stages ports the teacher's stdlib-style stage constructors
// (pipeline.Identity/Tap/Validate/Constant/MapSlice/FilterSlice) to
// flow.FuncStep, plus the generic Ref box and ResetRef/UpdateRef helpers
// spec §6 calls for: side-effect steps whose return is always nil so the
// pipeline value rule (§4.1 rule 1, "a step producing nil preserves the
// current value") is never accidentally violated by a stage that mutates
// something other than the pipeline value itself.
package stages

import (
	"context"
	"fmt"

	"github.com/dcshock/flowrt/flow"
)

// Identity passes the current value through unchanged. Useful as a
// placeholder or a queue/rescue-block boundary marker.
func Identity() flow.FuncStep {
	return func(_ context.Context, value any, _ error) (any, error) {
		return value, nil
	}
}

// Tap calls fn(ctx, value) for its side effect and leaves the pipeline
// value untouched.
func Tap(fn func(context.Context, any)) flow.FuncStep {
	return func(ctx context.Context, value any, _ error) (any, error) {
		fn(ctx, value)
		return nil, nil
	}
}

// Validate passes the current value through only if predicate(v) holds.
// value must be of type T; a type mismatch or a failed predicate both
// produce a step error, which the interpreter routes to rescue/finally
// per the normal block-transition rules.
func Validate[T any](predicate func(T) bool, errMsg string) flow.FuncStep {
	return func(_ context.Context, value any, _ error) (any, error) {
		v, ok := value.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("validate: expected %T, got %T", zero, value)
		}
		if !predicate(v) {
			if errMsg == "" {
				errMsg = "validation failed"
			}
			return nil, fmt.Errorf("%s", errMsg)
		}
		return value, nil
	}
}

// Constant ignores the current value and replaces it with v.
func Constant(v any) flow.FuncStep {
	return func(_ context.Context, _ any, _ error) (any, error) {
		return v, nil
	}
}

// MapSlice converts a []T value to []U elementwise. A step error from
// convert or a type mismatch on the incoming value both surface as an
// ordinary step error.
func MapSlice[T, U any](convert func(context.Context, T) (U, error)) flow.FuncStep {
	return func(ctx context.Context, value any, _ error) (any, error) {
		slice, ok := value.([]T)
		if !ok {
			var zero []T
			return nil, fmt.Errorf("mapslice: expected %T, got %T", zero, value)
		}
		out := make([]U, 0, len(slice))
		for i, v := range slice {
			u, err := convert(ctx, v)
			if err != nil {
				return nil, fmt.Errorf("mapslice[%d]: %w", i, err)
			}
			out = append(out, u)
		}
		return out, nil
	}
}

// FilterSlice keeps only the elements of a []T value for which keep
// returns true.
func FilterSlice[T any](keep func(T) bool) flow.FuncStep {
	return func(_ context.Context, value any, _ error) (any, error) {
		slice, ok := value.([]T)
		if !ok {
			var zero []T
			return nil, fmt.Errorf("filterslice: expected %T, got %T", zero, value)
		}
		out := make([]T, 0, len(slice))
		for _, v := range slice {
			if keep(v) {
				out = append(out, v)
			}
		}
		return out, nil
	}
}
