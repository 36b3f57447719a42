package httpstages

import (
	"context"
	"fmt"
	"reflect"

	"github.com/dcshock/flowrt/flow"
)

// Expect returns a step that runs predicate on the incoming value. If
// predicate returns an error, the step fails with it, routing to
// rescue/finally the same as any other step error. Otherwise the value
// passes through unchanged. Use after ParseJSON to verify a decoded result
// (a status field, required keys, ...).
func Expect(predicate func(any) error) flow.FuncStep {
	if predicate == nil {
		panic("httpstages.Expect: predicate must not be nil")
	}
	return func(_ context.Context, value any, _ error) (any, error) {
		if err := predicate(value); err != nil {
			return nil, fmt.Errorf("expect: %w", err)
		}
		return value, nil
	}
}

// ExpectEqual returns a step that checks the incoming value equals expected
// using reflect.DeepEqual. Works for primitives, slices, and maps (e.g.
// parsed JSON).
func ExpectEqual(expected any) flow.FuncStep {
	return Expect(func(v any) error {
		if !reflect.DeepEqual(v, expected) {
			return fmt.Errorf("got %v, want %v", v, expected)
		}
		return nil
	})
}
