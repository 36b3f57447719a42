package httpstages

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpect_PassesValueThroughWhenPredicateHolds(t *testing.T) {
	step := Expect(func(v any) error {
		m, ok := v.(map[string]any)
		if !ok {
			return errors.New("not a map")
		}
		if m["status"] != "ok" {
			return errors.New("status not ok")
		}
		return nil
	})

	out, err := step(context.Background(), map[string]any{"status": "ok"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.(map[string]any)["status"])
}

func TestExpect_FailsWhenPredicateErrors(t *testing.T) {
	step := Expect(func(any) error { return errors.New("nope") })

	_, err := step(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestExpectEqual_PassesWhenEqual(t *testing.T) {
	step := ExpectEqual(map[string]any{"a": float64(1)})

	out, err := step(context.Background(), map[string]any{"a": float64(1)}, nil)
	require.NoError(t, err)
	assert.NotNil(t, out)
}

func TestExpectEqual_FailsWhenNotEqual(t *testing.T) {
	step := ExpectEqual("expected")

	_, err := step(context.Background(), "other", nil)
	require.Error(t, err)
}
