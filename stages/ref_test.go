package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRef_LoadReturnsInitialValue(t *testing.T) {
	ref := NewRef(0)
	assert.Equal(t, 0, ref.Load())
}

func TestResetRef_SetsValueAndPreservesPipelineValue(t *testing.T) {
	ref := NewRef("old")
	step := ResetRef(ref, "new")

	v, err := step(context.Background(), "pipeline value", nil)
	require.NoError(t, err)
	assert.Nil(t, v, "ResetRef must not replace the pipeline value")
	assert.Equal(t, "new", ref.Load())
}

func TestUpdateRef_DerivesFromCurrent(t *testing.T) {
	ref := NewRef(1)
	step := UpdateRef(ref, func(current int) int { return current + 1 })

	_, err := step(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ref.Load())
}
