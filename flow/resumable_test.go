package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewResumable_StartsInBeginWithArgsAsValue(t *testing.T) {
	p := New("p", Body{Begin: []Step{Identity(t)}})
	r := NewResumable(p, "args")

	assert.Equal(t, Begin, r.State.Block)
	assert.Equal(t, "args", r.State.Value)
	assert.Equal(t, "args", r.Args)
	assert.Equal(t, -1, r.State.Index)
	assert.Len(t, r.State.Remaining, 1)
}

func TestStepsFor_ReturnsDefensiveCopy(t *testing.T) {
	p := New("p", Body{Rescue: []Step{Identity(t)}})
	steps := p.StepsFor(Rescue)
	steps[0] = nil

	again := p.StepsFor(Rescue)
	assert.NotNil(t, again[0], "mutating a returned slice must not affect the pipeline body")
}

func TestIdent_StringIncludesPipelineID(t *testing.T) {
	id := NewIdent("my-pipeline")
	assert.Contains(t, id.String(), "my-pipeline")
}

// Identity is a tiny local FuncStep so this file doesn't need to import the
// stages package (which itself depends on flow).
func Identity(t *testing.T) Step {
	t.Helper()
	return FuncStep(func(_ context.Context, value any, _ error) (any, error) {
		return value, nil
	})
}
