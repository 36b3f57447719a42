package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsUnboundedAndCancelOnShutdown(t *testing.T) {
	p := New("p", Body{})
	assert.Equal(t, DefaultConcurrency, p.Config.Concurrency)
	assert.True(t, p.Config.CancelOnShutdown)
	assert.Equal(t, "p", p.ID())
}

func TestBuilderCombinators_AreCopyOnWrite(t *testing.T) {
	base := New("p", Body{})
	restarted := Restartable(base, 3)

	assert.Equal(t, DefaultConcurrency, base.Config.Concurrency, "combinator must not mutate base")
	assert.Equal(t, Concurrency{Behavior: BehaviorRestartable, Max: 3}, restarted.Config.Concurrency)
}

func TestRestartable_DefaultMaxIsOne(t *testing.T) {
	p := Restartable(New("p", Body{}))
	assert.Equal(t, 1, p.Config.Concurrency.Max)
}

func TestSetQueueFunc_ClearsFixedName(t *testing.T) {
	p := SetQueue(New("p", Body{}), "fixed")
	fn := func(any) string { return "dynamic" }
	p = SetQueueFunc(p, fn)

	assert.Empty(t, p.Config.QueueName)
	assert.Equal(t, "dynamic", p.Config.ResolveQueueName(nil, "fallback"))
}

func TestResolveQueueName_PrecedenceOrder(t *testing.T) {
	c := Config{}
	assert.Equal(t, "fallback", c.ResolveQueueName(nil, "fallback"))

	c.QueueName = "fixed"
	assert.Equal(t, "fixed", c.ResolveQueueName(nil, "fallback"))

	c.QueueNameFn = func(any) string { return "fn-wins" }
	assert.Equal(t, "fn-wins", c.ResolveQueueName(nil, "fallback"))
}

func TestDetached_DefaultsTrueWhenFlagOmitted(t *testing.T) {
	p := Detached(New("p", Body{}))
	assert.True(t, p.Config.Detached)

	p = Detached(p, false)
	assert.False(t, p.Config.Detached)
}

func TestMuted_RestoresPrevValueAfterNestedPipeline(t *testing.T) {
	inner := New("inner", Body{
		Begin: []Step{FuncStep(func(_ context.Context, value any, _ error) (any, error) {
			return "inner result", nil
		})},
	})
	muted := Muted(inner)

	require.Equal(t, "inner/muted", muted.ID())
	require.Len(t, muted.Body.Begin, 2)
	assert.Same(t, inner, muted.Body.Begin[0])

	restore, ok := muted.Body.Begin[1].(InterpStep)
	require.True(t, ok)

	r := NewResumable(muted, "original")
	r.State.Value = "inner result"
	r.State.PrevValue = "original"

	v, err := restore(nil, context.Background(), r.State.Value, nil, StepFrame{Stack: []*Resumable{r}})
	require.NoError(t, err)
	assert.Equal(t, "original", v)
}

func TestConcurrency_String(t *testing.T) {
	assert.Equal(t, "restartable(∞)", Concurrency{Behavior: BehaviorRestartable, Max: Unbounded}.String())
	assert.Equal(t, "dropping(2)", Concurrency{Behavior: BehaviorDropping, Max: 2}.String())
}
