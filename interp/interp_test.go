package interp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcshock/flowrt/flow"
	"github.com/dcshock/flowrt/future"
)

// noopInvoker satisfies flow.Invoker for tests that never dispatch a nested
// pipeline.
type noopInvoker struct{}

func (noopInvoker) Invoke(context.Context, *flow.Pipeline, any, flow.InvokeOpts) (any, error) {
	return nil, errors.New("unexpected nested invoke")
}

func upper() flow.FuncStep {
	return func(_ context.Context, value any, _ error) (any, error) {
		s, _ := value.(string)
		return s + "!", nil
	}
}

func failWith(err error) flow.FuncStep {
	return func(context.Context, any, error) (any, error) {
		return nil, err
	}
}

func TestStep_RunsBeginToResult(t *testing.T) {
	p := flow.New("p", flow.Body{Begin: []flow.Step{upper(), upper()}})
	r := flow.NewResumable(p, "hi")

	out := Step(noopInvoker{}, context.Background(), r, nil)
	require.True(t, out.IsResult())
	assert.Equal(t, "hi!!", out.Value)
}

func TestStep_NilStepValuePreservesCurrent(t *testing.T) {
	noop := flow.FuncStep(func(context.Context, any, error) (any, error) { return nil, nil })
	p := flow.New("p", flow.Body{Begin: []flow.Step{noop, upper()}})
	r := flow.NewResumable(p, "hi")

	out := Step(noopInvoker{}, context.Background(), r, nil)
	require.True(t, out.IsResult())
	assert.Equal(t, "hi!", out.Value)
}

func TestStep_UncaughtBeginErrorFails(t *testing.T) {
	boom := errors.New("boom")
	p := flow.New("p", flow.Body{Begin: []flow.Step{failWith(boom)}})
	r := flow.NewResumable(p, nil)

	out := Step(noopInvoker{}, context.Background(), r, nil)
	require.True(t, out.IsFailed())

	var se *flow.StepError
	require.ErrorAs(t, out.Err, &se)
	assert.Equal(t, flow.Begin, se.Block)
	assert.Equal(t, 0, se.Index)
	assert.ErrorIs(t, se, boom)
}

func TestStep_RescueRecoversBeginError(t *testing.T) {
	boom := errors.New("boom")
	p := flow.New("p", flow.Body{
		Begin:  []flow.Step{failWith(boom)},
		Rescue: []flow.Step{flow.FuncStep(func(_ context.Context, _ any, stepErr error) (any, error) {
			return "recovered:" + stepErr.Error(), nil
		})},
	})
	r := flow.NewResumable(p, nil)

	out := Step(noopInvoker{}, context.Background(), r, nil)
	require.True(t, out.IsResult())
	assert.Equal(t, "recovered:boom", out.Value)
}

func TestStep_FinallyRunsAfterCleanExitAndSeesValue(t *testing.T) {
	var sawInFinally any
	p := flow.New("p", flow.Body{
		Begin: []flow.Step{upper()},
		Finally: []flow.Step{flow.FuncStep(func(_ context.Context, value any, _ error) (any, error) {
			sawInFinally = value
			return nil, nil
		})},
	})
	r := flow.NewResumable(p, "hi")

	out := Step(noopInvoker{}, context.Background(), r, nil)
	require.True(t, out.IsResult())
	assert.Equal(t, "hi!", out.Value)
	assert.Equal(t, "hi!", sawInFinally)
}

func TestStep_FinallyTerminatesWithCarriedErrorWhenItDoesNotOverride(t *testing.T) {
	boom := errors.New("boom")
	var ranFinally bool
	p := flow.New("p", flow.Body{
		Begin: []flow.Step{failWith(boom)},
		Finally: []flow.Step{flow.FuncStep(func(context.Context, any, error) (any, error) {
			ranFinally = true
			return nil, nil
		})},
	})
	r := flow.NewResumable(p, nil)

	out := Step(noopInvoker{}, context.Background(), r, nil)
	require.True(t, out.IsFailed())
	assert.True(t, ranFinally)
	assert.ErrorIs(t, out.Err, boom)
}

func TestStep_FinallyErrorOverridesCarriedError(t *testing.T) {
	boom := errors.New("boom")
	override := errors.New("finally failed too")
	p := flow.New("p", flow.Body{
		Begin:   []flow.Step{failWith(boom)},
		Finally: []flow.Step{failWith(override)},
	})
	r := flow.NewResumable(p, nil)

	out := Step(noopInvoker{}, context.Background(), r, nil)
	require.True(t, out.IsFailed())
	assert.ErrorIs(t, out.Err, override)
	assert.NotErrorIs(t, out.Err, boom)
}

func TestStep_AsyncStepSuspendsThenResumeContinues(t *testing.T) {
	p := flow.New("p", flow.Body{
		Begin: []flow.Step{
			flow.AsyncStep(func(context.Context, any, error) <-chan future.Settlement {
				f := future.New()
				f.Resolve("fetched")
				return f.C()
			}),
			upper(),
		},
	})
	r := flow.NewResumable(p, nil)

	out := Step(noopInvoker{}, context.Background(), r, nil)
	require.True(t, out.IsSuspended())

	ch, ok := out.Resumable.State.Value.(<-chan future.Settlement)
	require.True(t, ok)
	s := <-ch

	final := Resume(noopInvoker{}, context.Background(), out.Resumable, s, nil)
	require.True(t, final.IsResult())
	assert.Equal(t, "fetched!", final.Value)
}

func TestStep_NestedPipelineDispatchesRecursively(t *testing.T) {
	inner := flow.New("inner", flow.Body{Begin: []flow.Step{upper()}})
	outer := flow.New("outer", flow.Body{Begin: []flow.Step{inner}})
	r := flow.NewResumable(outer, "hi")

	inv := invokerFunc(func(ctx context.Context, p *flow.Pipeline, args any, _ flow.InvokeOpts) (any, error) {
		assert.Same(t, inner, p)
		return Step(noopInvoker{}, ctx, flow.NewResumable(p, args), nil).Value, nil
	})

	out := Step(inv, context.Background(), r, nil)
	require.True(t, out.IsResult())
	assert.Equal(t, "hi!", out.Value)
}

func TestStep_CancelledValueTerminatesImmediately(t *testing.T) {
	p := flow.New("p", flow.Body{
		Begin: []flow.Step{flow.FuncStep(func(context.Context, any, error) (any, error) {
			return flow.Cancelled, nil
		})},
	})
	r := flow.NewResumable(p, nil)

	out := Step(noopInvoker{}, context.Background(), r, nil)
	require.True(t, out.IsResult())
	assert.True(t, flow.IsCancelled(out.Value))
}

type invokerFunc func(context.Context, *flow.Pipeline, any, flow.InvokeOpts) (any, error)

func (f invokerFunc) Invoke(ctx context.Context, p *flow.Pipeline, args any, opts flow.InvokeOpts) (any, error) {
	return f(ctx, p, args, opts)
}
