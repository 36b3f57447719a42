package runtime

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/multierr"

	"github.com/dcshock/flowrt/flow"
	"github.com/dcshock/flowrt/future"
	"github.com/dcshock/flowrt/interp"
	"github.com/dcshock/flowrt/queue"
	"github.com/dcshock/flowrt/registry"
)

// Invoke runs pipelineRef — a registered key (string) or a *flow.Pipeline
// value — with args (spec §4.4). Synchronous top-level entry point: builds
// a command, waits for the dispatcher to run it, and returns exactly what
// invokeInternal decided (a direct value, an error, a promise channel, or
// nothing for a detached instance).
func (rt *Runtime) Invoke(ctx context.Context, pipelineRef any, args any, opts flow.InvokeOpts) (any, error) {
	type result struct {
		value any
		err   error
	}
	r := submit(rt, func() result {
		if rt.stopping {
			return result{nil, errStopping}
		}
		p, key, ok := rt.resolveRef(pipelineRef)
		if !ok {
			return result{nil, &unknownPipelineError{ref: pipelineRef}}
		}
		v, err := rt.invokeInternal(ctx, p, args, opts, key)
		return result{v, err}
	})
	return r.value, r.err
}

// errStopping is returned by Invoke once Stop has been called; the runtime
// keeps running only to let already-live instances finish.
var errStopping = errors.New("runtime: stopping, not accepting new invocations")

func (rt *Runtime) resolveRef(ref any) (p *flow.Pipeline, key string, ok bool) {
	switch v := ref.(type) {
	case string:
		p, ok = rt.pipelines[v]
		return p, v, ok
	case *flow.Pipeline:
		return v, v.ID(), true
	default:
		return nil, "", false
	}
}

type unknownPipelineError struct{ ref any }

func (e *unknownPipelineError) Error() string {
	return "runtime: unknown pipeline reference"
}

// invokeInternal implements admission (spec §4.2) followed by, when
// admitted to run immediately, driving the interpreter. Must run on the
// dispatcher goroutine.
func (rt *Runtime) invokeInternal(ctx context.Context, p *flow.Pipeline, args any, opts flow.InvokeOpts, fallbackKey string) (any, error) {
	queueName := p.Config.ResolveQueueName(args, firstNonEmpty(p.ID(), fallbackKey))

	if p.Config.UseExisting {
		if existing := rt.findExisting(queueName, p.ID(), args); existing != nil {
			if p.Config.Detached {
				return nil, nil
			}
			return existing.Deferred.C(), nil
		}
	}

	decision, toCancel, err := rt.queues.Decide(queueName, p.Config.Concurrency)
	if err != nil {
		return nil, err
	}
	for _, id := range toCancel {
		rt.cancelLocked(id)
	}
	if decision == queue.Drop {
		return flow.Cancelled, nil
	}

	res := flow.NewResumable(p, args)
	inst := &registry.Instance{
		Ident:            res.Ident,
		QueueName:        queueName,
		Resumable:        res,
		State:            registry.Pending,
		Parent:           opts.Parent,
		Canceller:        future.NewSignal(),
		Deferred:         future.New(),
		Detached:         p.Config.Detached,
		CancelOnShutdown: p.Config.CancelOnShutdown,
	}
	rt.reg.Add(inst)
	rt.queues.Commit(queueName, inst.Ident, decision)
	rt.watch("instance.state", inst.Ident, nil, registry.Pending)

	if decision == queue.Pending {
		if p.Config.Detached {
			return nil, nil
		}
		return inst.Deferred.C(), nil
	}

	inst.State = registry.Running
	rt.watch("instance.state", inst.Ident, registry.Pending, registry.Running)
	return rt.runInstance(ctx, inst)
}

// findExisting looks up a live instance on queueName whose pipeline id and
// args match exactly (spec §4.2 step 1, "identical (id, args)").
func (rt *Runtime) findExisting(queueName, id string, args any) *registry.Instance {
	for _, inst := range rt.reg.Snapshot() {
		if inst.QueueName != queueName {
			continue
		}
		if inst.Resumable.Pipeline.ID() != id {
			continue
		}
		if reflect.DeepEqual(inst.Resumable.Args, args) {
			return inst
		}
	}
	return nil
}

// nestedInvoker adapts *Runtime to flow.Invoker for the interpreter's nested-
// pipeline dispatch: it recurses straight into invokeInternal, since the
// interpreter only ever drives an instance from a call already running on
// the dispatcher goroutine (going back through the public Invoke's submit
// would deadlock).
type nestedInvoker struct{ rt *Runtime }

func (n nestedInvoker) Invoke(ctx context.Context, p *flow.Pipeline, args any, opts flow.InvokeOpts) (any, error) {
	return n.rt.invokeInternal(ctx, p, args, opts, p.ID())
}

// runInstance drives inst's interpreter forward until it terminates or
// suspends, looping through any number of Replaced outcomes along the way
// (spec §4.1: a resumable-state result is not itself a suspension — the
// caller just keeps driving the replacement).
func (rt *Runtime) runInstance(ctx context.Context, inst *registry.Instance) (any, error) {
	inv := nestedInvoker{rt}
	out := interp.Step(inv, ctx, inst.Resumable, nil)
	for out.IsReplaced() {
		inst.Resumable = out.Resumable
		out = interp.Step(inv, ctx, inst.Resumable, nil)
	}

	switch {
	case out.IsResult():
		rt.completeInstance(inst, out.Value, nil)
		if inst.Detached {
			return nil, nil
		}
		return out.Value, nil

	case out.IsFailed():
		rt.reportOnce(inst, out.Err)
		rt.completeInstance(inst, nil, out.Err)
		if inst.Detached {
			return nil, nil
		}
		return nil, out.Err

	default: // suspended
		inst.Resumable = out.Resumable
		rt.awaitSuspension(ctx, inst)
		if inst.Detached {
			return nil, nil
		}
		return inst.Deferred.C(), nil
	}
}

// awaitSuspension spawns the forwarding goroutine that races inst's
// awaited promise against its cancellation signal (spec §5 "race a
// promise against a signal") and relays whichever settles first back onto
// the dispatcher as a single command.
func (rt *Runtime) awaitSuspension(ctx context.Context, inst *registry.Instance) {
	ch, ok := inst.Resumable.State.Value.(<-chan future.Settlement)
	if !ok {
		// Nothing to await; treat as an immediate settlement with the
		// current value so the instance still makes progress.
		ch = closedSettlement(future.Settlement{Value: inst.Resumable.State.Value})
	}
	go func() {
		select {
		case s, chOK := <-ch:
			if !chOK {
				return
			}
			rt.deliver(func() { rt.resumeAfterSettlement(ctx, inst, s) })
		case <-inst.Canceller.Done():
			rt.opts.OnCancel(ch)
		case <-rt.ctx.Done():
		}
	}()
}

func closedSettlement(s future.Settlement) <-chan future.Settlement {
	ch := make(chan future.Settlement, 1)
	ch <- s
	close(ch)
	return ch
}

// deliver enqueues fn on the dispatcher without waiting for a reply,
// dropped silently if the runtime has already stopped.
func (rt *Runtime) deliver(fn func()) {
	select {
	case rt.cmds <- fn:
	case <-rt.ctx.Done():
	}
}

// resumeAfterSettlement continues inst with a settlement its awaited
// promise produced, then drives it the same way runInstance does.
func (rt *Runtime) resumeAfterSettlement(ctx context.Context, inst *registry.Instance, s future.Settlement) {
	if _, live := rt.reg.Get(inst.Ident); !live {
		return
	}
	inv := nestedInvoker{rt}
	out := interp.Resume(inv, ctx, inst.Resumable, s, nil)
	for out.IsReplaced() {
		inst.Resumable = out.Resumable
		out = interp.Step(inv, ctx, inst.Resumable, nil)
	}
	switch {
	case out.IsResult():
		rt.completeInstance(inst, out.Value, nil)
	case out.IsFailed():
		rt.reportOnce(inst, out.Err)
		rt.completeInstance(inst, nil, out.Err)
	default: // suspended again
		inst.Resumable = out.Resumable
		rt.awaitSuspension(ctx, inst)
	}
}

// completeInstance implements spec §4.2 "Completion handling" for a
// natural (non-cancelled) terminal outcome: settle the deferred result,
// record last result/error on the queue, release the instance (or park it
// waiting-children), and promote whatever startNext admits on every queue
// this touched. Cancellation completion is handled entirely by
// cancelLocked/registry.Cancel instead — a cancelled subtree is removed as
// one atomic traversal, so there is never a waiting-children instance left
// dangling the way natural per-instance completion can leave one.
func (rt *Runtime) completeInstance(inst *registry.Instance, value any, err error) {
	if err != nil {
		inst.Deferred.Settle(future.Settlement{Err: err})
	} else {
		inst.Deferred.Settle(future.Settlement{Value: value})
	}

	removed, parent := rt.reg.Complete(inst.Ident)
	if !removed {
		rt.watch("instance.state", inst.Ident, registry.Running, registry.WaitingChildren)
		return
	}
	rt.watch("instance.state", inst.Ident, registry.Running, nil)

	affected := map[string]bool{inst.QueueName: true}
	rt.queues.Remove(inst.QueueName, inst.Ident, queue.Outcome{Value: value, Err: err})

	for _, drained := range rt.reg.DrainParent(parent) {
		rt.queues.Remove(drained.QueueName, drained.Ident, queue.Outcome{})
		affected[drained.QueueName] = true
	}

	rt.startNextAll(affected)
	rt.maybeFinishStopping()
}

// startNextAll promotes and runs whatever queue.StartNext admits on every
// queue name in affected (spec §4.2 step 4 / §4.3 "call startNext on each
// affected queue exactly once").
func (rt *Runtime) startNextAll(affected map[string]bool) {
	for queueName := range affected {
		for _, id := range rt.queues.StartNext(queueName) {
			inst, ok := rt.reg.Get(id)
			if !ok {
				continue
			}
			inst.State = registry.Running
			rt.watch("instance.state", inst.Ident, registry.Pending, registry.Running)
			rt.runInstance(rt.ctx, inst)
		}
	}
}

// cancelLocked runs structured cancellation for id (spec §4.3) and does
// the corresponding queue bookkeeping. Must run on the dispatcher
// goroutine.
// cancelLocked cancels id's subtree and reports an error when id names no
// live instance (already completed, already cancelled, or never invoked) —
// the per-ident failure CancelAll aggregates across a whole batch.
func (rt *Runtime) cancelLocked(id flow.Ident) error {
	results := rt.reg.Cancel(id)
	if len(results) == 0 {
		return fmt.Errorf("runtime: cancel %s: no live instance", id)
	}
	affected := make(map[string]bool, len(results))
	for _, res := range results {
		affected[res.QueueName] = true
		rt.queues.Remove(res.QueueName, res.Ident, queue.Outcome{Cancelled: true})
		rt.watch("instance.state", res.Ident, registry.Running, registry.Cancelled)
	}
	rt.startNextAll(affected)
	rt.maybeFinishStopping()
	return nil
}

// Cancel cancels id's cancellation subtree (spec §4.3).
func (rt *Runtime) Cancel(id flow.Ident) error {
	return submit(rt, func() error {
		return rt.cancelLocked(id)
	})
}

// CancelAll cancels every ident in ids (spec §6 "iterate cancel"),
// aggregating any per-ident failures with go.uber.org/multierr rather than
// stopping at the first one, so one stale ident in a batch doesn't prevent
// the rest from being cancelled.
func (rt *Runtime) CancelAll(ids []flow.Ident) error {
	return submit(rt, func() error {
		var err error
		for _, id := range ids {
			err = multierr.Append(err, rt.cancelLocked(id))
		}
		return err
	})
}

func firstNonEmpty(xs ...string) string {
	for _, x := range xs {
		if x != "" {
			return x
		}
	}
	return ""
}
