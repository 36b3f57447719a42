// Package runtime is the façade the rest of a program talks to: Start,
// Invoke, Cancel, Stop, and friends from spec §4.4/§6. It owns the single
// dispatcher goroutine that is the whole concurrency story of this module
// (spec §5 "single-threaded, cooperative, no preemption"): every public
// method here builds a small command closure and sends it down one
// channel; the dispatcher goroutine drains that channel and is the only
// thing that ever touches the registry, the queue manager, or a
// resumable's state. Work that takes real time — a flow.AsyncStep, a
// nested invoke that itself suspends — runs on its own goroutine and
// reports back exactly once through a future.Settlement, observed by a
// small forwarding goroutine that races it against the instance's
// cancellation signal and relays the winner as one more command.
//
// The shape is the teacher's Observer hooks and runStages loop generalized
// from "one pipeline, one goroutine, stages run to completion" to "many
// concurrently-invoked pipelines, each cooperatively interleaved on one
// goroutine, suspending on promises instead of blocking".
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/dcshock/flowrt/flow"
	"github.com/dcshock/flowrt/future"
	"github.com/dcshock/flowrt/queue"
	"github.com/dcshock/flowrt/registry"
	"github.com/dcshock/flowrt/watch"
)

// Options configures a Runtime at Start.
type Options struct {
	// Transactor, if set, wraps every synchronous burst of interpreter
	// progress; it must invoke its argument synchronously on the calling
	// goroutine (spec §5). Defaults to calling the function directly.
	Transactor func(fn func())

	// Watcher observes every state mutation as (key, ref, old, new).
	// Defaults to a no-op.
	Watcher watch.Watcher

	// ErrorReporter receives each top-level error exactly once, only when
	// no rescue block caught it. Defaults to a no-op; the default does not
	// log.
	ErrorReporter func(error)

	// OnCancel notifies the host that an in-flight promise is being
	// abandoned because its instance was cancelled. Defaults to no-op.
	OnCancel func(<-chan future.Settlement)

	// Clock is stored on the Runtime and defaults to the real wall clock.
	// No runtime or queue code path reads it.
	Clock Clock
}

// ActiveInstance is one entry of a GetActive snapshot.
type ActiveInstance struct {
	Ident  flow.Ident
	State  registry.InstanceState
	Args   any
	Config flow.Config
}

// Runtime is the live pipeline runtime: registered pipelines plus the
// dispatcher goroutine's owned state (registry, queues, depth counter).
// Every field below Options is touched only by the dispatcher goroutine.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc

	cmds chan func()
	wg   sync.WaitGroup

	opts      Options
	pipelines map[string]*flow.Pipeline

	reg    *registry.Registry
	queues *queue.Manager

	depth int

	// stopping is set by Stop before it cancels anything, so Invoke can
	// reject new work immediately instead of admitting an instance the
	// dispatcher is already winding down (spec §4.3/§6 shutdown).
	stopping bool
}

// Start registers pipelines and launches the dispatcher goroutine. The
// pipelines map's keys are the registration keys used as a fallback queue
// name and Invoke lookup key for pipelines with no explicit id (spec §3
// "Registration").
func Start(ctx context.Context, pipelines map[string]*flow.Pipeline, opts Options) *Runtime {
	if opts.Transactor == nil {
		opts.Transactor = func(fn func()) { fn() }
	}
	if opts.Watcher == nil {
		opts.Watcher = watch.Noop{}
	}
	if opts.ErrorReporter == nil {
		opts.ErrorReporter = func(error) {}
	}
	if opts.OnCancel == nil {
		opts.OnCancel = func(<-chan future.Settlement) {}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}

	rctx, cancel := context.WithCancel(ctx)
	rt := &Runtime{
		ctx:       rctx,
		cancel:    cancel,
		cmds:      make(chan func(), 64),
		opts:      opts,
		pipelines: make(map[string]*flow.Pipeline, len(pipelines)),
		reg:       registry.New(),
		queues:    queue.NewManager(),
	}
	for key, p := range pipelines {
		rt.pipelines[key] = p
	}

	rt.wg.Add(1)
	go rt.loop()
	return rt
}

func (rt *Runtime) loop() {
	defer rt.wg.Done()
	for {
		select {
		case cmd := <-rt.cmds:
			rt.opts.Transactor(cmd)
		case <-rt.ctx.Done():
			rt.drainPending()
			return
		}
	}
}

// drainPending runs any commands already queued before shutdown so
// in-flight settlement deliveries aren't silently dropped.
func (rt *Runtime) drainPending() {
	for {
		select {
		case cmd := <-rt.cmds:
			rt.opts.Transactor(cmd)
		default:
			return
		}
	}
}

// submit sends fn to the dispatcher and blocks until it runs, returning
// its result via a closed-over channel — the pattern every synchronous
// façade method below uses.
func submit[T any](rt *Runtime, fn func() T) T {
	reply := make(chan T, 1)
	select {
	case rt.cmds <- func() { reply <- fn() }:
	case <-rt.ctx.Done():
		var zero T
		return zero
	}
	select {
	case v := <-reply:
		return v
	case <-rt.ctx.Done():
		var zero T
		return zero
	}
}

// HasPipeline reports whether name is a registered pipeline key.
func (rt *Runtime) HasPipeline(name string) bool {
	return submit(rt, func() bool {
		_, ok := rt.pipelines[name]
		return ok
	})
}

// InPipeline reports whether the dispatcher is currently inside interpreter
// execution — true for an InterpStep or a pipeline-step function invoked
// while Invoke is resolving synchronously, via the depth counter Transact
// maintains.
func (rt *Runtime) InPipeline() bool {
	return submit(rt, func() bool { return rt.depth > 0 })
}

// Transact runs fn with the pipeline-depth counter incremented, delegating
// to opts.Transactor exactly once for the whole call (spec §4.4 "transact").
// It must be called from outside the dispatcher goroutine's own cmd
// execution (a re-entrant call from an InterpStep should just use
// InPipeline/submit directly; Transact itself is the outward-facing host
// integration point).
func (rt *Runtime) Transact(fn func()) {
	done := make(chan struct{})
	select {
	case rt.cmds <- func() {
		rt.depth++
		fn()
		rt.depth--
		close(done)
	}:
	case <-rt.ctx.Done():
		return
	}
	select {
	case <-done:
	case <-rt.ctx.Done():
	}
}

// reportOnce invokes the host error reporter at most once per instance, so
// a top-level error reaching ReportError via more than one propagation
// path (sync failure vs. an async settlement arriving later) is still
// only ever surfaced a single time (spec §7 "at most once per originating
// error"). A non-detached instance with a parent does not report at all:
// its error becomes the parent's step error, and the parent reports it
// only if no rescue of its own catches it.
func (rt *Runtime) reportOnce(inst *registry.Instance, err error) {
	if inst.Reported {
		return
	}
	inst.Reported = true
	if inst.Parent != nil && !inst.Detached {
		return
	}
	rt.opts.ErrorReporter(err)
}

// GetActive returns a snapshot of queueName -> ident -> instance info for
// every queue with at least one member (spec §4.4 "getActive").
func (rt *Runtime) GetActive() map[string]map[flow.Ident]ActiveInstance {
	return submit(rt, func() map[string]map[flow.Ident]ActiveInstance {
		out := make(map[string]map[flow.Ident]ActiveInstance)
		for _, inst := range rt.reg.Snapshot() {
			m, ok := out[inst.QueueName]
			if !ok {
				m = make(map[flow.Ident]ActiveInstance)
				out[inst.QueueName] = m
			}
			m[inst.Ident] = ActiveInstance{
				Ident:  inst.Ident,
				State:  inst.State,
				Args:   inst.Resumable.Args,
				Config: inst.Resumable.Config,
			}
		}
		return out
	})
}

// ReportError routes err through the host's configured ErrorReporter, for
// callers integrating foreign error paths (e.g. an out-of-band failure
// detected outside any pipeline step) with the same sink pipeline errors
// use (spec §4.4 "reportError").
func (rt *Runtime) ReportError(err error) {
	submit(rt, func() struct{} {
		rt.opts.ErrorReporter(err)
		return struct{}{}
	})
}

func (rt *Runtime) watch(key string, ref flow.Ident, old, new any) {
	rt.opts.Watcher.OnChange(key, fmt.Sprint(ref), old, new)
}

// Stop cancels every live instance with CancelOnShutdown set, using the
// same structured cancellation as Cancel, then blocks until every
// remaining live instance — the ones with CancelOnShutdown=false — has
// actually run to completion (spec §4.3/§6: those survivors keep making
// progress and mutating state, they are not merely left unreachable) and
// only then shuts the dispatcher goroutine down. Once Stop has been
// called, Invoke rejects any further work rather than admitting a new
// instance into a runtime that is winding down.
func (rt *Runtime) Stop() {
	submit(rt, func() struct{} {
		rt.stopping = true
		for _, id := range rt.reg.LiveOnShutdown() {
			rt.cancelLocked(id)
		}
		rt.maybeFinishStopping()
		return struct{}{}
	})
	rt.wg.Wait()
}

// maybeFinishStopping tears the dispatcher down once Stop has been called
// and the registry holds no more live CancelOnShutdown=false instances —
// called after Stop's own cancellation pass and again every time a
// completion or cancellation removes an instance while stopping. Must run
// on the dispatcher goroutine.
func (rt *Runtime) maybeFinishStopping() {
	if !rt.stopping {
		return
	}
	for _, inst := range rt.reg.Snapshot() {
		if !inst.CancelOnShutdown {
			return
		}
	}
	rt.cancel()
}
