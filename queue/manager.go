// Package queue implements the per-queue admission and completion state
// machine from spec §4.2. A Manager is a pure bookkeeping structure — it
// decides who may run, who must be cancelled to make room, and who to
// promote next, but never itself cancels or invokes anything; the runtime
// (the only thing that imports both queue and registry) carries out those
// side effects and reports the outcome back.
//
// The spec's five concurrency behaviors are, at their core, the same
// question this corpus answers with a golang.org/x/sync/semaphore.Weighted
// sized to the configured concurrency (dogmatiq-verity's
// pipeline.QueueSource pairs exactly that with errgroup for fan-out
// workers). A bare semaphore is enough for Enqueued; Restartable,
// Dropping, and KeepLatest each need bespoke peer-cancellation logic a
// semaphore alone can't express, so Manager asks its semaphore "is there a
// free running slot" — Decide and StartNext both gate on TryAcquire,
// never on a manual FIFO scan — and layers the cancel-to-make-room and
// promotion logic on top.
package queue

import (
	"golang.org/x/sync/semaphore"

	"github.com/dcshock/flowrt/flow"
)

// Decision is the admission outcome for a newly invoked instance.
type Decision int

const (
	// Run: admit immediately into the running set.
	Run Decision = iota
	// Pending: queue behind existing work; a later StartNext may promote it.
	Pending
	// Drop: the caller gets no promise to await (flow.Cancelled, §4.2.2).
	Drop
)

func (d Decision) String() string {
	switch d {
	case Run:
		return "run"
	case Pending:
		return "pending"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// Entry is one FIFO slot: an ident and whether it currently counts toward
// the queue's Max (running or waiting-children, per spec §3's invariant).
type Entry struct {
	Ident  flow.Ident
	Active bool
}

type record struct {
	cfg  flow.Concurrency
	sem  *semaphore.Weighted
	fifo []Entry

	hasLastResult bool
	lastResult    any
	lastErr       error
}

// availableSlots reports how many more active entries queueName's
// semaphore has room for right now, without leaving it acquired. Manager
// is only ever driven from the runtime's single dispatcher goroutine, so
// probing by acquiring every free unit and releasing them straight back
// cannot race against a concurrent acquire.
func (r *record) availableSlots() int {
	n := 0
	for r.sem.TryAcquire(1) {
		n++
	}
	for i := 0; i < n; i++ {
		r.sem.Release(1)
	}
	return n
}

// Manager owns every named queue's FIFO, frozen concurrency config, and
// last result/error (spec §3 "Queue").
type Manager struct {
	queues map[string]*record
}

// NewManager returns an empty queue manager.
func NewManager() *Manager {
	return &Manager{queues: make(map[string]*record)}
}

func weight(cfg flow.Concurrency) int64 {
	if cfg.Max == flow.Unbounded {
		return 1<<62
	}
	return int64(cfg.Max)
}

// Decide computes the admission decision for a new instance on queueName
// configured with cfg (spec §4.2 "Admission decision at invoke time",
// steps 2-3). It freezes queueName's concurrency config on first use; a
// later call with a disagreeing cfg is a fatal configuration error. It does
// not mutate the FIFO — see Commit.
//
// toCancel lists idents the caller must cancel (via the registry) before
// calling Commit; for Restartable that cancellation is exactly what frees
// the slot this decision assumes is available.
func (m *Manager) Decide(queueName string, cfg flow.Concurrency) (decision Decision, toCancel []flow.Ident, err error) {
	r, ok := m.queues[queueName]
	if !ok {
		r = &record{cfg: cfg, sem: semaphore.NewWeighted(weight(cfg))}
		m.queues[queueName] = r
	} else if !r.cfg.Equal(cfg) {
		return Drop, nil, &flow.ConfigError{QueueName: queueName, Want: r.cfg, Got: cfg}
	}

	if r.cfg.Max == flow.Unbounded || r.availableSlots() > 0 {
		return Run, nil, nil
	}

	switch r.cfg.Behavior {
	case flow.BehaviorDropping:
		return Drop, nil, nil

	case flow.BehaviorRestartable:
		if len(r.fifo) == 0 {
			return Run, nil, nil
		}
		// Cancel the oldest live peer so only (max-1) remain, making room
		// for the new one (spec §4.2.2 "restartable").
		return Run, []flow.Ident{r.fifo[0].Ident}, nil

	case flow.BehaviorKeepLatest:
		var cancel []flow.Ident
		for _, e := range r.fifo {
			if !e.Active {
				cancel = append(cancel, e.Ident)
			}
		}
		return Pending, cancel, nil

	case flow.BehaviorEnqueued:
		return Pending, nil, nil

	default: // flow.None: unreachable when Max is Unbounded, per spec §4.2.2.
		return Pending, nil, nil
	}
}

// Commit adds ident to queueName's FIFO, active if decision resolved to Run.
// The caller must already have cancelled every ident Decide returned in
// toCancel. Must not be called for a Drop decision.
func (m *Manager) Commit(queueName string, ident flow.Ident, decision Decision) {
	r, ok := m.queues[queueName]
	if !ok {
		return
	}
	active := decision == Run
	if active && !r.sem.TryAcquire(1) {
		// Decide (or StartNext, for a promotion) already established a free
		// slot before this call; the semaphore disagreeing means the FIFO
		// and the semaphore have fallen out of sync, which must never happen.
		panic("queue: Commit(Run) found no semaphore capacity for " + ident.String())
	}
	r.fifo = append(r.fifo, Entry{Ident: ident, Active: active})
}

// Outcome describes how an instance terminated, for Remove's lastResult /
// lastErr bookkeeping (spec §4.2.1: "not for cancellation").
type Outcome struct {
	Cancelled bool
	Value     any
	Err       error
}

// Remove drops ident from queueName's FIFO and, unless outcome.Cancelled,
// records lastResult or lastErr.
func (m *Manager) Remove(queueName string, ident flow.Ident, outcome Outcome) {
	r, ok := m.queues[queueName]
	if !ok {
		return
	}
	for i, e := range r.fifo {
		if e.Ident == ident {
			if e.Active {
				r.sem.Release(1)
			}
			r.fifo = append(r.fifo[:i], r.fifo[i+1:]...)
			break
		}
	}
	if !outcome.Cancelled {
		r.hasLastResult = true
		r.lastErr = outcome.Err
		if outcome.Err == nil {
			r.lastResult = outcome.Value
		} else {
			r.lastResult = nil
		}
	}
}

// StartNext promotes up to (Max - running) pending idents, in FIFO order,
// to active and returns them so the caller can actually run each one's
// interpreter (spec §4.2 "startNext").
func (m *Manager) StartNext(queueName string) []flow.Ident {
	r, ok := m.queues[queueName]
	if !ok {
		return nil
	}
	var slots int
	if r.cfg.Max == flow.Unbounded {
		slots = len(r.fifo)
	} else {
		slots = r.availableSlots()
	}
	var promoted []flow.Ident
	for i := range r.fifo {
		if slots <= 0 {
			break
		}
		if !r.fifo[i].Active {
			r.fifo[i].Active = true
			if !r.sem.TryAcquire(1) {
				panic("queue: StartNext promotion found no semaphore capacity for " + r.fifo[i].Ident.String())
			}
			promoted = append(promoted, r.fifo[i].Ident)
			slots--
		}
	}
	return promoted
}

// Snapshot returns queueName's frozen config and current FIFO, for
// GetActive and tests.
func (m *Manager) Snapshot(queueName string) (cfg flow.Concurrency, fifo []Entry, ok bool) {
	r, ok := m.queues[queueName]
	if !ok {
		return flow.Concurrency{}, nil, false
	}
	return r.cfg, append([]Entry(nil), r.fifo...), true
}

// Names returns every queue name the manager has ever admitted to.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.queues))
	for name := range m.queues {
		out = append(out, name)
	}
	return out
}

// Last returns queueName's most recent terminal value/error, if any.
func (m *Manager) Last(queueName string) (value any, err error, ok bool) {
	r, exists := m.queues[queueName]
	if !exists || !r.hasLastResult {
		return nil, nil, false
	}
	return r.lastResult, r.lastErr, true
}
