// Package registry indexes live pipeline instances by ident, tracks
// parent/child relations for structured cancellation, and implements the
// cancel-root walk and subtree traversal from spec §4.3. It never touches a
// queue.Manager directly: cancellation and completion here report which
// idents and queue names were affected, and the caller (runtime, the sole
// owner of both a Registry and a queue.Manager) does the corresponding
// queue bookkeeping. That separation keeps registry and queue mutually
// unaware of each other, matching their being distinct spec components.
package registry

import (
	"github.com/dcshock/flowrt/flow"
	"github.com/dcshock/flowrt/future"
)

// InstanceState is one of the four states a live instance can be in.
type InstanceState int

const (
	Pending InstanceState = iota
	Running
	WaitingChildren
	Cancelled
)

func (s InstanceState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case WaitingChildren:
		return "waiting-children"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Instance is one live pipeline instance (spec §3 "Instance record").
type Instance struct {
	Ident     flow.Ident
	QueueName string
	Resumable *flow.Resumable
	State     InstanceState

	Parent   *flow.Ident
	Children map[flow.Ident]struct{}

	Canceller *future.Signal
	Deferred  *future.Future

	Detached         bool
	CancelOnShutdown bool

	// Reported marks that this instance's terminal error has already been
	// handed to the host error reporter, so a later call (sync vs async
	// propagation can each reach the report site) is a no-op (spec §7: "at
	// most once per originating error").
	Reported bool
}

// Registry indexes every live instance by ident. It is owned exclusively by
// the runtime's dispatcher goroutine (spec §5), so — unlike the teacher's
// Registry, which guards its map with a sync.RWMutex for genuine concurrent
// callers — this one needs no lock at all: single-writer-single-reader on
// one goroutine is precisely the guarantee the spec's cooperative model
// asks for.
type Registry struct {
	instances map[flow.Ident]*Instance
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{instances: make(map[flow.Ident]*Instance)}
}

// Add registers inst and links it into its parent's Children set, unless
// inst has no parent or is itself detached (spec §3 invariant: "a parent's
// children set contains exactly the idents of currently live non-detached
// instances invoked from within that parent's execution").
func (r *Registry) Add(inst *Instance) {
	r.instances[inst.Ident] = inst
	if inst.Parent == nil || inst.Detached {
		return
	}
	if parent, ok := r.instances[*inst.Parent]; ok {
		if parent.Children == nil {
			parent.Children = make(map[flow.Ident]struct{})
		}
		parent.Children[inst.Ident] = struct{}{}
	}
}

// Get looks up a live instance by ident.
func (r *Registry) Get(id flow.Ident) (*Instance, bool) {
	inst, ok := r.instances[id]
	return inst, ok
}

// Len returns the number of live instances.
func (r *Registry) Len() int { return len(r.instances) }

func (r *Registry) remove(id flow.Ident) {
	inst, ok := r.instances[id]
	if !ok {
		return
	}
	delete(r.instances, id)
	if inst.Parent != nil {
		if parent, ok := r.instances[*inst.Parent]; ok && parent.Children != nil {
			delete(parent.Children, id)
		}
	}
}

// Complete handles a natural (non-cancelled) terminal outcome for id (spec
// §4.2 "Completion handling"). If id still has live children it moves to
// WaitingChildren and stays registered; otherwise it is fully removed.
// Returns whether it was removed, and its parent ident (for the caller to
// pass to DrainParent).
func (r *Registry) Complete(id flow.Ident) (removed bool, parent *flow.Ident) {
	inst, ok := r.instances[id]
	if !ok {
		return false, nil
	}
	if len(inst.Children) > 0 {
		inst.State = WaitingChildren
		return false, nil
	}
	parent = inst.Parent
	r.remove(id)
	return true, parent
}

// DrainParent recursively cleans up a chain of WaitingChildren ancestors
// that have just lost their last live child (spec §4.2 step 3: "recursively
// cleanup the parent if the parent was waiting-children with no remaining
// children"). Returns each ident actually removed together with its queue
// name, innermost first, so the caller can do queue bookkeeping for each
// even after the instance is gone from the registry.
func (r *Registry) DrainParent(id *flow.Ident) []CancelResult {
	var removed []CancelResult
	for id != nil {
		inst, ok := r.instances[*id]
		if !ok || inst.State != WaitingChildren || len(inst.Children) > 0 {
			return removed
		}
		next := inst.Parent
		r.remove(*id)
		removed = append(removed, CancelResult{Ident: *id, QueueName: inst.QueueName})
		id = next
	}
	return removed
}

// CancelRoot walks up parent links from id, stopping at the first ancestor
// that is detached or has no parent (spec §4.3). A detached instance is
// always its own root: detachment only blocks cancellation from reaching it
// from above, it does not stop it from being cancelled directly.
func (r *Registry) CancelRoot(id flow.Ident) flow.Ident {
	cur := id
	for {
		inst, ok := r.instances[cur]
		if !ok || inst.Detached || inst.Parent == nil {
			return cur
		}
		cur = *inst.Parent
	}
}

// Subtree returns root and every live descendant reachable through
// Children links, depth-first, leaves first (spec §4.3). Detached children
// are never in a Children set (see Add), so they and everything below them
// are automatically excluded.
func (r *Registry) Subtree(root flow.Ident) []flow.Ident {
	var order []flow.Ident
	seen := make(map[flow.Ident]bool)
	var visit func(flow.Ident)
	visit = func(id flow.Ident) {
		if seen[id] {
			return
		}
		seen[id] = true
		inst, ok := r.instances[id]
		if !ok {
			return
		}
		for child := range inst.Children {
			visit(child)
		}
		order = append(order, id)
	}
	visit(root)
	return order
}

// CancelResult reports one instance's cancellation, for the caller's queue
// bookkeeping.
type CancelResult struct {
	Ident     flow.Ident
	QueueName string
}

// Cancel cancels id's entire subtree per §4.3: computes the cancel root,
// visits it and its descendants depth-first leaves-first, and for each one
// sets state Cancelled, fires its canceller, settles its deferred result to
// flow.Cancelled, and deregisters it. It does not touch any queue.Manager;
// the caller must, for each distinct QueueName in the result, first call
// queue.Remove for every affected ident and then queue.StartNext exactly
// once, after this call returns (spec §4.3 "After traversal, call startNext
// on each affected queue exactly once").
func (r *Registry) Cancel(id flow.Ident) []CancelResult {
	root := r.CancelRoot(id)
	order := r.Subtree(root)
	results := make([]CancelResult, 0, len(order))
	for _, ident := range order {
		inst, ok := r.instances[ident]
		if !ok {
			continue
		}
		inst.State = Cancelled
		inst.Canceller.Fire()
		inst.Deferred.Settle(future.Settlement{Value: flow.Cancelled})
		r.remove(ident)
		results = append(results, CancelResult{Ident: ident, QueueName: inst.QueueName})
	}
	return results
}

// LiveOnShutdown returns the idents of every live instance whose
// CancelOnShutdown flag is set, for Stop.
func (r *Registry) LiveOnShutdown() []flow.Ident {
	var out []flow.Ident
	for id, inst := range r.instances {
		if inst.CancelOnShutdown {
			out = append(out, id)
		}
	}
	return out
}

// Snapshot returns every live instance, for GetActive.
func (r *Registry) Snapshot() []*Instance {
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}
