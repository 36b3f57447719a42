package flow

import "github.com/google/uuid"

// Block is one of the three ordered blocks a resumable's execution is
// always in exactly one of.
type Block int

const (
	Begin Block = iota
	Rescue
	Finally
)

func (b Block) String() string {
	switch b {
	case Begin:
		return "begin"
	case Rescue:
		return "rescue"
	case Finally:
		return "finally"
	default:
		return "unknown"
	}
}

// Ident uniquely identifies a live instance runtime-wide: the pipeline's id
// plus a fresh token minted at invocation. Two invocations of the same
// pipeline are always distinct idents even with identical args — identity
// dedupe for UseExisting is a separate, explicit lookup, not implied by
// Ident equality.
type Ident struct {
	PipelineID string
	Token      uuid.UUID
}

// NewIdent mints a fresh ident for pipelineID.
func NewIdent(pipelineID string) Ident {
	return Ident{PipelineID: pipelineID, Token: uuid.New()}
}

func (i Ident) String() string {
	return i.PipelineID + "#" + i.Token.String()
}

// State is a resumable's execution position within its current block.
type State struct {
	Block     Block
	Remaining []Step
	Value     any
	PrevValue any

	// Index is the position within the current block of the step most
	// recently popped from Remaining, reset to -1 (no step popped yet)
	// whenever Block changes.
	// It is what lets a terminal error be reported as "rescue[2]" instead
	// of a bare error (see StepError).
	Index int

	// Err is non-nil only as the stepErr handed to the first step of a
	// rescue block; the interpreter clears it immediately after that call.
	Err error

	// CarryValue/CarryErr is the terminal outcome begin or rescue is
	// handing to finally: the value either block exhausted with, or the
	// error either block failed with. Finally's own steps run against
	// State.Value/Err like any other block; this pair is what the
	// interpreter actually terminates with when finally exhausts without
	// producing a new error of its own (spec §4.1 block rules).
	CarryValue any
	CarryErr   error
}

// Resumable is a mutable snapshot of one pipeline instance at one point in
// its execution (spec §3). It is intentionally a plain struct with no
// invariant-enforcing accessors: pipeline-step functions are given direct
// pointers into the live stack of resumables (see StepFrame) specifically
// so they can rewrite State.Remaining or hand back a whole new *Resumable,
// per the design notes ("do not attempt to hide this behind a typed API
// that forbids mutation of remaining steps").
type Resumable struct {
	Ident    Ident
	Pipeline *Pipeline
	Config   Config
	Args     any
	State    State

	// Tail, when non-nil, is resumed (as a child of this instance) the next
	// time this resumable is stepped, before its own remaining work runs;
	// its terminal value becomes this resumable's resumed value and Tail is
	// cleared. This is what makes stack replacement compositional (spec
	// §4.1 "Tail resumption").
	Tail *Resumable
}

// NewResumable builds the initial resumable for invoking p with args.
func NewResumable(p *Pipeline, args any) *Resumable {
	block, steps := firstNonEmptyBlock(p.Body)
	return &Resumable{
		Ident:    NewIdent(p.ID()),
		Pipeline: p,
		Config:   p.Config,
		Args:     args,
		State: State{
			Block:     block,
			Remaining: steps,
			Value:     args,
			Index:     -1,
		},
	}
}

// firstNonEmptyBlock always picks begin, even when begin has no steps — an
// empty begin exhausts immediately and the block-transition rules in interp
// take it from there.
func firstNonEmptyBlock(b Body) (Block, []Step) {
	return Begin, append([]Step(nil), b.Begin...)
}

// StepsFor returns a defensive copy of the step list for the given block.
func (p *Pipeline) StepsFor(b Block) []Step {
	var src []Step
	switch b {
	case Begin:
		src = p.Body.Begin
	case Rescue:
		src = p.Body.Rescue
	case Finally:
		src = p.Body.Finally
	}
	return append([]Step(nil), src...)
}
