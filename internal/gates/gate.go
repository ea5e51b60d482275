// Package gates defines the policy gate interface and the four built-in
// gates. A gate is middleware over hook events: most gates allow, warn, or
// block, but a gate may instead rewrite tool input and pass.
package gates

import (
	"context"

	"github.com/ihavespoons/gatehouse/internal/hooks"
	"github.com/ihavespoons/gatehouse/internal/state"
)

// Verdict is the outcome of one gate evaluation.
type Verdict int

// Gate verdicts, in aggregation priority order.
const (
	OK Verdict = iota
	Warn
	Block
)

// String returns the lowercase verdict name.
func (v Verdict) String() string {
	switch v {
	case Warn:
		return "warn"
	case Block:
		return "block"
	default:
		return "ok"
	}
}

// Decision is the output of one gate evaluation. Mutations are applied
// atomically with the rest of the event's accumulated mutations.
type Decision struct {
	Gate         string
	Verdict      Verdict
	Message      string
	Citation     string
	Mutations    []state.Mutation
	UpdatedInput map[string]interface{}
}

// Allow returns an OK decision carrying optional state mutations.
func Allow(gate string, muts ...state.Mutation) *Decision {
	return &Decision{Gate: gate, Verdict: OK, Mutations: muts}
}

// Advise returns a WARN decision.
func Advise(gate, message, citation string, muts ...state.Mutation) *Decision {
	return &Decision{Gate: gate, Verdict: Warn, Message: message, Citation: citation, Mutations: muts}
}

// Deny returns a BLOCK decision.
func Deny(gate, message, citation string, muts ...state.Mutation) *Decision {
	return &Decision{Gate: gate, Verdict: Block, Message: message, Citation: citation, Mutations: muts}
}

// Gate is one named policy check bound to one or more event types.
type Gate interface {
	// Name returns the gate's registry name.
	Name() string

	// AppliesTo reports whether the gate runs for an event type.
	AppliesTo(hooks.EventType) bool

	// Evaluate produces the gate's decision for one event against the
	// session state loaded at the start of the invocation. An error is
	// surfaced by the runner as a WARN, never swallowed.
	Evaluate(ctx context.Context, ev *hooks.HookEvent, st *state.SessionState) (*Decision, error)
}
