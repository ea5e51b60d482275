package engine

import (
	"context"
	"fmt"

	"github.com/ihavespoons/gatehouse/internal/config"
	"github.com/ihavespoons/gatehouse/internal/gates"
	"github.com/ihavespoons/gatehouse/internal/hooks"
	"github.com/ihavespoons/gatehouse/internal/logger"
	"github.com/ihavespoons/gatehouse/internal/state"
)

// stickyGate is the pseudo-gate name recorded for sticky-block decisions.
const stickyGate = "block-flag"

// Outcome is the aggregate of one event's gate run. Decisions holds every
// individual decision in evaluation order, post mode-downgrade, for the
// audit trail.
type Outcome struct {
	Verdict      gates.Verdict
	Messages     []string
	Citation     string
	Mutations    []state.Mutation
	UpdatedInput map[string]interface{}
	Decisions    []*gates.Decision
}

// Message joins the accumulated messages into the response systemMessage.
func (o *Outcome) Message() string {
	switch len(o.Messages) {
	case 0:
		return ""
	case 1:
		return o.Messages[0]
	default:
		msg := o.Messages[0]
		for _, m := range o.Messages[1:] {
			msg += "\n" + m
		}
		return msg
	}
}

// Runner executes the registry for one event.
type Runner struct {
	registry *Registry
}

// NewRunner creates a runner over a registry.
func NewRunner(registry *Registry) *Runner {
	return &Runner{registry: registry}
}

// Run evaluates the ordered gate list for the event. A BLOCK verdict
// short-circuits the remaining gates but keeps mutations accumulated so
// far; WARN verdicts accumulate; a session with an active sticky block
// returns BLOCK unconditionally without consulting any gate.
func (r *Runner) Run(ctx context.Context, ev *hooks.HookEvent, st *state.SessionState) *Outcome {
	out := &Outcome{Verdict: gates.OK}

	if st.CustodietBlockActive {
		dec := gates.Deny(stickyGate,
			"This session is blocked pending resolution of a compliance finding. No further actions run until the block is explicitly cleared (gatehouse blocks clear).",
			"custodiet/sticky-block",
		)
		out.Verdict = gates.Block
		out.Messages = append(out.Messages, dec.Message)
		out.Citation = dec.Citation
		out.Decisions = append(out.Decisions, dec)
		return out
	}

	for _, entry := range r.registry.Entries(ev.EventType) {
		dec := r.evaluate(ctx, entry.Gate, ev, st)

		// Warn mode downgrades a BLOCK to an advisory: the action
		// proceeds, the message still reaches the agent.
		if dec.Verdict == gates.Block && entry.Mode == config.ModeWarn {
			dec.Verdict = gates.Warn
			dec.Message = "[advisory] " + dec.Message
		}

		out.Decisions = append(out.Decisions, dec)
		out.Mutations = append(out.Mutations, dec.Mutations...)

		if dec.UpdatedInput != nil {
			out.UpdatedInput = dec.UpdatedInput
			// Later gates evaluate the rewritten input.
			ev.ToolInput = dec.UpdatedInput
		}

		switch dec.Verdict {
		case gates.Block:
			out.Verdict = gates.Block
			out.Messages = append(out.Messages, dec.Message)
			if out.Citation == "" {
				out.Citation = dec.Citation
			}
			return out
		case gates.Warn:
			out.Verdict = maxVerdict(out.Verdict, gates.Warn)
			if dec.Message != "" {
				out.Messages = append(out.Messages, dec.Message)
			}
			if out.Citation == "" {
				out.Citation = dec.Citation
			}
		}
	}

	return out
}

// evaluate runs one gate, converting errors and panics into WARN
// decisions so a broken gate can never strand the host agent without a
// response.
func (r *Runner) evaluate(ctx context.Context, g gates.Gate, ev *hooks.HookEvent, st *state.SessionState) (dec *gates.Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().
				Str("gate", g.Name()).
				Interface("panic", rec).
				Msg("Gate panicked during evaluation")
			dec = gates.Advise(g.Name(),
				fmt.Sprintf("Gate %s failed internally; its check did not run this event.", g.Name()), "")
		}
	}()

	d, err := g.Evaluate(ctx, ev, st)
	if err != nil {
		logger.Error().Err(err).Str("gate", g.Name()).Msg("Gate evaluation failed")
		return gates.Advise(g.Name(),
			fmt.Sprintf("Gate %s failed (%v); its check did not run this event.", g.Name(), err), "")
	}
	if d == nil {
		return gates.Allow(g.Name())
	}
	return d
}

func maxVerdict(a, b gates.Verdict) gates.Verdict {
	if b > a {
		return b
	}
	return a
}
