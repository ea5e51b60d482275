package gates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ihavespoons/gatehouse/internal/audit"
	"github.com/ihavespoons/gatehouse/internal/config"
	"github.com/ihavespoons/gatehouse/internal/hooks"
	"github.com/ihavespoons/gatehouse/internal/judge"
	"github.com/ihavespoons/gatehouse/internal/logger"
	"github.com/ihavespoons/gatehouse/internal/state"
)

const citationCustodiet = "custodiet/periodic-review"

// DecisionTrail is the slice of the audit store the custodiet gate reads
// to build the bounded session summary.
type DecisionTrail interface {
	RecentDecisions(sessionID string, limit int) ([]*audit.Decision, error)
}

// Latcher hard-latches a session into a blocked condition.
type Latcher interface {
	Latch(namespace, gate, reason, citation string) (*state.BlockRecord, error)
}

// CustodietGate periodically hands a bounded session summary to an
// external compliance check. It runs every N tool calls rather than on
// every event, and is the only gate whose evaluation leaves the process.
// A BLOCK in block mode latches the session until an explicit clear.
type CustodietGate struct {
	cfg     config.CustodietSettings
	checker judge.Checker
	trail   DecisionTrail
	latcher Latcher
}

// NewCustodietGate creates the custodiet gate. trail may be nil when the
// audit store is disabled; checker may be nil when no checker binary is
// configured or found.
func NewCustodietGate(cfg config.CustodietSettings, checker judge.Checker, trail DecisionTrail, latcher Latcher) *CustodietGate {
	return &CustodietGate{cfg: cfg, checker: checker, trail: trail, latcher: latcher}
}

// Name returns the gate's registry name.
func (g *CustodietGate) Name() string { return config.GateCustodiet }

// AppliesTo reports whether the gate runs for an event type.
func (g *CustodietGate) AppliesTo(et hooks.EventType) bool {
	return et == hooks.PostToolUse
}

// Evaluate counts the tool call and, when the configured interval has
// elapsed, runs the external compliance check. Timeouts and checker
// failures degrade to WARN, never to a silent OK.
func (g *CustodietGate) Evaluate(ctx context.Context, ev *hooks.HookEvent, st *state.SessionState) (*Decision, error) {
	next := st.ToolCalls + 1
	muts := []state.Mutation{state.Incr(state.FlagToolCalls, 1)}

	if next-st.LastCustodietCheck < g.cfg.Interval {
		return Allow(g.Name(), muts...), nil
	}
	muts = append(muts, state.Set(state.FlagLastCustodietCheck, next))

	if g.checker == nil || !g.checker.Available(ctx) {
		return Advise(g.Name(),
			"Compliance check is due but no checker is available; review recent activity manually.",
			citationCustodiet, muts...), nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, g.cfg.CheckTimeout())
	defer cancel()

	result, err := g.checker.Check(checkCtx, &judge.Request{
		SessionID: ev.SessionID,
		Summary:   g.summary(ev.SessionID),
		ToolCalls: next,
	})
	if err != nil {
		if errors.Is(err, judge.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return Advise(g.Name(),
				"Compliance check could not complete in time; treating as advisory. Review recent activity manually.",
				citationCustodiet, muts...), nil
		}
		return Advise(g.Name(),
			fmt.Sprintf("Compliance check failed (%v); treating as advisory.", err),
			citationCustodiet, muts...), nil
	}

	switch result.Verdict {
	case judge.VerdictBlock:
		citation := result.Citation
		if citation == "" {
			citation = citationCustodiet
		}
		msg := fmt.Sprintf(
			"Compliance check found drift: %s. The session is blocked until the finding is resolved and the block is explicitly cleared.",
			result.Reasoning,
		)
		if g.cfg.Mode == config.ModeBlock {
			if _, err := g.latcher.Latch(ev.Namespace, g.Name(), result.Reasoning, citation); err != nil {
				logger.Error().Err(err).Str("session", ev.Namespace).Msg("Failed to latch block")
			}
		}
		return Deny(g.Name(), msg, citation, muts...), nil

	case judge.VerdictWarn:
		msg := result.Reasoning
		if msg == "" {
			msg = "Compliance check raised a concern about recent activity."
		}
		return Advise(g.Name(), msg, result.Citation, muts...), nil

	default:
		return Allow(g.Name(), muts...), nil
	}
}

// summary renders the recent decision trail as a bounded line digest.
func (g *CustodietGate) summary(sessionID string) string {
	if g.trail == nil {
		return "(no recorded activity)"
	}
	limit := g.cfg.SummaryEvents
	if limit <= 0 {
		limit = 20
	}
	decisions, err := g.trail.RecentDecisions(sessionID, limit)
	if err != nil || len(decisions) == 0 {
		return "(no recorded activity)"
	}

	var b strings.Builder
	for _, d := range decisions {
		fmt.Fprintf(&b, "%s %s", d.EventType, d.Verdict)
		if d.ToolName != "" {
			fmt.Fprintf(&b, " tool=%s", d.ToolName)
		}
		fmt.Fprintf(&b, " gate=%s", d.Gate)
		if d.Message != "" {
			fmt.Fprintf(&b, " msg=%q", d.Message)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
