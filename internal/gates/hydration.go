package gates

import (
	"context"
	"fmt"

	"github.com/ihavespoons/gatehouse/internal/config"
	"github.com/ihavespoons/gatehouse/internal/hooks"
	"github.com/ihavespoons/gatehouse/internal/state"
)

const citationHydration = "hydration/context-first"

// HydrationGate holds consequential tool calls until the session has
// hydrated its context. The first user prompt of a session arms the gate;
// completing the configured hydration tool disarms it.
type HydrationGate struct {
	cfg           config.HydrationSettings
	consequential map[string]bool
}

// NewHydrationGate creates the hydration gate.
func NewHydrationGate(cfg config.HydrationSettings) *HydrationGate {
	consequential := make(map[string]bool, len(cfg.ConsequentialTools))
	for _, t := range cfg.ConsequentialTools {
		consequential[t] = true
	}
	return &HydrationGate{cfg: cfg, consequential: consequential}
}

// Name returns the gate's registry name.
func (g *HydrationGate) Name() string { return config.GateHydration }

// AppliesTo reports whether the gate runs for an event type.
func (g *HydrationGate) AppliesTo(et hooks.EventType) bool {
	switch et {
	case hooks.UserPromptSubmit, hooks.PreToolUse, hooks.PostToolUse:
		return true
	default:
		return false
	}
}

// Evaluate arms the gate on the session's first prompt, blocks
// consequential tools while hydration is pending, and disarms on
// completion of the hydration tool.
func (g *HydrationGate) Evaluate(ctx context.Context, ev *hooks.HookEvent, st *state.SessionState) (*Decision, error) {
	switch ev.EventType {
	case hooks.UserPromptSubmit:
		if st.HydrationSeen {
			return Allow(g.Name()), nil
		}
		return Allow(g.Name(),
			state.Set(state.FlagHydrationPending, true),
			state.Set(state.FlagHydrationSeen, true),
		), nil

	case hooks.PreToolUse:
		if !st.HydrationPending || !g.consequential[ev.ToolName] {
			return Allow(g.Name()), nil
		}
		msg := fmt.Sprintf(
			"Context hydration has not completed for this session; run the %q tool before using %s. Hydration loads the session's working context so consequential actions start from known state.",
			g.cfg.HydrationTool, ev.ToolName,
		)
		return Deny(g.Name(), msg, citationHydration), nil

	case hooks.PostToolUse:
		if ev.ToolName == g.cfg.HydrationTool && st.HydrationPending {
			return Allow(g.Name(), state.Set(state.FlagHydrationPending, false)), nil
		}
		return Allow(g.Name()), nil

	default:
		return Allow(g.Name()), nil
	}
}
