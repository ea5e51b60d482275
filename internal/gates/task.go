package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/ihavespoons/gatehouse/internal/config"
	"github.com/ihavespoons/gatehouse/internal/hooks"
	"github.com/ihavespoons/gatehouse/internal/state"
)

const citationTask = "task/bind-before-mutate"

// Task sub-condition names accepted in the required list.
const (
	SubTaskBound     = "task_bound"
	SubPlanInvoked   = "plan_invoked"
	SubCriticInvoked = "critic_invoked"
)

// TaskGate tracks task discipline: whether the session has bound a task,
// produced a plan, and invoked the critic. Only the configured required
// subset is enforced; the rest is tracked and surfaced, which supports
// graduated rollout.
type TaskGate struct {
	cfg           config.TaskSettings
	consequential map[string]bool
	bind          map[string]bool
	plan          map[string]bool
	critic        map[string]bool
	handover      map[string]bool
}

// NewTaskGate creates the task gate. consequentialTools scopes enforcement
// to mutating tools so reads and searches are never nagged.
func NewTaskGate(cfg config.TaskSettings, consequentialTools []string) *TaskGate {
	return &TaskGate{
		cfg:           cfg,
		consequential: toSet(consequentialTools),
		bind:          toSet(cfg.BindTools),
		plan:          toSet(cfg.PlanTools),
		critic:        toSet(cfg.CriticTools),
		handover:      toSet(cfg.HandoverTools),
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// Name returns the gate's registry name.
func (g *TaskGate) Name() string { return config.GateTask }

// AppliesTo reports whether the gate runs for an event type.
func (g *TaskGate) AppliesTo(et hooks.EventType) bool {
	return et == hooks.PreToolUse || et == hooks.PostToolUse
}

// Evaluate records sub-condition flags from completed tool calls and
// enforces the required subset before consequential tool calls.
func (g *TaskGate) Evaluate(ctx context.Context, ev *hooks.HookEvent, st *state.SessionState) (*Decision, error) {
	switch ev.EventType {
	case hooks.PostToolUse:
		return g.record(ev, st), nil
	case hooks.PreToolUse:
		return g.enforce(ev, st), nil
	default:
		return Allow(g.Name()), nil
	}
}

func (g *TaskGate) record(ev *hooks.HookEvent, st *state.SessionState) *Decision {
	var muts []state.Mutation
	if g.bind[ev.ToolName] && !st.TaskBound {
		muts = append(muts, state.Set(state.FlagTaskBound, true))
	}
	if g.plan[ev.ToolName] && !st.PlanInvoked {
		muts = append(muts, state.Set(state.FlagPlanInvoked, true))
	}
	if g.critic[ev.ToolName] && !st.CriticInvoked {
		muts = append(muts, state.Set(state.FlagCriticInvoked, true))
	}
	if g.handover[ev.ToolName] && !st.HandoverInvoked {
		muts = append(muts, state.Set(state.FlagHandoverInvoked, true))
	}
	return Allow(g.Name(), muts...)
}

func (g *TaskGate) enforce(ev *hooks.HookEvent, st *state.SessionState) *Decision {
	if !g.consequential[ev.ToolName] {
		return Allow(g.Name())
	}

	unmet := g.unmet(st)
	if len(unmet) == 0 {
		return Allow(g.Name())
	}

	required := toSet(g.cfg.Required)
	var unmetRequired []string
	for _, sub := range unmet {
		if required[sub] {
			unmetRequired = append(unmetRequired, sub)
		}
	}

	msg := fmt.Sprintf(
		"Task discipline incomplete before %s: unmet conditions [%s]. Bind a task (and run plan/critic where required) before mutating state.",
		ev.ToolName, strings.Join(unmet, ", "),
	)

	if len(unmetRequired) > 0 {
		return Deny(g.Name(), msg, citationTask)
	}
	return Advise(g.Name(), msg, citationTask)
}

func (g *TaskGate) unmet(st *state.SessionState) []string {
	var unmet []string
	if !st.TaskBound {
		unmet = append(unmet, SubTaskBound)
	}
	if !st.PlanInvoked {
		unmet = append(unmet, SubPlanInvoked)
	}
	if !st.CriticInvoked {
		unmet = append(unmet, SubCriticInvoked)
	}
	return unmet
}
