package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ihavespoons/gatehouse/internal/config"
	"github.com/ihavespoons/gatehouse/internal/gates"
	"github.com/ihavespoons/gatehouse/internal/hooks"
	"github.com/ihavespoons/gatehouse/internal/logger"
	"github.com/ihavespoons/gatehouse/internal/state"
)

func init() {
	logger.InitQuiet()
}

func newTestRunner(t *testing.T, names []string, stubs []*stubGate, modes map[string]config.Mode) *Runner {
	t.Helper()
	available := make([]gates.Gate, len(stubs))
	for i, s := range stubs {
		available[i] = s
	}
	reg, err := NewRegistry(config.RegistryConfig{"PreToolUse": names}, available, modes)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return NewRunner(reg)
}

func preEvent() *hooks.HookEvent {
	return &hooks.HookEvent{
		EventType: hooks.PreToolUse,
		SessionID: "s1",
		Namespace: "s1",
		ToolName:  "Edit",
		ToolInput: map[string]interface{}{"command": "original"},
	}
}

func TestRunner_AllOK(t *testing.T) {
	a, b := preToolGate("a"), preToolGate("b")
	r := newTestRunner(t, []string{"a", "b"}, []*stubGate{a, b}, nil)

	out := r.Run(context.Background(), preEvent(), state.NewSessionState("s1"))
	if out.Verdict != gates.OK {
		t.Errorf("verdict = %s, want ok", out.Verdict)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("gate calls = %d, %d, want 1, 1", a.calls, b.calls)
	}
	if len(out.Decisions) != 2 {
		t.Errorf("got %d decisions, want 2", len(out.Decisions))
	}
}

func TestRunner_BlockShortCircuits(t *testing.T) {
	a := preToolGate("a")
	a.decision = gates.Allow("a", state.Set(state.FlagTaskBound, true))
	b := preToolGate("b")
	b.decision = gates.Deny("b", "stop right there", "rule/b")
	c := preToolGate("c")

	r := newTestRunner(t, []string{"a", "b", "c"}, []*stubGate{a, b, c},
		map[string]config.Mode{"b": config.ModeBlock})

	out := r.Run(context.Background(), preEvent(), state.NewSessionState("s1"))
	if out.Verdict != gates.Block {
		t.Fatalf("verdict = %s, want block", out.Verdict)
	}
	if c.calls != 0 {
		t.Error("gate after a block must not run")
	}
	// Mutations accumulated before the block are kept.
	if len(out.Mutations) != 1 || out.Mutations[0].Flag != state.FlagTaskBound {
		t.Errorf("mutations = %+v, want the pre-block mutation kept", out.Mutations)
	}
	if out.Citation != "rule/b" {
		t.Errorf("citation = %q, want rule/b", out.Citation)
	}
	if out.Message() != "stop right there" {
		t.Errorf("message = %q", out.Message())
	}
}

func TestRunner_WarnsAccumulate(t *testing.T) {
	a := preToolGate("a")
	a.decision = gates.Advise("a", "first concern", "rule/a")
	b := preToolGate("b")
	b.decision = gates.Advise("b", "second concern", "rule/b")

	r := newTestRunner(t, []string{"a", "b"}, []*stubGate{a, b}, nil)

	out := r.Run(context.Background(), preEvent(), state.NewSessionState("s1"))
	if out.Verdict != gates.Warn {
		t.Errorf("verdict = %s, want warn", out.Verdict)
	}
	msg := out.Message()
	if !strings.Contains(msg, "first concern") || !strings.Contains(msg, "second concern") {
		t.Errorf("message %q must carry both warnings", msg)
	}
	// First citation wins.
	if out.Citation != "rule/a" {
		t.Errorf("citation = %q, want rule/a", out.Citation)
	}
}

func TestRunner_WarnModeDowngradesBlock(t *testing.T) {
	a := preToolGate("a")
	a.decision = gates.Deny("a", "would have blocked", "rule/a")
	b := preToolGate("b")

	r := newTestRunner(t, []string{"a", "b"}, []*stubGate{a, b},
		map[string]config.Mode{"a": config.ModeWarn})

	out := r.Run(context.Background(), preEvent(), state.NewSessionState("s1"))
	if out.Verdict != gates.Warn {
		t.Errorf("verdict = %s, want warn after downgrade", out.Verdict)
	}
	if b.calls != 1 {
		t.Error("downgraded block must not short-circuit later gates")
	}
	if !strings.Contains(out.Message(), "[advisory]") {
		t.Errorf("message %q must be marked advisory", out.Message())
	}
}

func TestRunner_GateErrorBecomesWarn(t *testing.T) {
	a := preToolGate("a")
	a.err = errors.New("state file vanished")
	b := preToolGate("b")

	r := newTestRunner(t, []string{"a", "b"}, []*stubGate{a, b}, nil)

	out := r.Run(context.Background(), preEvent(), state.NewSessionState("s1"))
	if out.Verdict != gates.Warn {
		t.Errorf("verdict = %s, want warn", out.Verdict)
	}
	if b.calls != 1 {
		t.Error("a failing gate must not stop the rest of the chain")
	}
	if !strings.Contains(out.Message(), "did not run") {
		t.Errorf("message %q must say the check did not run", out.Message())
	}
}

func TestRunner_GatePanicBecomesWarn(t *testing.T) {
	a := preToolGate("a")
	a.panics = true
	b := preToolGate("b")

	r := newTestRunner(t, []string{"a", "b"}, []*stubGate{a, b}, nil)

	out := r.Run(context.Background(), preEvent(), state.NewSessionState("s1"))
	if out.Verdict != gates.Warn {
		t.Errorf("verdict = %s, want warn", out.Verdict)
	}
	if b.calls != 1 {
		t.Error("a panicking gate must not stop the rest of the chain")
	}
}

func TestRunner_StickyBlock(t *testing.T) {
	a := preToolGate("a")
	r := newTestRunner(t, []string{"a"}, []*stubGate{a}, nil)

	st := state.NewSessionState("s1")
	st.CustodietBlockActive = true

	out := r.Run(context.Background(), preEvent(), st)
	if out.Verdict != gates.Block {
		t.Fatalf("verdict = %s, want block", out.Verdict)
	}
	if a.calls != 0 {
		t.Error("sticky block must not consult any gate")
	}
	if !strings.Contains(out.Message(), "blocks clear") {
		t.Errorf("message %q must name the clear command", out.Message())
	}
	if out.Citation != "custodiet/sticky-block" {
		t.Errorf("citation = %q", out.Citation)
	}
}

func TestRunner_UpdatedInputFlowsToLaterGates(t *testing.T) {
	a := preToolGate("a")
	rewritten := gates.Allow("a")
	rewritten.UpdatedInput = map[string]interface{}{"command": "rewritten"}
	a.decision = rewritten
	b := preToolGate("b")

	r := newTestRunner(t, []string{"a", "b"}, []*stubGate{a, b}, nil)

	out := r.Run(context.Background(), preEvent(), state.NewSessionState("s1"))
	if out.UpdatedInput == nil || out.UpdatedInput["command"] != "rewritten" {
		t.Errorf("outcome input = %+v, want the rewritten command", out.UpdatedInput)
	}
	if b.seenCmd != "rewritten" {
		t.Errorf("later gate saw command %v, want the rewritten one", b.seenCmd)
	}
}

func TestRunner_NoGatesConfigured(t *testing.T) {
	r := newTestRunner(t, nil, nil, nil)

	out := r.Run(context.Background(), preEvent(), state.NewSessionState("s1"))
	if out.Verdict != gates.OK {
		t.Errorf("verdict = %s, want ok for an unconfigured event", out.Verdict)
	}
	if out.Message() != "" {
		t.Errorf("message = %q, want empty", out.Message())
	}
}
