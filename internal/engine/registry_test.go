package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/ihavespoons/gatehouse/internal/config"
	"github.com/ihavespoons/gatehouse/internal/gates"
	"github.com/ihavespoons/gatehouse/internal/hooks"
	"github.com/ihavespoons/gatehouse/internal/state"
)

// stubGate is a scriptable gate for registry and runner tests.
type stubGate struct {
	name     string
	applies  []hooks.EventType
	decision *gates.Decision
	err      error
	panics   bool
	calls    int
	seenCmd  interface{}
}

func (g *stubGate) Name() string { return g.name }

func (g *stubGate) AppliesTo(et hooks.EventType) bool {
	for _, a := range g.applies {
		if a == et {
			return true
		}
	}
	return false
}

func (g *stubGate) Evaluate(_ context.Context, ev *hooks.HookEvent, _ *state.SessionState) (*gates.Decision, error) {
	g.calls++
	g.seenCmd = ev.ToolInput["command"]
	if g.panics {
		panic("stub gate exploded")
	}
	if g.err != nil {
		return nil, g.err
	}
	if g.decision != nil {
		return g.decision, nil
	}
	return gates.Allow(g.name), nil
}

func preToolGate(name string) *stubGate {
	return &stubGate{name: name, applies: []hooks.EventType{hooks.PreToolUse}}
}

func TestNewRegistry_OrderPreserved(t *testing.T) {
	a, b, c := preToolGate("a"), preToolGate("b"), preToolGate("c")
	reg, err := NewRegistry(
		config.RegistryConfig{"PreToolUse": {"c", "a", "b"}},
		[]gates.Gate{a, b, c},
		nil,
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	entries := reg.Entries(hooks.PreToolUse)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, want := range []string{"c", "a", "b"} {
		if got := entries[i].Gate.Name(); got != want {
			t.Errorf("entry %d = %s, want %s", i, got, want)
		}
	}
}

func TestNewRegistry_Errors(t *testing.T) {
	a := preToolGate("a")
	tests := []struct {
		name    string
		cfg     config.RegistryConfig
		wantErr string
	}{
		{
			name:    "unknown event type",
			cfg:     config.RegistryConfig{"ToolMaybeUse": {"a"}},
			wantErr: "unknown event type",
		},
		{
			name:    "unknown gate",
			cfg:     config.RegistryConfig{"PreToolUse": {"axiom_enforcer"}},
			wantErr: "unknown gate",
		},
		{
			name:    "gate bound to wrong event",
			cfg:     config.RegistryConfig{"PostToolUse": {"a"}},
			wantErr: "does not apply",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.cfg, []gates.Gate{a}, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewRegistry_Modes(t *testing.T) {
	a, b := preToolGate("a"), preToolGate("b")
	reg, err := NewRegistry(
		config.RegistryConfig{"PreToolUse": {"a", "b"}},
		[]gates.Gate{a, b},
		map[string]config.Mode{"a": config.ModeBlock},
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	entries := reg.Entries(hooks.PreToolUse)
	if entries[0].Mode != config.ModeBlock {
		t.Errorf("gate a mode = %s, want block", entries[0].Mode)
	}
	// Gates without a configured mode default to warn.
	if entries[1].Mode != config.ModeWarn {
		t.Errorf("gate b mode = %s, want warn", entries[1].Mode)
	}
}

func TestRegistry_UnconfiguredEventHasNoEntries(t *testing.T) {
	reg, err := NewRegistry(config.RegistryConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if entries := reg.Entries(hooks.SessionStart); entries != nil {
		t.Errorf("got %d entries for unconfigured event, want none", len(entries))
	}
}
