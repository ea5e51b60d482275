package state

import (
	"encoding/json"
	"testing"
)

func TestSessionState_Defaults(t *testing.T) {
	st := NewSessionState("s1")

	if st.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", st.SessionID)
	}
	if st.HydrationPending {
		t.Error("HydrationPending should default to false")
	}
	if st.TaskBound || st.PlanInvoked || st.CriticInvoked || st.HandoverInvoked {
		t.Error("task flags should default to false")
	}
	if st.CustodietBlockActive {
		t.Error("CustodietBlockActive should default to false")
	}
	if st.ToolCalls != 0 {
		t.Errorf("ToolCalls = %d, want 0", st.ToolCalls)
	}
}

func TestSessionState_RoundTrip(t *testing.T) {
	st := NewSessionState("s1")
	st.HydrationPending = true
	st.TaskBound = true
	st.ToolCalls = 7

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var back SessionState
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if back.SessionID != st.SessionID {
		t.Errorf("SessionID = %q, want %q", back.SessionID, st.SessionID)
	}
	if back.HydrationPending != st.HydrationPending {
		t.Error("HydrationPending not preserved")
	}
	if back.TaskBound != st.TaskBound {
		t.Error("TaskBound not preserved")
	}
	if back.ToolCalls != st.ToolCalls {
		t.Errorf("ToolCalls = %d, want %d", back.ToolCalls, st.ToolCalls)
	}
}

func TestSessionState_PreservesUnknownFields(t *testing.T) {
	// State written by a newer build with extra fields.
	input := `{
		"session_id": "s1",
		"hydration_pending": true,
		"tool_calls": 3,
		"future_field": {"nested": [1, 2, 3]},
		"another_flag": "enum_value"
	}`

	var st SessionState
	if err := json.Unmarshal([]byte(input), &st); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !st.HydrationPending {
		t.Error("known field hydration_pending not decoded")
	}

	out, err := json.Marshal(&st)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(out, &raw); err != nil {
		t.Fatalf("re-unmarshal failed: %v", err)
	}

	if string(raw["future_field"]) != `{"nested":[1,2,3]}` {
		t.Errorf("future_field not preserved: %s", raw["future_field"])
	}
	if string(raw["another_flag"]) != `"enum_value"` {
		t.Errorf("another_flag not preserved: %s", raw["another_flag"])
	}
}

func TestSessionState_ApplyIdempotent(t *testing.T) {
	muts := []Mutation{
		Set(FlagHydrationPending, true),
		Set(FlagTaskBound, true),
		Set(FlagToolCalls, 5),
	}

	once := NewSessionState("s1")
	for _, m := range muts {
		if err := once.apply(m); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
	}

	twice := NewSessionState("s1")
	for i := 0; i < 2; i++ {
		for _, m := range muts {
			if err := twice.apply(m); err != nil {
				t.Fatalf("apply failed: %v", err)
			}
		}
	}

	if once.HydrationPending != twice.HydrationPending ||
		once.TaskBound != twice.TaskBound ||
		once.ToolCalls != twice.ToolCalls {
		t.Errorf("applying the same mutations twice diverged: once=%+v twice=%+v", once, twice)
	}
}

func TestSessionState_ApplyMutations(t *testing.T) {
	tests := []struct {
		name    string
		mut     Mutation
		check   func(*SessionState) bool
		wantErr bool
	}{
		{
			name:  "set bool flag",
			mut:   Set(FlagCriticInvoked, true),
			check: func(s *SessionState) bool { return s.CriticInvoked },
		},
		{
			name:  "set string flag",
			mut:   Set(FlagCustodietMode, "block"),
			check: func(s *SessionState) bool { return s.CustodietMode == "block" },
		},
		{
			name:  "increment counter",
			mut:   Incr(FlagToolCalls, 1),
			check: func(s *SessionState) bool { return s.ToolCalls == 1 },
		},
		{
			name:  "set counter absolute",
			mut:   Set(FlagLastCustodietCheck, 15),
			check: func(s *SessionState) bool { return s.LastCustodietCheck == 15 },
		},
		{
			name:    "unknown flag",
			mut:     Set("no_such_flag", true),
			wantErr: true,
		},
		{
			name:    "wrong type for bool",
			mut:     Set(FlagTaskBound, "yes"),
			wantErr: true,
		},
		{
			name:    "increment on bool flag",
			mut:     Incr(FlagTaskBound, 1),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewSessionState("s1")
			err := st.apply(tt.mut)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("apply failed: %v", err)
			}
			if !tt.check(st) {
				t.Errorf("mutation not applied: %+v", st)
			}
		})
	}
}

func TestSessionState_Clone(t *testing.T) {
	input := `{"session_id": "s1", "task_bound": true, "extra": 42}`
	var st SessionState
	if err := json.Unmarshal([]byte(input), &st); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	clone := st.Clone()
	clone.TaskBound = false
	clone.extra["extra"] = json.RawMessage("99")

	if !st.TaskBound {
		t.Error("mutating clone changed original flag")
	}
	if string(st.extra["extra"]) != "42" {
		t.Error("mutating clone changed original extra field")
	}
}
