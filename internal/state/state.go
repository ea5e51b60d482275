// Package state owns all cross-invocation session state: the per-session
// flag record, block records, and namespace derivations. No other package
// writes the backing files.
package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// Flag names understood by Apply. Flags are set, never incremented, so
// replaying the same mutation set is idempotent; the tool-call counter is
// the one exception and uses an explicit increment op.
const (
	FlagHydrationPending     = "hydration_pending"
	FlagHydrationSeen        = "hydration_seen"
	FlagTaskBound            = "task_bound"
	FlagPlanInvoked          = "plan_invoked"
	FlagCriticInvoked        = "critic_invoked"
	FlagHandoverInvoked      = "handover_invoked"
	FlagCustodietMode        = "custodiet_mode"
	FlagCustodietBlockActive = "custodiet_block_active"
	FlagToolCalls            = "tool_calls"
	FlagLastCustodietCheck   = "last_custodiet_check"
)

// SessionState is the durable per-session compliance record. Unknown JSON
// fields read from disk are carried in extra and re-written unchanged, so
// state written by a newer build survives a round-trip through this one.
type SessionState struct {
	SessionID            string    `json:"session_id"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	HydrationPending     bool      `json:"hydration_pending"`
	HydrationSeen        bool      `json:"hydration_seen"`
	TaskBound            bool      `json:"task_bound"`
	PlanInvoked          bool      `json:"plan_invoked"`
	CriticInvoked        bool      `json:"critic_invoked"`
	HandoverInvoked      bool      `json:"handover_invoked"`
	CustodietMode        string    `json:"custodiet_mode,omitempty"`
	CustodietBlockActive bool      `json:"custodiet_block_active"`
	ToolCalls            int       `json:"tool_calls"`
	LastCustodietCheck   int       `json:"last_custodiet_check"`

	extra map[string]json.RawMessage
}

// knownStateFields must list every json tag of SessionState.
var knownStateFields = []string{
	"session_id", "created_at", "updated_at",
	"hydration_pending", "hydration_seen",
	"task_bound", "plan_invoked", "critic_invoked", "handover_invoked",
	"custodiet_mode", "custodiet_block_active",
	"tool_calls", "last_custodiet_check",
}

// NewSessionState returns a state record with all flags at their defaults.
func NewSessionState(sessionID string) *SessionState {
	now := time.Now().UTC()
	return &SessionState{
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UnmarshalJSON decodes the documented fields and retains any others.
func (s *SessionState) UnmarshalJSON(data []byte) error {
	type alias SessionState
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownStateFields {
		delete(raw, k)
	}

	*s = SessionState(a)
	if len(raw) > 0 {
		s.extra = raw
	}
	return nil
}

// MarshalJSON emits the documented fields merged with any retained
// unknown fields.
func (s SessionState) MarshalJSON() ([]byte, error) {
	type alias SessionState
	known, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Clone returns a deep copy, extra fields included.
func (s *SessionState) Clone() *SessionState {
	out := *s
	if s.extra != nil {
		out.extra = make(map[string]json.RawMessage, len(s.extra))
		for k, v := range s.extra {
			out.extra[k] = v
		}
	}
	return &out
}

// Op is a mutation operator.
type Op int

// Mutation operators. OpSet assigns an absolute value; OpIncr adds to an
// integer flag and exists only for the tool-call counter.
const (
	OpSet Op = iota
	OpIncr
)

// Mutation is one flag update, applied atomically with its siblings.
type Mutation struct {
	Flag  string      `json:"flag"`
	Value interface{} `json:"value"`
	Op    Op          `json:"op,omitempty"`
}

// Set returns an absolute-assignment mutation.
func Set(flag string, value interface{}) Mutation {
	return Mutation{Flag: flag, Value: value, Op: OpSet}
}

// Incr returns an increment mutation for an integer flag.
func Incr(flag string, delta int) Mutation {
	return Mutation{Flag: flag, Value: delta, Op: OpIncr}
}

// apply applies one mutation to s. Unknown flags are programmer errors.
func (s *SessionState) apply(m Mutation) error {
	switch m.Flag {
	case FlagHydrationPending:
		return s.setBool(&s.HydrationPending, m)
	case FlagHydrationSeen:
		return s.setBool(&s.HydrationSeen, m)
	case FlagTaskBound:
		return s.setBool(&s.TaskBound, m)
	case FlagPlanInvoked:
		return s.setBool(&s.PlanInvoked, m)
	case FlagCriticInvoked:
		return s.setBool(&s.CriticInvoked, m)
	case FlagHandoverInvoked:
		return s.setBool(&s.HandoverInvoked, m)
	case FlagCustodietBlockActive:
		return s.setBool(&s.CustodietBlockActive, m)
	case FlagCustodietMode:
		v, ok := m.Value.(string)
		if !ok {
			return fmt.Errorf("flag %s: want string, got %T", m.Flag, m.Value)
		}
		s.CustodietMode = v
		return nil
	case FlagToolCalls:
		return s.setInt(&s.ToolCalls, m)
	case FlagLastCustodietCheck:
		return s.setInt(&s.LastCustodietCheck, m)
	default:
		return fmt.Errorf("unknown state flag: %s", m.Flag)
	}
}

func (s *SessionState) setBool(dst *bool, m Mutation) error {
	if m.Op != OpSet {
		return fmt.Errorf("flag %s: boolean flags only support set", m.Flag)
	}
	v, ok := m.Value.(bool)
	if !ok {
		return fmt.Errorf("flag %s: want bool, got %T", m.Flag, m.Value)
	}
	*dst = v
	return nil
}

func (s *SessionState) setInt(dst *int, m Mutation) error {
	v, ok := m.Value.(int)
	if !ok {
		return fmt.Errorf("flag %s: want int, got %T", m.Flag, m.Value)
	}
	if m.Op == OpIncr {
		*dst += v
	} else {
		*dst = v
	}
	return nil
}
