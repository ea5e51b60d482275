// Package hooks defines the canonical hook event envelope shared by every
// agent runtime, and the response schema emitted back to the host.
package hooks

// EventType represents the type of a lifecycle hook event
type EventType string

// Canonical lifecycle events
const (
	SessionStart     EventType = "SessionStart"
	UserPromptSubmit EventType = "UserPromptSubmit"
	PreToolUse       EventType = "PreToolUse"
	PostToolUse      EventType = "PostToolUse"
	Stop             EventType = "Stop"
	SessionEnd       EventType = "SessionEnd"
)

// Valid reports whether t is a recognized canonical event type.
func (t EventType) Valid() bool {
	switch t {
	case SessionStart, UserPromptSubmit, PreToolUse, PostToolUse, Stop, SessionEnd:
		return true
	default:
		return false
	}
}

// RawInput is the wire form of a hook event as delivered by a runtime on
// stdin. Runtime adapters map it into a HookEvent.
type RawInput struct {
	SessionID      string                 `json:"session_id,omitempty"`
	HookEventName  string                 `json:"hook_event_name"`
	ToolName       string                 `json:"tool_name,omitempty"`
	ToolInput      map[string]interface{} `json:"tool_input,omitempty"`
	ToolResponse   map[string]interface{} `json:"tool_response,omitempty"`
	Prompt         string                 `json:"prompt,omitempty"`
	TranscriptPath string                 `json:"transcript_path,omitempty"`
	Cwd            string                 `json:"cwd,omitempty"`
}

// HookEvent is the canonical envelope every gate evaluates against.
// Namespace is the session-state namespace resolved by the normalizer;
// for runtimes with a native session id it equals SessionID.
type HookEvent struct {
	SessionID      string
	Namespace      string
	EventType      EventType
	Runtime        string
	ToolName       string
	ToolInput      map[string]interface{}
	ToolResponse   map[string]interface{}
	Prompt         string
	TranscriptPath string
	Cwd            string
}

// DecisionValue is the aggregate decision carried in the response body.
type DecisionValue string

// Aggregate decision values
const (
	DecisionAllow DecisionValue = "allow"
	DecisionWarn  DecisionValue = "warn"
	DecisionBlock DecisionValue = "block"
)

// HookOutput is the single JSON response written to stdout. Continue=false
// signals the host to abort the pending tool call; gate verdicts ride in
// the body, never the exit code.
type HookOutput struct {
	Continue           bool                `json:"continue"`
	Decision           DecisionValue       `json:"decision,omitempty"`
	StopReason         string              `json:"stopReason,omitempty"`
	SystemMessage      string              `json:"systemMessage,omitempty"`
	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// HookSpecificOutput carries event-specific response fields.
type HookSpecificOutput struct {
	HookEventName     string                 `json:"hookEventName"`
	UpdatedInput      map[string]interface{} `json:"updatedInput,omitempty"`
	AdditionalContext string                 `json:"additionalContext,omitempty"`
}

// NewAllowOutput creates an allow response
func NewAllowOutput(eventName EventType) *HookOutput {
	return &HookOutput{
		Continue: true,
		Decision: DecisionAllow,
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName: string(eventName),
		},
	}
}

// NewWarnOutput creates an advisory response: the action proceeds but the
// message is surfaced to the agent.
func NewWarnOutput(eventName EventType, message string) *HookOutput {
	return &HookOutput{
		Continue:      true,
		Decision:      DecisionWarn,
		SystemMessage: message,
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName:     string(eventName),
			AdditionalContext: message,
		},
	}
}

// NewBlockOutput creates a blocking response that aborts the pending action
func NewBlockOutput(eventName EventType, stopReason, message string) *HookOutput {
	return &HookOutput{
		Continue:      false,
		Decision:      DecisionBlock,
		StopReason:    stopReason,
		SystemMessage: message,
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName: string(eventName),
		},
	}
}
