package hooks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Runtime identifiers for the supported agent runtimes.
const (
	RuntimeClaude  = "claude"
	RuntimeCodex   = "codex"
	RuntimeGeneric = "generic"
)

// ErrNoSession is returned when no session identifier of any kind can be
// derived from an event. Ambiguous session scoping is a configuration bug;
// it is never papered over with a default namespace.
type ErrNoSession struct {
	Runtime string
	Event   string
}

func (e *ErrNoSession) Error() string {
	return fmt.Sprintf("cannot scope session for %s event %q: no session_id, transcript_path, or cwd", e.Runtime, e.Event)
}

// NamespaceRecorder persists namespace derivations so every event of the
// same logical session resolves to the same state namespace.
type NamespaceRecorder interface {
	// Lookup returns the previously recorded namespace for a source key.
	Lookup(source string) (string, bool)
	// Record stores a derivation. Recording the same pair twice is a no-op.
	Record(source, namespace string) error
}

// Normalizer maps one runtime's native payload into the canonical HookEvent.
type Normalizer interface {
	Runtime() string
	Normalize(raw []byte) (*HookEvent, error)
}

// NewNormalizer returns the adapter for a runtime identifier.
func NewNormalizer(runtime string, ns NamespaceRecorder) (Normalizer, error) {
	switch runtime {
	case RuntimeClaude, "":
		return &claudeNormalizer{ns: ns}, nil
	case RuntimeCodex:
		return &codexNormalizer{ns: ns}, nil
	case RuntimeGeneric:
		return &genericNormalizer{ns: ns}, nil
	default:
		return nil, fmt.Errorf("unknown runtime: %s", runtime)
	}
}

// claudeNormalizer handles Claude Code payloads. The runtime supplies a
// stable session_id, which is used directly as the state namespace.
type claudeNormalizer struct {
	ns NamespaceRecorder
}

func (n *claudeNormalizer) Runtime() string { return RuntimeClaude }

func (n *claudeNormalizer) Normalize(raw []byte) (*HookEvent, error) {
	var in RawInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("failed to parse %s payload: %w", RuntimeClaude, err)
	}
	ev := fromRaw(&in, RuntimeClaude, EventType(in.HookEventName))
	if !ev.EventType.Valid() {
		return nil, fmt.Errorf("unknown %s event: %q", RuntimeClaude, in.HookEventName)
	}
	if err := resolveNamespace(ev, n.ns); err != nil {
		return nil, err
	}
	return ev, nil
}

// codexNormalizer handles runtimes that report camelCase event names and
// have no native per-session directory; the namespace is derived from the
// transcript path.
type codexNormalizer struct {
	ns NamespaceRecorder
}

var codexEvents = map[string]EventType{
	"sessionStart":        SessionStart,
	"userPromptSubmitted": UserPromptSubmit,
	"preToolUse":          PreToolUse,
	"postToolUse":         PostToolUse,
	"agentStop":           Stop,
	"sessionEnd":          SessionEnd,
}

func (n *codexNormalizer) Runtime() string { return RuntimeCodex }

func (n *codexNormalizer) Normalize(raw []byte) (*HookEvent, error) {
	var in RawInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("failed to parse %s payload: %w", RuntimeCodex, err)
	}
	et, ok := codexEvents[in.HookEventName]
	if !ok {
		// Some codex builds already emit canonical names.
		et = EventType(in.HookEventName)
		if !et.Valid() {
			return nil, fmt.Errorf("unknown %s event: %q", RuntimeCodex, in.HookEventName)
		}
	}
	ev := fromRaw(&in, RuntimeCodex, et)
	if err := resolveNamespace(ev, n.ns); err != nil {
		return nil, err
	}
	return ev, nil
}

// genericNormalizer accepts the canonical wire schema as-is.
type genericNormalizer struct {
	ns NamespaceRecorder
}

func (n *genericNormalizer) Runtime() string { return RuntimeGeneric }

func (n *genericNormalizer) Normalize(raw []byte) (*HookEvent, error) {
	var in RawInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("failed to parse %s payload: %w", RuntimeGeneric, err)
	}
	ev := fromRaw(&in, RuntimeGeneric, EventType(in.HookEventName))
	if !ev.EventType.Valid() {
		return nil, fmt.Errorf("unknown event: %q", in.HookEventName)
	}
	if err := resolveNamespace(ev, n.ns); err != nil {
		return nil, err
	}
	return ev, nil
}

func fromRaw(in *RawInput, runtime string, et EventType) *HookEvent {
	return &HookEvent{
		SessionID:      in.SessionID,
		EventType:      et,
		Runtime:        runtime,
		ToolName:       in.ToolName,
		ToolInput:      in.ToolInput,
		ToolResponse:   in.ToolResponse,
		Prompt:         in.Prompt,
		TranscriptPath: in.TranscriptPath,
		Cwd:            in.Cwd,
	}
}

// resolveNamespace fills ev.Namespace. A native session id wins; otherwise
// a deterministic namespace is derived from the transcript path, or failing
// that the working directory, and the derivation is recorded so later
// events for the same logical session land in the same namespace.
func resolveNamespace(ev *HookEvent, ns NamespaceRecorder) error {
	if ev.SessionID != "" {
		ev.Namespace = ev.SessionID
		return nil
	}

	source := ev.TranscriptPath
	if source == "" {
		source = ev.Cwd
	}
	if source == "" {
		return &ErrNoSession{Runtime: ev.Runtime, Event: string(ev.EventType)}
	}

	if cached, ok := ns.Lookup(source); ok {
		ev.Namespace = cached
		ev.SessionID = cached
		return nil
	}

	derived := deriveNamespace(source)
	if err := ns.Record(source, derived); err != nil {
		return fmt.Errorf("failed to record namespace derivation: %w", err)
	}
	ev.Namespace = derived
	ev.SessionID = derived
	return nil
}

func deriveNamespace(source string) string {
	sum := sha256.Sum256([]byte(source))
	return "drv-" + hex.EncodeToString(sum[:8])
}
