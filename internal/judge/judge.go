// Package judge runs the external compliance check used by the custodiet
// gate. The check is the one operation in the core allowed to leave the
// process; it is bounded by a hard timeout and its failure modes degrade
// to WARN, never to a silent OK.
package judge

import (
	"context"
	"errors"
)

// Verdict is the checker's judgment.
type Verdict string

// Checker verdicts
const (
	VerdictOK    Verdict = "ok"
	VerdictWarn  Verdict = "warn"
	VerdictBlock Verdict = "block"
)

// Valid reports whether v is a recognized verdict.
func (v Verdict) Valid() bool {
	return v == VerdictOK || v == VerdictWarn || v == VerdictBlock
}

// ErrTimeout is returned when the external check does not respond in time.
var ErrTimeout = errors.New("compliance check timed out")

// Request is the bounded session context sent to the checker.
type Request struct {
	// SessionID identifies the session under review.
	SessionID string

	// Summary is a bounded, line-oriented digest of recent gate decisions.
	Summary string

	// ToolCalls is the session's tool-call count at check time.
	ToolCalls int
}

// Result is the checker's response.
type Result struct {
	Verdict   Verdict `json:"verdict"`
	Citation  string  `json:"citation,omitempty"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Checker performs one compliance check.
type Checker interface {
	// Name returns the human-readable checker name.
	Name() string

	// Available reports whether the checker can run at all.
	Available(ctx context.Context) bool

	// Check runs the compliance check. It must honor ctx cancellation and
	// return ErrTimeout (possibly wrapped) when the deadline is exceeded.
	Check(ctx context.Context, req *Request) (*Result, error)
}
