// Package router is the single synchronous entry point: one serialized
// event in, one response out. The process is ephemeral; all continuity
// lives in the state store.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ihavespoons/gatehouse/internal/audit"
	"github.com/ihavespoons/gatehouse/internal/config"
	"github.com/ihavespoons/gatehouse/internal/engine"
	"github.com/ihavespoons/gatehouse/internal/gates"
	"github.com/ihavespoons/gatehouse/internal/hooks"
	"github.com/ihavespoons/gatehouse/internal/judge"
	"github.com/ihavespoons/gatehouse/internal/logger"
	"github.com/ihavespoons/gatehouse/internal/state"
)

// Router drives normalize → gate run → state persist → response for one
// hook event.
type Router struct {
	cfg      *config.Config
	store    *state.Store
	blocks   *state.BlockManager
	nsIndex  *state.NamespaceIndex
	auditDB  audit.Store
	runner   *engine.Runner
	stateDir string
}

// New builds a router from configuration. An unusable audit store is
// logged and skipped; an unusable state store is fatal.
func New(cfg *config.Config) (*Router, error) {
	stateDir, err := ResolveStateDir(cfg)
	if err != nil {
		return nil, err
	}

	store, err := state.NewStore(stateDir)
	if err != nil {
		return nil, err
	}
	blocks, err := state.NewBlockManager(stateDir, store)
	if err != nil {
		return nil, err
	}
	nsIndex, err := state.NewNamespaceIndex(stateDir)
	if err != nil {
		return nil, err
	}

	var auditDB audit.Store
	if cfg.Audit.Enabled {
		db, err := audit.NewSQLiteStore(cfg.Audit.StoragePath, stateDir)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to open audit store, continuing without audit trail")
		} else {
			auditDB = db
		}
	}

	var trail gates.DecisionTrail
	if auditDB != nil {
		trail = auditDB
	}

	all := []gates.Gate{
		gates.NewHydrationGate(cfg.Gates.Hydration),
		gates.NewTaskGate(cfg.Gates.Task, cfg.Gates.Hydration.ConsequentialTools),
		gates.NewCustodietGate(cfg.Gates.Custodiet, judge.NewCLIChecker(cfg.Gates.Custodiet), trail, blocks),
		gates.NewCommandInterceptGate(cfg.Gates.Intercept),
	}
	modes := map[string]config.Mode{
		config.GateHydration: cfg.Gates.Hydration.Mode,
		config.GateTask:      cfg.Gates.Task.Mode,
		config.GateCustodiet: cfg.Gates.Custodiet.Mode,
		// Transform-only, never blocks; mode is irrelevant.
		config.GateIntercept: config.ModeWarn,
	}

	registry, err := engine.NewRegistry(cfg.Registry, all, modes)
	if err != nil {
		return nil, err
	}

	return &Router{
		cfg:      cfg,
		store:    store,
		blocks:   blocks,
		nsIndex:  nsIndex,
		auditDB:  auditDB,
		runner:   engine.NewRunner(registry),
		stateDir: stateDir,
	}, nil
}

// ResolveStateDir returns the configured state directory, defaulting to
// ~/.gatehouse.
func ResolveStateDir(cfg *config.Config) (string, error) {
	if cfg.Settings.StateDir != "" {
		return cfg.Settings.StateDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve state directory: %w", err)
	}
	return filepath.Join(home, ".gatehouse"), nil
}

// Store exposes the session state store to CLI subcommands.
func (r *Router) Store() *state.Store { return r.store }

// Blocks exposes the block manager to CLI subcommands.
func (r *Router) Blocks() *state.BlockManager { return r.blocks }

// Audit exposes the audit store; nil when disabled or unavailable.
func (r *Router) Audit() audit.Store { return r.auditDB }

// Close releases held resources.
func (r *Router) Close() {
	if r.auditDB != nil {
		_ = r.auditDB.Close()
	}
}

// Route handles one event: normalize, run gates, persist mutations,
// record the audit trail, and build the single response. eventOverride,
// when non-empty, replaces the payload's event name (the host runtime's
// hook wiring names the event it is delivering).
func (r *Router) Route(ctx context.Context, runtime string, eventOverride hooks.EventType, input []byte) (*hooks.HookOutput, error) {
	normalizer, err := hooks.NewNormalizer(runtime, r.nsIndex)
	if err != nil {
		return nil, err
	}

	ev, err := normalizer.Normalize(input)
	if err != nil {
		if eventOverride != "" {
			// Payloads with a missing or runtime-flavored event name are
			// still routable when the hook wiring names the event.
			ev, err = r.normalizeWithOverride(normalizer, input, eventOverride)
		}
		if err != nil {
			return nil, err
		}
	} else if eventOverride != "" {
		ev.EventType = eventOverride
	}

	logger.Debug().
		Str("event", string(ev.EventType)).
		Str("session", ev.Namespace).
		Str("tool", ev.ToolName).
		Msg("Routing hook event")

	if ev.EventType == hooks.SessionEnd {
		return r.endSession(ev)
	}

	var notes []string
	st, err := r.store.Get(ev.Namespace)
	if err != nil {
		var corrupt *state.CorruptionError
		if !errors.As(err, &corrupt) {
			return nil, err
		}
		notes = append(notes, "Session state was unreadable and has been reset to defaults.")
		r.record(ev, &gates.Decision{
			Gate:    "state-store",
			Verdict: gates.Warn,
			Message: corrupt.Error(),
		})
	}

	outcome := r.runner.Run(ctx, ev, st)

	if len(outcome.Mutations) > 0 {
		if _, err := r.store.Apply(ev.Namespace, outcome.Mutations); err != nil {
			var corrupt *state.CorruptionError
			if errors.As(err, &corrupt) {
				notes = append(notes, "Session state was unreadable and has been reset to defaults.")
			} else {
				return nil, fmt.Errorf("failed to persist state: %w", err)
			}
		}
	}

	r.audit(ev, outcome)

	return r.respond(ev, outcome, notes), nil
}

// normalizeWithOverride patches the payload's event name with the one the
// hook wiring supplied and retries normalization.
func (r *Router) normalizeWithOverride(n hooks.Normalizer, input []byte, et hooks.EventType) (*hooks.HookEvent, error) {
	if !et.Valid() {
		return nil, fmt.Errorf("invalid event type: %s", et)
	}
	var raw hooks.RawInput
	if err := json.Unmarshal(input, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse hook input: %w", err)
	}
	raw.HookEventName = string(et)
	patched, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return n.Normalize(patched)
}

func (r *Router) endSession(ev *hooks.HookEvent) (*hooks.HookOutput, error) {
	if err := r.store.Reset(ev.Namespace); err != nil {
		return nil, err
	}
	r.record(ev, &gates.Decision{
		Gate:    "state-store",
		Verdict: gates.OK,
		Message: "session state cleared",
	})
	logger.Info().Str("session", ev.Namespace).Msg("Session ended, state cleared")
	return hooks.NewAllowOutput(ev.EventType), nil
}

// audit records every gate decision for the event and opportunistically
// runs TTL cleanup.
func (r *Router) audit(ev *hooks.HookEvent, outcome *engine.Outcome) {
	if r.auditDB == nil {
		return
	}
	if _, err := r.auditDB.GetOrCreateSession(ev.Namespace, ev.Cwd, ev.TranscriptPath); err != nil {
		logger.Debug().Err(err).Msg("Failed to track session in audit store")
		return
	}
	for _, dec := range outcome.Decisions {
		r.record(ev, dec)
	}
	audit.MaybeRunCleanup(r.auditDB, r.cfg.Audit)
}

func (r *Router) record(ev *hooks.HookEvent, dec *gates.Decision) {
	if r.auditDB == nil {
		return
	}
	err := r.auditDB.RecordDecision(&audit.Decision{
		SessionID: ev.Namespace,
		EventType: ev.EventType,
		ToolName:  ev.ToolName,
		Gate:      dec.Gate,
		Verdict:   dec.Verdict.String(),
		Message:   dec.Message,
		Citation:  dec.Citation,
	})
	if err != nil {
		logger.Debug().Err(err).Msg("Failed to record decision")
	}
}

// respond maps the aggregate outcome onto the wire response. Every WARN
// and BLOCK carries a human-readable message naming the rule that fired.
func (r *Router) respond(ev *hooks.HookEvent, outcome *engine.Outcome, notes []string) *hooks.HookOutput {
	msg := outcome.Message()
	for _, note := range notes {
		if msg != "" {
			msg += "\n"
		}
		msg += note
	}
	if outcome.Citation != "" {
		msg += fmt.Sprintf("\n(rule: %s)", outcome.Citation)
	}

	var out *hooks.HookOutput
	switch outcome.Verdict {
	case gates.Block:
		out = hooks.NewBlockOutput(ev.EventType, "Policy gate blocked this action", msg)
	case gates.Warn:
		out = hooks.NewWarnOutput(ev.EventType, msg)
	default:
		if len(notes) > 0 {
			out = hooks.NewWarnOutput(ev.EventType, msg)
		} else {
			out = hooks.NewAllowOutput(ev.EventType)
		}
	}

	if outcome.UpdatedInput != nil && outcome.Verdict != gates.Block {
		if out.HookSpecificOutput == nil {
			out.HookSpecificOutput = &hooks.HookSpecificOutput{HookEventName: string(ev.EventType)}
		}
		out.HookSpecificOutput.UpdatedInput = outcome.UpdatedInput
	}
	return out
}
