package gates

import (
	"context"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/ihavespoons/gatehouse/internal/config"
	"github.com/ihavespoons/gatehouse/internal/hooks"
	"github.com/ihavespoons/gatehouse/internal/state"
)

// CommandInterceptGate is a transform-only gate: it rewrites Bash tool
// commands to inject exclusion filters into search invocations, keeping
// governance state directories out of the agent's search results. It never
// warns or blocks; an unparseable command passes through unchanged.
type CommandInterceptGate struct {
	cfg config.InterceptSettings
}

// NewCommandInterceptGate creates the command-intercept gate.
func NewCommandInterceptGate(cfg config.InterceptSettings) *CommandInterceptGate {
	return &CommandInterceptGate{cfg: cfg}
}

// Name returns the gate's registry name.
func (g *CommandInterceptGate) Name() string { return config.GateIntercept }

// AppliesTo reports whether the gate runs for an event type.
func (g *CommandInterceptGate) AppliesTo(et hooks.EventType) bool {
	return et == hooks.PreToolUse
}

// Evaluate rewrites the command field of Bash tool input when it contains
// search commands, returning the updated input alongside an OK verdict.
func (g *CommandInterceptGate) Evaluate(ctx context.Context, ev *hooks.HookEvent, st *state.SessionState) (*Decision, error) {
	if !g.cfg.Enabled || ev.ToolName != "Bash" || len(g.cfg.Exclusions) == 0 {
		return Allow(g.Name()), nil
	}

	command, ok := ev.ToolInput["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		return Allow(g.Name()), nil
	}

	rewritten, changed, err := g.rewrite(command)
	if err != nil || !changed {
		return Allow(g.Name()), nil
	}

	updated := make(map[string]interface{}, len(ev.ToolInput))
	for k, v := range ev.ToolInput {
		updated[k] = v
	}
	updated["command"] = rewritten

	dec := Allow(g.Name())
	dec.UpdatedInput = updated
	dec.Message = "search command rewritten with exclusion filters"
	return dec, nil
}

// rewrite parses the command with a shell parser, appends exclusion flags
// to every search invocation, and reprints it. Quoted strings, pipelines,
// and compound commands are handled by the parser, not string surgery.
func (g *CommandInterceptGate) rewrite(command string) (string, bool, error) {
	parser := syntax.NewParser()
	prog, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return "", false, fmt.Errorf("unparseable command: %w", err)
	}

	changed := false
	syntax.Walk(prog, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		name := literalWord(call.Args[0])
		flags, marker := g.exclusionFlags(name)
		if len(flags) == 0 {
			return true
		}
		if hasExclusion(call, marker) {
			return true
		}
		words := litWord(flags...)
		idx := insertIndex(name, call)
		args := make([]*syntax.Word, 0, len(call.Args)+len(words))
		args = append(args, call.Args[:idx]...)
		args = append(args, words...)
		args = append(args, call.Args[idx:]...)
		call.Args = args
		changed = true
		return true
	})

	if !changed {
		return command, false, nil
	}

	var b strings.Builder
	printer := syntax.NewPrinter()
	if err := printer.Print(&b, prog); err != nil {
		return "", false, err
	}
	return strings.TrimSpace(b.String()), true, nil
}

// exclusionFlags returns the flags to append for a search command name,
// plus a marker token used to detect an already-rewritten call.
func (g *CommandInterceptGate) exclusionFlags(name string) ([]string, string) {
	if len(g.cfg.Exclusions) == 0 {
		return nil, ""
	}
	switch name {
	case "grep":
		flags := make([]string, 0, len(g.cfg.Exclusions))
		for _, ex := range g.cfg.Exclusions {
			flags = append(flags, "--exclude-dir="+ex)
		}
		return flags, flags[0]
	case "rg":
		flags := make([]string, 0, len(g.cfg.Exclusions))
		for _, ex := range g.cfg.Exclusions {
			flags = append(flags, "--glob=!"+ex)
		}
		return flags, flags[0]
	case "find":
		var flags []string
		for _, ex := range g.cfg.Exclusions {
			flags = append(flags, "-not", "-path", "*/"+ex+"/*")
		}
		return flags, "*/" + g.cfg.Exclusions[0] + "/*"
	default:
		return nil, ""
	}
}

func literalWord(w *syntax.Word) string {
	if w == nil || len(w.Parts) != 1 {
		return ""
	}
	switch p := w.Parts[0].(type) {
	case *syntax.Lit:
		return p.Value
	case *syntax.SglQuoted:
		return p.Value
	default:
		return ""
	}
}

// findActions are find(1) action primaries. Exclusion tests inserted after
// one of these would no longer constrain it.
var findActions = map[string]bool{
	"-print": true, "-print0": true, "-printf": true,
	"-fprint": true, "-fprint0": true, "-fprintf": true,
	"-ls": true, "-fls": true, "-delete": true,
	"-exec": true, "-execdir": true, "-ok": true, "-okdir": true,
}

// insertIndex returns where in the argument list exclusion flags go. For
// find they must precede the first action primary; everything else takes
// them at the end.
func insertIndex(name string, call *syntax.CallExpr) int {
	if name != "find" {
		return len(call.Args)
	}
	for i, arg := range call.Args[1:] {
		if findActions[literalWord(arg)] {
			return i + 1
		}
	}
	return len(call.Args)
}

// hasExclusion reports whether the call already carries the first
// exclusion flag, making the rewrite idempotent.
func hasExclusion(call *syntax.CallExpr, flag string) bool {
	for _, arg := range call.Args {
		if literalWord(arg) == flag {
			return true
		}
	}
	return false
}

// litWord builds literal argument words. Multi-token flags (find's
// "-not -path X") arrive pre-split. Glob-looking tokens and tokens with a
// "!" are single-quoted so the shell passes them to the command verbatim.
func litWord(tokens ...string) []*syntax.Word {
	words := make([]*syntax.Word, 0, len(tokens))
	for _, tok := range tokens {
		var part syntax.WordPart
		if strings.ContainsAny(tok, "*?[! ") {
			part = &syntax.SglQuoted{Value: tok}
		} else {
			part = &syntax.Lit{Value: tok}
		}
		words = append(words, &syntax.Word{Parts: []syntax.WordPart{part}})
	}
	return words
}
