// Package engine wires gates into an ordered registry and runs them for
// one event, aggregating their decisions into a single response.
package engine

import (
	"fmt"

	"github.com/ihavespoons/gatehouse/internal/config"
	"github.com/ihavespoons/gatehouse/internal/gates"
	"github.com/ihavespoons/gatehouse/internal/hooks"
)

// Entry is one gate with its enforcement mode.
type Entry struct {
	Gate gates.Gate
	Mode config.Mode
}

// Registry is the static table mapping an event type to the ordered gates
// that run for it. Order is declared in configuration and preserved
// exactly; evaluation is fully deterministic.
type Registry struct {
	table map[hooks.EventType][]Entry
}

// NewRegistry builds the registry from configuration. Referencing a gate
// that is not registered, or binding a gate to an event it does not apply
// to, is a fatal configuration error.
func NewRegistry(cfg config.RegistryConfig, available []gates.Gate, modes map[string]config.Mode) (*Registry, error) {
	byName := make(map[string]gates.Gate, len(available))
	for _, g := range available {
		byName[g.Name()] = g
	}

	table := make(map[hooks.EventType][]Entry, len(cfg))
	for event, names := range cfg {
		et := hooks.EventType(event)
		if !et.Valid() {
			return nil, fmt.Errorf("registry: unknown event type %q", event)
		}
		entries := make([]Entry, 0, len(names))
		for _, name := range names {
			g, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("registry.%s: unknown gate %q", event, name)
			}
			if !g.AppliesTo(et) {
				return nil, fmt.Errorf("registry.%s: gate %q does not apply to this event", event, name)
			}
			mode, ok := modes[name]
			if !ok {
				mode = config.ModeWarn
			}
			entries = append(entries, Entry{Gate: g, Mode: mode})
		}
		table[et] = entries
	}

	return &Registry{table: table}, nil
}

// Entries returns the ordered gate list for an event type. Events with no
// configured gates return nil; the runner allows them.
func (r *Registry) Entries(et hooks.EventType) []Entry {
	return r.table[et]
}
