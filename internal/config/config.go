package config

import (
	"fmt"
	"time"
)

// Mode is a gate's enforcement posture.
type Mode string

// Enforcement modes. Warn is the default everywhere: the system is designed
// to be adopted observe-only before enforcement is turned on.
const (
	ModeWarn  Mode = "warn"
	ModeBlock Mode = "block"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	return m == ModeWarn || m == ModeBlock
}

// Config represents the complete gatehouse configuration
type Config struct {
	Version  string         `yaml:"version"`
	Settings Settings       `yaml:"settings"`
	Audit    AuditSettings  `yaml:"audit"`
	Gates    GateSettings   `yaml:"gates"`
	Registry RegistryConfig `yaml:"registry,omitempty"`
}

// Settings contains global configuration settings
type Settings struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file,omitempty"`
	StateDir string `yaml:"state_dir,omitempty"`
}

// AuditSettings configures the decision audit trail.
type AuditSettings struct {
	Enabled            bool    `yaml:"enabled"`
	StoragePath        string  `yaml:"storage_path,omitempty"`
	SessionTTL         string  `yaml:"session_ttl,omitempty"`
	CleanupProbability float64 `yaml:"cleanup_probability,omitempty"`
}

// GateSettings holds per-gate configuration.
type GateSettings struct {
	Hydration HydrationSettings `yaml:"hydration"`
	Task      TaskSettings      `yaml:"task"`
	Custodiet CustodietSettings `yaml:"custodiet"`
	Intercept InterceptSettings `yaml:"command_intercept"`
}

// HydrationSettings configures the hydration gate.
type HydrationSettings struct {
	Mode Mode `yaml:"mode"`
	// HydrationTool is the tool whose completion clears hydration_pending.
	HydrationTool string `yaml:"hydration_tool,omitempty"`
	// ConsequentialTools are tools held while hydration is pending.
	ConsequentialTools []string `yaml:"consequential_tools,omitempty"`
}

// TaskSettings configures the task gate. Required names the sub-conditions
// that are enforced; the rest are tracked but advisory, supporting
// graduated rollout.
type TaskSettings struct {
	Mode          Mode     `yaml:"mode"`
	Required      []string `yaml:"required,omitempty"`
	BindTools     []string `yaml:"bind_tools,omitempty"`
	PlanTools     []string `yaml:"plan_tools,omitempty"`
	CriticTools   []string `yaml:"critic_tools,omitempty"`
	HandoverTools []string `yaml:"handover_tools,omitempty"`
}

// CustodietSettings configures the periodic compliance gate.
type CustodietSettings struct {
	Mode Mode `yaml:"mode"`
	// Interval is the number of tool calls between compliance checks.
	Interval int `yaml:"interval,omitempty"`
	// BinaryPath overrides checker binary autodetection.
	BinaryPath string `yaml:"binary_path,omitempty"`
	Model      string `yaml:"model,omitempty"`
	Timeout    string `yaml:"timeout,omitempty"`
	// SummaryEvents bounds the session context sent to the checker.
	SummaryEvents int `yaml:"summary_events,omitempty"`
}

// CheckTimeout returns the parsed checker timeout.
func (c CustodietSettings) CheckTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// InterceptSettings configures the command-intercept gate.
type InterceptSettings struct {
	Enabled bool `yaml:"enabled"`
	// Exclusions are path fragments injected into search commands.
	Exclusions []string `yaml:"exclusions,omitempty"`
}

// RegistryConfig maps an event type to the ordered gate names that run for
// it. Order is significant; an unknown gate name is a fatal configuration
// error, never skipped.
type RegistryConfig map[string][]string

// Gate names accepted in RegistryConfig.
const (
	GateHydration = "hydration"
	GateTask      = "task"
	GateCustodiet = "custodiet"
	GateIntercept = "command_intercept"
)

// Validate checks modes and registry gate names.
func (c *Config) Validate() error {
	for name, mode := range map[string]Mode{
		"gates.hydration.mode": c.Gates.Hydration.Mode,
		"gates.task.mode":      c.Gates.Task.Mode,
		"gates.custodiet.mode": c.Gates.Custodiet.Mode,
	} {
		if !mode.Valid() {
			return fmt.Errorf("%s: invalid mode %q (want warn or block)", name, mode)
		}
	}
	if c.Gates.Custodiet.Interval < 1 {
		return fmt.Errorf("gates.custodiet.interval: must be >= 1, got %d", c.Gates.Custodiet.Interval)
	}
	known := map[string]bool{
		GateHydration: true,
		GateTask:      true,
		GateCustodiet: true,
		GateIntercept: true,
	}
	for event, names := range c.Registry {
		for _, n := range names {
			if !known[n] {
				return fmt.Errorf("registry.%s: unknown gate %q", event, n)
			}
		}
	}
	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Settings: Settings{
			LogLevel: "info",
		},
		Audit: AuditSettings{
			Enabled:            true,
			SessionTTL:         "720h",
			CleanupProbability: 0.05,
		},
		Gates: GateSettings{
			Hydration: HydrationSettings{
				Mode:          ModeWarn,
				HydrationTool: "hydrate",
				ConsequentialTools: []string{
					"Edit", "Write", "MultiEdit", "NotebookEdit", "Bash", "TodoWrite",
				},
			},
			Task: TaskSettings{
				Mode:          ModeWarn,
				Required:      []string{"task_bound"},
				BindTools:     []string{"task_bind", "TodoWrite"},
				PlanTools:     []string{"plan", "EnterPlanMode"},
				CriticTools:   []string{"critic"},
				HandoverTools: []string{"handover"},
			},
			Custodiet: CustodietSettings{
				Mode:          ModeWarn,
				Interval:      15,
				Timeout:       "30s",
				SummaryEvents: 20,
			},
			Intercept: InterceptSettings{
				Enabled:    true,
				Exclusions: []string{".gatehouse", ".git", "node_modules"},
			},
		},
		Registry: DefaultRegistry(),
	}
}

// DefaultRegistry returns the standard gate wiring per event type.
func DefaultRegistry() RegistryConfig {
	return RegistryConfig{
		"UserPromptSubmit": {GateHydration},
		"PreToolUse":       {GateHydration, GateTask, GateIntercept},
		"PostToolUse":      {GateHydration, GateTask, GateCustodiet},
	}
}
