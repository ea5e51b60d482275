package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	globalConfigDir  = ".gatehouse"
	projectConfigDir = ".gatehouse"
	configFileName   = "config.yaml"
)

// Loader handles loading and merging configuration files
type Loader struct {
	globalPath  string
	projectPath string
}

// NewLoader creates a new configuration loader
func NewLoader(projectDir string) (*Loader, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	if projectDir == "" {
		projectDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &Loader{
		globalPath:  filepath.Join(homeDir, globalConfigDir, configFileName),
		projectPath: filepath.Join(projectDir, projectConfigDir, configFileName),
	}, nil
}

// Load loads defaults, merges global then project config, and finally
// applies environment overrides. The result is validated.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	globalCfg, err := l.loadFile(l.globalPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}
	if globalCfg != nil {
		cfg = mergeConfigs(cfg, globalCfg)
	}

	projectCfg, err := l.loadFile(l.projectPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load project config: %w", err)
	}
	if projectCfg != nil {
		cfg = mergeConfigs(cfg, projectCfg)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific file, applies
// environment overrides, and validates.
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	fileCfg, err := l.loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := mergeConfigs(DefaultConfig(), fileCfg)
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// envOverrides are the recognized environment variables. Modes default to
// empty so unset variables never clobber config file values.
type envOverrides struct {
	HydrationMode     string `env:"HYDRATION_GATE_MODE"`
	TaskMode          string `env:"TASK_GATE_MODE"`
	CustodietMode     string `env:"CUSTODIET_MODE"`
	CustodietInterval int    `env:"CUSTODIET_INTERVAL"`
	StateDir          string `env:"GATEHOUSE_STATE_DIR"`
}

// ApplyEnv applies environment variable overrides to cfg. Environment
// values win over every config file.
func ApplyEnv(cfg *Config) error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	if ov.HydrationMode != "" {
		cfg.Gates.Hydration.Mode = Mode(ov.HydrationMode)
	}
	if ov.TaskMode != "" {
		cfg.Gates.Task.Mode = Mode(ov.TaskMode)
	}
	if ov.CustodietMode != "" {
		cfg.Gates.Custodiet.Mode = Mode(ov.CustodietMode)
	}
	if ov.CustodietInterval > 0 {
		cfg.Gates.Custodiet.Interval = ov.CustodietInterval
	}
	if ov.StateDir != "" {
		cfg.Settings.StateDir = ov.StateDir
	}
	return nil
}

// mergeConfigs merges two configurations, with override taking precedence
func mergeConfigs(base, override *Config) *Config {
	result := &Config{
		Version: coalesce(override.Version, base.Version),
		Settings: Settings{
			LogLevel: coalesce(override.Settings.LogLevel, base.Settings.LogLevel),
			LogFile:  coalesce(override.Settings.LogFile, base.Settings.LogFile),
			StateDir: coalesce(override.Settings.StateDir, base.Settings.StateDir),
		},
		Audit: mergeAudit(base.Audit, override.Audit),
		Gates: GateSettings{
			Hydration: HydrationSettings{
				Mode:               mergeMode(base.Gates.Hydration.Mode, override.Gates.Hydration.Mode),
				HydrationTool:      coalesce(override.Gates.Hydration.HydrationTool, base.Gates.Hydration.HydrationTool),
				ConsequentialTools: mergeList(base.Gates.Hydration.ConsequentialTools, override.Gates.Hydration.ConsequentialTools),
			},
			Task: TaskSettings{
				Mode:          mergeMode(base.Gates.Task.Mode, override.Gates.Task.Mode),
				Required:      mergeList(base.Gates.Task.Required, override.Gates.Task.Required),
				BindTools:     mergeList(base.Gates.Task.BindTools, override.Gates.Task.BindTools),
				PlanTools:     mergeList(base.Gates.Task.PlanTools, override.Gates.Task.PlanTools),
				CriticTools:   mergeList(base.Gates.Task.CriticTools, override.Gates.Task.CriticTools),
				HandoverTools: mergeList(base.Gates.Task.HandoverTools, override.Gates.Task.HandoverTools),
			},
			Custodiet: CustodietSettings{
				Mode:          mergeMode(base.Gates.Custodiet.Mode, override.Gates.Custodiet.Mode),
				Interval:      mergeInt(base.Gates.Custodiet.Interval, override.Gates.Custodiet.Interval),
				BinaryPath:    coalesce(override.Gates.Custodiet.BinaryPath, base.Gates.Custodiet.BinaryPath),
				Model:         coalesce(override.Gates.Custodiet.Model, base.Gates.Custodiet.Model),
				Timeout:       coalesce(override.Gates.Custodiet.Timeout, base.Gates.Custodiet.Timeout),
				SummaryEvents: mergeInt(base.Gates.Custodiet.SummaryEvents, override.Gates.Custodiet.SummaryEvents),
			},
			Intercept: mergeIntercept(base.Gates.Intercept, override.Gates.Intercept),
		},
		Registry: mergeRegistry(base.Registry, override.Registry),
	}

	return result
}

func mergeAudit(base, override AuditSettings) AuditSettings {
	result := base
	// Enabled can only be distinguished from "not set" when any other
	// audit field is configured alongside it.
	if override.Enabled || override.StoragePath != "" || override.SessionTTL != "" ||
		override.CleanupProbability != 0 {
		result.Enabled = override.Enabled
	}
	if override.StoragePath != "" {
		result.StoragePath = override.StoragePath
	}
	if override.SessionTTL != "" {
		result.SessionTTL = override.SessionTTL
	}
	if override.CleanupProbability != 0 {
		result.CleanupProbability = override.CleanupProbability
	}
	return result
}

func mergeIntercept(base, override InterceptSettings) InterceptSettings {
	result := base
	if override.Enabled || len(override.Exclusions) > 0 {
		result.Enabled = override.Enabled
	}
	if len(override.Exclusions) > 0 {
		result.Exclusions = override.Exclusions
	}
	return result
}

// mergeRegistry replaces per-event lists wholesale: a project that
// overrides PreToolUse wiring takes full ownership of that event's order.
func mergeRegistry(base, override RegistryConfig) RegistryConfig {
	if len(override) == 0 {
		return base
	}
	result := make(RegistryConfig, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		result[k] = v
	}
	return result
}

func mergeMode(base, override Mode) Mode {
	if override != "" {
		return override
	}
	return base
}

func mergeList(base, override []string) []string {
	if len(override) > 0 {
		return override
	}
	return base
}

func mergeInt(base, override int) int {
	if override != 0 {
		return override
	}
	return base
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// GlobalConfigPath returns the path to the global config file
func (l *Loader) GlobalConfigPath() string {
	return l.globalPath
}

// ProjectConfigPath returns the path to the project config file
func (l *Loader) ProjectConfigPath() string {
	return l.projectPath
}
