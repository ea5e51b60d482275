package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ihavespoons/gatehouse/internal/config"
	"github.com/ihavespoons/gatehouse/internal/hooks"
	"github.com/ihavespoons/gatehouse/internal/logger"
	"github.com/ihavespoons/gatehouse/internal/router"
)

var (
	runtimeName string
	eventType   string
	dryRun      bool
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Route a hook event through the policy gates",
	Long: `Route a hook event through the policy gates.

Reads one JSON event from stdin, runs the gate registry for its event
type, and writes exactly one JSON response to stdout. Gate verdicts are
carried in the response body; the exit code only reflects whether routing
itself succeeded.

Example:
  echo '{"session_id":"s1","hook_event_name":"PreToolUse","tool_name":"Edit","tool_input":{"file_path":"main.go"}}' | gatehouse route`,
	RunE: runRoute,
}

func init() {
	routeCmd.Flags().StringVarP(&runtimeName, "runtime", "r", hooks.RuntimeClaude, "Originating runtime (claude, codex, generic)")
	routeCmd.Flags().StringVarP(&eventType, "event", "e", "", "Override the event type from the payload")
	routeCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Downgrade blocks to advisories in the response")
	rootCmd.AddCommand(routeCmd)
}

func runRoute(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if verbose {
		_ = logger.Init("debug", cfg.Settings.LogFile)
	} else if cfg.Settings.LogLevel != "" {
		_ = logger.Init(cfg.Settings.LogLevel, cfg.Settings.LogFile)
	} else {
		logger.InitQuiet()
	}

	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if len(input) == 0 {
		return fmt.Errorf("no input received from stdin")
	}

	logger.Debug().
		Str("runtime", runtimeName).
		RawJSON("input", input).
		Msg("Received hook event")

	rt, err := router.New(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	output, err := rt.Route(cmd.Context(), runtimeName, hooks.EventType(eventType), input)
	if err != nil {
		logger.Error().Err(err).Msg("Routing failed")
		return err
	}

	if dryRun && output.Decision == hooks.DecisionBlock {
		logger.Info().
			Str("would_block", output.SystemMessage).
			Msg("Dry run: would block")
		output = &hooks.HookOutput{
			Continue:           true,
			Decision:           hooks.DecisionWarn,
			SystemMessage:      "[DRY RUN] Would block: " + output.SystemMessage,
			HookSpecificOutput: output.HookSpecificOutput,
		}
	}

	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	fmt.Println(string(outputJSON))
	return nil
}

// loadConfig loads configuration honoring the global flags.
func loadConfig() (*config.Config, error) {
	loader, err := config.NewLoader(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create config loader: %w", err)
	}

	var cfg *config.Config
	if configFile != "" {
		cfg, err = loader.LoadFromFile(configFile)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, err
	}

	if stateDir != "" {
		cfg.Settings.StateDir = stateDir
	}
	return cfg, nil
}
