package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information set via ldflags
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	verbose    bool
	configFile string
	projectDir string
	stateDir   string
)

var rootCmd = &cobra.Command{
	Use:   "gatehouse",
	Short: "Hook router and gate-enforcement engine for AI coding agents",
	Long: `Gatehouse intercepts agent lifecycle events (session start, prompt
submission, tool calls, session stop), normalizes them across runtimes, and
runs an ordered set of policy gates that may allow, warn, or block each
action.

Gates default to warn (observe-only) so gatehouse can be adopted safely
before enforcement is turned on. Set HYDRATION_GATE_MODE, TASK_GATE_MODE,
or CUSTODIET_MODE to "block" to enforce.

Configure in:
  - ~/.gatehouse/config.yaml (global)
  - .gatehouse/config.yaml (project-specific)`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gatehouse %s\n", Version)
		fmt.Printf("  commit: %s\n", Commit)
		fmt.Printf("  built:  %s\n", Date)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Override config file path")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", "", "Override project directory")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "Override state directory")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
