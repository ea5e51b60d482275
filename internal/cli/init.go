package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ihavespoons/gatehouse/internal/config"
)

var initGlobal bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a starter configuration file with every gate in warn mode.

By default the file is written to .gatehouse/config.yaml in the current
project; use --global for ~/.gatehouse/config.yaml.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initGlobal, "global", "g", false, "Write the global config instead of the project config")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	loader, err := config.NewLoader(projectDir)
	if err != nil {
		return err
	}

	path := loader.ProjectConfigPath()
	if initGlobal {
		path = loader.GlobalConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Wrote %s\n", path)
	fmt.Println("All gates start in warn mode; set mode: block (or the *_GATE_MODE environment variables) to enforce.")
	return nil
}
