package integration

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

var binaryPath string

func TestMain(m *testing.M) {
	projectRoot := getProjectRoot()

	// Build the binary before running tests
	binaryPath = filepath.Join(projectRoot, "gatehouse_test")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/gatehouse")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		panic("Failed to build binary: " + err.Error() + "\nOutput: " + string(output))
	}

	code := m.Run()

	_ = os.Remove(binaryPath)
	os.Exit(code)
}

func getProjectRoot() string {
	// Navigate from test/integration to project root
	wd, _ := os.Getwd()
	return filepath.Join(wd, "..", "..")
}

func getTestdataPath(filename string) string {
	wd, _ := os.Getwd()
	return filepath.Join(wd, "testdata", filename)
}

func runGatehouse(args []string, stdin string) (string, string, error) {
	cmd := exec.Command(binaryPath, args...)
	cmd.Stdin = strings.NewReader(stdin)
	// Isolate from the developer's real ~/.gatehouse and env overrides.
	cmd.Env = append(os.Environ(),
		"HYDRATION_GATE_MODE=", "TASK_GATE_MODE=", "CUSTODIET_MODE=",
		"CUSTODIET_INTERVAL=", "GATEHOUSE_STATE_DIR=",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func runGatehouseWithFile(args []string, stdinFile string) (string, string, error) {
	data, err := os.ReadFile(stdinFile)
	if err != nil {
		return "", "", err
	}
	return runGatehouse(args, string(data))
}

func routeArgs(config, stateDir string, extra ...string) []string {
	args := []string{"route", "--config", config, "--state-dir", stateDir}
	return append(args, extra...)
}

func parseOutput(t *testing.T, stdout string) map[string]interface{} {
	t.Helper()
	var output map[string]interface{}
	if err := json.Unmarshal([]byte(stdout), &output); err != nil {
		t.Fatalf("Failed to parse JSON output: %v\nOutput: %s", err, stdout)
	}
	return output
}

// ==================== Route Command Tests ====================

func TestRoute_HydrationBlockFlow(t *testing.T) {
	configPath := getTestdataPath("block_config.yaml")
	stateDir := t.TempDir()

	// 1. First prompt arms the hydration gate.
	stdout, stderr, err := runGatehouseWithFile(
		routeArgs(configPath, stateDir), getTestdataPath("prompt.json"))
	if err != nil {
		t.Fatalf("Command failed: %v\nStderr: %s", err, stderr)
	}
	output := parseOutput(t, stdout)
	if output["continue"] != true || output["decision"] != "allow" {
		t.Fatalf("Expected allow for first prompt, got: %s", stdout)
	}

	// 2. A consequential tool is blocked while hydration is pending.
	stdout, stderr, err = runGatehouseWithFile(
		routeArgs(configPath, stateDir), getTestdataPath("pretooluse_edit.json"))
	if err != nil {
		t.Fatalf("Command failed: %v\nStderr: %s", err, stderr)
	}
	output = parseOutput(t, stdout)
	if output["continue"] != false || output["decision"] != "block" {
		t.Fatalf("Expected block while hydration pending, got: %s", stdout)
	}
	msg, _ := output["systemMessage"].(string)
	if !strings.Contains(msg, "hydrate") {
		t.Errorf("Block message should name the hydration tool, got: %s", msg)
	}
	if !strings.Contains(msg, "(rule: hydration/context-first)") {
		t.Errorf("Block message should cite the rule, got: %s", msg)
	}

	// 3. Completing the hydration tool disarms the gate.
	stdout, stderr, err = runGatehouseWithFile(
		routeArgs(configPath, stateDir), getTestdataPath("posttooluse_hydrate.json"))
	if err != nil {
		t.Fatalf("Command failed: %v\nStderr: %s", err, stderr)
	}
	output = parseOutput(t, stdout)
	if output["continue"] != true {
		t.Fatalf("Expected continue after hydration, got: %s", stdout)
	}

	// 4. The same edit now proceeds; task discipline still warns.
	stdout, stderr, err = runGatehouseWithFile(
		routeArgs(configPath, stateDir), getTestdataPath("pretooluse_edit.json"))
	if err != nil {
		t.Fatalf("Command failed: %v\nStderr: %s", err, stderr)
	}
	output = parseOutput(t, stdout)
	if output["continue"] != true {
		t.Fatalf("Expected continue after hydration completed, got: %s", stdout)
	}
}

func TestRoute_WarnModeDoesNotBlock(t *testing.T) {
	configPath := getTestdataPath("warn_config.yaml")
	stateDir := t.TempDir()

	if _, stderr, err := runGatehouseWithFile(
		routeArgs(configPath, stateDir), getTestdataPath("prompt.json")); err != nil {
		t.Fatalf("Command failed: %v\nStderr: %s", err, stderr)
	}

	stdout, stderr, err := runGatehouseWithFile(
		routeArgs(configPath, stateDir), getTestdataPath("pretooluse_edit.json"))
	if err != nil {
		t.Fatalf("Command failed: %v\nStderr: %s", err, stderr)
	}
	output := parseOutput(t, stdout)
	if output["continue"] != true || output["decision"] != "warn" {
		t.Fatalf("Expected warn in observe-only mode, got: %s", stdout)
	}
	msg, _ := output["systemMessage"].(string)
	if !strings.Contains(msg, "[advisory]") {
		t.Errorf("Warn-mode message should be marked advisory, got: %s", msg)
	}
}

func TestRoute_DryRunDowngradesBlock(t *testing.T) {
	configPath := getTestdataPath("block_config.yaml")
	stateDir := t.TempDir()

	if _, stderr, err := runGatehouseWithFile(
		routeArgs(configPath, stateDir), getTestdataPath("prompt.json")); err != nil {
		t.Fatalf("Command failed: %v\nStderr: %s", err, stderr)
	}

	stdout, stderr, err := runGatehouseWithFile(
		routeArgs(configPath, stateDir, "--dry-run"), getTestdataPath("pretooluse_edit.json"))
	if err != nil {
		t.Fatalf("Command failed: %v\nStderr: %s", err, stderr)
	}
	output := parseOutput(t, stdout)
	if output["continue"] != true || output["decision"] != "warn" {
		t.Fatalf("Expected dry run to downgrade the block, got: %s", stdout)
	}
	msg, _ := output["systemMessage"].(string)
	if !strings.Contains(msg, "[DRY RUN] Would block:") {
		t.Errorf("Dry-run message should say what would have blocked, got: %s", msg)
	}
}

func TestRoute_InterceptRewritesSearchCommand(t *testing.T) {
	configPath := getTestdataPath("warn_config.yaml")
	stateDir := t.TempDir()

	stdout, stderr, err := runGatehouseWithFile(
		routeArgs(configPath, stateDir), getTestdataPath("pretooluse_grep.json"))
	if err != nil {
		t.Fatalf("Command failed: %v\nStderr: %s", err, stderr)
	}
	output := parseOutput(t, stdout)
	if output["continue"] != true {
		t.Fatalf("Expected continue, got: %s", stdout)
	}

	hso, ok := output["hookSpecificOutput"].(map[string]interface{})
	if !ok {
		t.Fatal("Missing hookSpecificOutput")
	}
	updated, ok := hso["updatedInput"].(map[string]interface{})
	if !ok {
		t.Fatalf("Missing updatedInput, got: %s", stdout)
	}
	command, _ := updated["command"].(string)
	if !strings.Contains(command, "--exclude-dir=.gatehouse") {
		t.Errorf("Expected exclusion filter in rewritten command, got: %s", command)
	}
}

func TestRoute_EventOverrideFlag(t *testing.T) {
	configPath := getTestdataPath("warn_config.yaml")
	stateDir := t.TempDir()

	stdout, stderr, err := runGatehouse(
		routeArgs(configPath, stateDir, "--event", "PreToolUse"),
		`{"session_id":"integration-session","tool_name":"Read"}`)
	if err != nil {
		t.Fatalf("Command failed: %v\nStderr: %s", err, stderr)
	}
	output := parseOutput(t, stdout)
	hso, ok := output["hookSpecificOutput"].(map[string]interface{})
	if !ok {
		t.Fatal("Missing hookSpecificOutput")
	}
	if hso["hookEventName"] != "PreToolUse" {
		t.Errorf("Expected hookEventName=PreToolUse, got %v", hso["hookEventName"])
	}
}

func TestRoute_SessionEndResetsState(t *testing.T) {
	configPath := getTestdataPath("block_config.yaml")
	stateDir := t.TempDir()

	// Arm hydration, then end the session.
	for _, fixture := range []string{"prompt.json", "sessionend.json"} {
		if _, stderr, err := runGatehouseWithFile(
			routeArgs(configPath, stateDir), getTestdataPath(fixture)); err != nil {
			t.Fatalf("Command failed for %s: %v\nStderr: %s", fixture, err, stderr)
		}
	}

	// A fresh session: the prompt arms again rather than being remembered.
	stdout, stderr, err := runGatehouseWithFile(
		routeArgs(configPath, stateDir), getTestdataPath("pretooluse_edit.json"))
	if err != nil {
		t.Fatalf("Command failed: %v\nStderr: %s", err, stderr)
	}
	output := parseOutput(t, stdout)
	if output["continue"] != true {
		t.Fatalf("Expected continue after session reset, got: %s", stdout)
	}
}

func TestRoute_EmptyStdin(t *testing.T) {
	configPath := getTestdataPath("warn_config.yaml")
	_, stderr, err := runGatehouse(routeArgs(configPath, t.TempDir()), "")
	if err == nil {
		t.Fatal("Expected error for empty stdin")
	}
	if !strings.Contains(stderr, "no input") {
		t.Errorf("Expected stderr to mention missing input, got: %s", stderr)
	}
}

func TestRoute_MalformedInput(t *testing.T) {
	configPath := getTestdataPath("warn_config.yaml")
	if _, _, err := runGatehouse(routeArgs(configPath, t.TempDir()), `{"session_id":`); err == nil {
		t.Fatal("Expected error for malformed input")
	}
}

// ==================== Session Command Tests ====================

func TestSessionCommands(t *testing.T) {
	configPath := getTestdataPath("block_config.yaml")
	stateDir := t.TempDir()

	if _, stderr, err := runGatehouseWithFile(
		routeArgs(configPath, stateDir), getTestdataPath("prompt.json")); err != nil {
		t.Fatalf("Command failed: %v\nStderr: %s", err, stderr)
	}

	stdout, stderr, err := runGatehouse(
		[]string{"session", "list", "--config", configPath, "--state-dir", stateDir}, "")
	if err != nil {
		t.Fatalf("session list failed: %v\nStderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "integration-session") {
		t.Errorf("session list missing the session, got: %s", stdout)
	}

	stdout, stderr, err = runGatehouse(
		[]string{"session", "show", "integration-session", "--config", configPath, "--state-dir", stateDir}, "")
	if err != nil {
		t.Fatalf("session show failed: %v\nStderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "hydration_pending") {
		t.Errorf("session show missing state flags, got: %s", stdout)
	}

	stdout, stderr, err = runGatehouse(
		[]string{"session", "events", "integration-session", "--config", configPath, "--state-dir", stateDir}, "")
	if err != nil {
		t.Fatalf("session events failed: %v\nStderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "hydration") {
		t.Errorf("session events missing gate decisions, got: %s", stdout)
	}

	if _, stderr, err = runGatehouse(
		[]string{"session", "reset", "integration-session", "--config", configPath, "--state-dir", stateDir}, ""); err != nil {
		t.Fatalf("session reset failed: %v\nStderr: %s", err, stderr)
	}
}

// ==================== Blocks Command Tests ====================

func TestBlocksClearWithoutActiveBlock(t *testing.T) {
	configPath := getTestdataPath("warn_config.yaml")
	stateDir := t.TempDir()

	if _, stderr, err := runGatehouseWithFile(
		routeArgs(configPath, stateDir), getTestdataPath("prompt.json")); err != nil {
		t.Fatalf("Command failed: %v\nStderr: %s", err, stderr)
	}

	_, stderr, err := runGatehouse(
		[]string{"blocks", "clear", "integration-session", "--config", configPath, "--state-dir", stateDir}, "")
	if err == nil {
		t.Fatal("Expected error clearing a session with no active block")
	}
	if !strings.Contains(stderr, "no active block") {
		t.Errorf("Expected stderr to explain, got: %s", stderr)
	}
}

// ==================== Init and Version Tests ====================

func TestInitWritesProjectConfig(t *testing.T) {
	projectDir := t.TempDir()

	if _, stderr, err := runGatehouse([]string{"init", "--project", projectDir}, ""); err != nil {
		t.Fatalf("init failed: %v\nStderr: %s", err, stderr)
	}

	configPath := filepath.Join(projectDir, ".gatehouse", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("init did not write %s: %v", configPath, err)
	}
	if !strings.Contains(string(data), "hydration") {
		t.Errorf("Generated config missing gate settings:\n%s", data)
	}

	// Running init again refuses to overwrite.
	if _, _, err := runGatehouse([]string{"init", "--project", projectDir}, ""); err == nil {
		t.Fatal("Expected error when config already exists")
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := runGatehouse([]string{"version"}, "")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(stdout, "gatehouse") {
		t.Errorf("Unexpected version output: %s", stdout)
	}
}
