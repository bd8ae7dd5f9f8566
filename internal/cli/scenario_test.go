package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `
name: tiny
description: "Create a space"
steps:
  - mutate: node.create
    input: { nodeType: space }
    attributes: { name: Team }
    save: space
assertions:
  - type: outbox_count
    count: 1
  - type: node_state
    node: $space
    expect: { attributes: { name: Team } }
`

const failingScenario = `
name: broken
description: "Expects the wrong outbox size"
steps:
  - mutate: node.create
    input: { nodeType: space }
assertions:
  - type: outbox_count
    count: 3
`

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestScenarioCommand_Pass(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	writeScenario(t, dir, "tiny.yaml", passingScenario)

	out, err := h.run("scenario", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ tiny")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestScenarioCommand_Fail(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	writeScenario(t, dir, "tiny.yaml", passingScenario)
	writeScenario(t, dir, "broken.yml", failingScenario)

	out, err := h.run("scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken")
	assert.Contains(t, out, "Assertion failed: outbox_count")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestScenarioCommand_Filter(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	writeScenario(t, dir, "tiny.yaml", passingScenario)
	writeScenario(t, dir, "broken.yaml", failingScenario)

	resp, err := h.runJSON("scenario", dir, "--filter", "ti*")
	require.NoError(t, err)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), data["total"])
	assert.Equal(t, float64(1), data["passed"])
}

func TestScenarioCommand_Golden(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	file := writeScenario(t, dir, "tiny.yaml", passingScenario)

	out, err := h.run("scenario", file, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ tiny (golden updated)")

	goldenPath := filepath.Join(dir, "golden", "tiny.golden")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"subject":"$space"`)

	resp, err := h.runJSON("scenario", dir)
	require.NoError(t, err)
	scenarios := resp.Data.(map[string]any)["scenarios"].([]any)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "match", scenarios[0].(map[string]any)["golden"])

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0o644))
	out, err = h.run("scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestScenarioCommand_LoadError(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	writeScenario(t, dir, "bad.yaml", "name: bad\n")

	out, err := h.run("scenario", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ bad.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestScenarioCommand_MissingPath(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("scenario", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenarioCommand_Empty(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("scenario", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}
