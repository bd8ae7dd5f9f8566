package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/config"
)

// cliHarness runs root commands against an isolated home directory and
// database.
type cliHarness struct {
	t    *testing.T
	home string
	db   string
	env  map[string]string
}

func newHarness(t *testing.T) *cliHarness {
	t.Helper()
	dir := t.TempDir()
	return &cliHarness{
		t:    t,
		home: filepath.Join(dir, "home"),
		db:   filepath.Join(dir, "replica.db"),
		env:  map[string]string{},
	}
}

func (h *cliHarness) options() *RootOptions {
	return &RootOptions{
		loaderOpts: []config.LoaderOption{
			config.WithHomeDir(h.home),
			config.WithStartDir(h.home),
			config.WithGetenv(func(k string) string { return h.env[k] }),
		},
	}
}

// run executes args with --db pointing at the harness database and
// returns stdout.
func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := newRootCommand(h.options())
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{"--db", h.db}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// runJSON executes args with --format json and decodes the response.
func (h *cliHarness) runJSON(args ...string) (CLIResponse, error) {
	h.t.Helper()
	out, err := h.run(append([]string{"--format", "json"}, args...)...)
	var resp CLIResponse
	require.NoError(h.t, json.Unmarshal([]byte(out), &resp), "stdout: %s", out)
	return resp, err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "replica", cmd.Use)
	assert.Contains(t, cmd.Long, "local SQLite replica")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"run", "query", "mutate", "outbox", "config", "id", "index", "scenario"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "db"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestInvalidFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("--format", "xml", "index")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestMutateAndQuery(t *testing.T) {
	h := newHarness(t)

	resp, err := h.runJSON("mutate", "node.create",
		"--input", `{"nodeType":"space"}`,
		"--attr", "name=Team",
	)
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Status)
	created := resp.Data.(map[string]any)
	spaceID, _ := created["id"].(string)
	require.NotEmpty(t, spaceID)
	assert.Equal(t, "space", created["type"])

	_, err = h.run("mutate", "node.create",
		"--input", `{"nodeType":"page","parentId":"`+spaceID+`"}`,
		"--text", "title=Roadmap",
	)
	require.NoError(t, err)

	out, err := h.run("query", "node.children.list", "--input", `{"parentId":"`+spaceID+`"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "page")
	assert.Contains(t, out, "title: Roadmap")

	out, err = h.run("query", "node.get", "--input", `{"nodeId":"`+spaceID+`"}`)
	require.NoError(t, err)
	assert.Contains(t, out, spaceID)
	assert.Contains(t, out, "name: Team")

	resp, err = h.runJSON("outbox")
	require.NoError(t, err)
	assert.Equal(t, float64(2), resp.Data.(map[string]any)["total"])
}

func TestMutate_Failure(t *testing.T) {
	h := newHarness(t)

	resp, err := h.runJSON("mutate", "node.update",
		"--input", `{"nodeId":"missing"}`,
		"--attr", "name=x",
	)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMutationFailed, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "node_not_found")
}

func TestMutate_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown_type", []string{"mutate", "node.explode"}},
		{"bad_json", []string{"mutate", "node.delete", "--input", "{"}},
		{"bad_attr", []string{"mutate", "node.create", "--input", `{"nodeType":"space"}`, "--attr", "name"}},
		{"duplicate_attr", []string{"mutate", "node.create", "--input", `{"nodeType":"space"}`, "--attr", "a=1", "--text", "a=2"}},
		{"attrs_not_taken", []string{"mutate", "node.delete", "--input", `{"nodeId":"x"}`, "--attr", "a=1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			resp, err := h.runJSON(tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			require.NotNil(t, resp.Error)
			assert.Equal(t, ErrCodeInvalidInput, resp.Error.Code)
		})
	}
}

func TestQuery_NotFound(t *testing.T) {
	h := newHarness(t)

	resp, err := h.runJSON("query", "node.get", "--input", `{"nodeId":"nope"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeQueryFailed, resp.Error.Code)
	assert.Equal(t, map[string]any{"type": "node.get", "code": "node_not_found"}, resp.Error.Details)
}

func TestQuery_UnknownType(t *testing.T) {
	h := newHarness(t)

	resp, err := h.runJSON("query", "node.everything")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeInvalidInput, resp.Error.Code)
}

func TestQuery_Document(t *testing.T) {
	h := newHarness(t)

	resp, err := h.runJSON("mutate", "node.create", "--input", `{"nodeType":"page"}`)
	require.NoError(t, err)
	pageID := resp.Data.(map[string]any)["id"].(string)

	_, err = h.run("mutate", "document.update",
		"--input", `{"documentId":"`+pageID+`","blockType":"paragraph","text":"hello world"}`,
	)
	require.NoError(t, err)

	out, err := h.run("query", "document.get", "--input", `{"documentId":"`+pageID+`"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "document "+pageID+" (1 blocks)")
	assert.Contains(t, out, "[paragraph] hello world")
}

func TestOutbox(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("outbox")
	require.NoError(t, err)
	assert.Equal(t, "Outbox empty\n", out)

	for range 3 {
		_, err := h.run("mutate", "node.create", "--input", `{"nodeType":"space"}`)
		require.NoError(t, err)
	}

	out, err = h.run("outbox", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "ATTEMPTS")
	assert.Contains(t, out, "node.create")
	assert.Contains(t, out, "... 1 more")

	out, err = h.run("outbox", "--failed")
	require.NoError(t, err)
	assert.Equal(t, "No failed mutations\n", out)

	_, err = h.run("outbox", "--limit", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigCommand(t *testing.T) {
	h := newHarness(t)
	h.env[config.TokenEnv] = "s3cret"

	out, err := h.run("config")
	require.NoError(t, err)
	assert.Contains(t, out, "path: "+h.db)
	assert.Contains(t, out, "token: <redacted>")
	assert.NotContains(t, out, "s3cret")

	resp, err := h.runJSON("config", "--init")
	require.NoError(t, err)
	view := resp.Data.(map[string]any)
	assert.Equal(t, filepath.Join(h.home, config.UserConfigDir, config.UserConfigFile), view["userConfig"])
	assert.FileExists(t, view["userConfig"].(string))
	settings := view["settings"].(map[string]any)
	assert.Equal(t, float64(50), settings["sync"].(map[string]any)["batch_size"])
}

func TestConfigCommand_Invalid(t *testing.T) {
	h := newHarness(t)
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("sync:\n  batch_size: 5000\n"), 0o644))

	resp, err := h.runJSON("--config", bad, "config")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
	details := resp.Error.Details.(map[string]any)
	assert.Contains(t, details["field"], "batch_size")
}

func TestIDCommand(t *testing.T) {
	h := newHarness(t)

	resp, err := h.runJSON("id", "pg", "--count", "3")
	require.NoError(t, err)
	ids := resp.Data.([]any)
	require.Len(t, ids, 3)
	for _, id := range ids {
		assert.Regexp(t, `^[0-9a-z]{26}pg$`, id)
	}

	_, err = h.run("id", "zz")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = h.run("id", "pg", "-n", "0")
	require.Error(t, err)
}

func TestIndexCommand(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("index")
	require.NoError(t, err)
	assert.Equal(t, "a0\n", out)

	resp, err := h.runJSON("index", "--after", "a0", "--before", "a1", "--count", "3")
	require.NoError(t, err)
	keys := resp.Data.([]any)
	require.Len(t, keys, 3)
	prev := "a0"
	for _, k := range keys {
		assert.Greater(t, k.(string), prev)
		assert.Less(t, k.(string), "a1")
		prev = k.(string)
	}

	_, err = h.run("index", "--after", "a1", "--before", "a0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
