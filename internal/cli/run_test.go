package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/protocol"
	"github.com/roach88/replica/internal/syncer"
)

// syncBuffer is a bytes.Buffer safe for a command writing while the test
// reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// startRun launches the run command in the background. The returned
// function cancels it and waits for its error.
func (h *cliHarness) startRun(args ...string) (stdout, stderr *syncBuffer, stop func() error) {
	h.t.Helper()
	stdout, stderr = &syncBuffer{}, &syncBuffer{}
	cmd := newRootCommand(h.options())
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--db", h.db, "run"}, args...))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	stop = func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			h.t.Fatal("run did not stop")
			return nil
		}
	}
	h.t.Cleanup(func() { cancel() })
	return stdout, stderr, stop
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replica.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	assert.Equal(t, "run", runCmd.Name())
	assert.Contains(t, runCmd.Long, "server.websocket_url")
}

func TestRun_NothingConfiguredStopsCleanly(t *testing.T) {
	h := newHarness(t)

	stdout, stderr, stop := h.startRun()
	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "Replica running")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, stop())
	assert.Contains(t, stderr.String(), "push disabled")
	assert.Contains(t, stderr.String(), "pull disabled")
	assert.Contains(t, stderr.String(), "replica stopped gracefully")
}

func TestRun_RejectsArgs(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("run", "extra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRun_PushesOutbox(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("mutate", "node.create", "--input", `{"nodeType":"space"}`)
	require.NoError(t, err)

	received := make(chan []string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != syncer.MutationsPath || r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		var in protocol.SyncMutationsInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := protocol.SyncMutationsOutput{}
		ids := make([]string, len(in.Mutations))
		for i, m := range in.Mutations {
			ids[i] = m.ID
			out.Results = append(out.Results, protocol.MutationResult{ID: m.ID, Status: protocol.StatusOK})
		}
		received <- ids
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	cfg := writeConfig(t, fmt.Sprintf("server:\n  url: %s\n  token: tok\n", srv.URL))
	_, stderr, stop := h.startRun("--config", cfg)

	select {
	case ids := <-received:
		assert.Len(t, ids, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("no push received")
	}
	require.Eventually(t, func() bool {
		return strings.Contains(stderr.String(), "push reconciled")
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())

	out, err := h.run("outbox")
	require.NoError(t, err)
	assert.Equal(t, "Outbox empty\n", out)
}

func TestRun_PullUnauthorizedStops(t *testing.T) {
	h := newHarness(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg := writeConfig(t, fmt.Sprintf("server:\n  websocket_url: %s\nsync:\n  synchronizers: [users]\n", wsURL))

	errOut := &bytes.Buffer{}
	cmd := newRootCommand(h.options())
	cmd.SetOut(io.Discard)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"--db", h.db, "--config", cfg, "run"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "sync stopped")
	assert.NoError(t, ctx.Err(), "run must stop on its own")
}

func TestRun_ServesMetrics(t *testing.T) {
	h := newHarness(t)
	cfg := writeConfig(t, "metrics:\n  addr: 127.0.0.1:0\n")

	stdout, _, stop := h.startRun("--config", cfg)

	addr := regexp.MustCompile(`Metrics on (http://\S+)`)
	var url string
	require.Eventually(t, func() bool {
		m := addr.FindStringSubmatch(stdout.String())
		if m == nil {
			return false
		}
		url = m[1]
		return true
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "replica_outbox_depth")
	assert.Contains(t, string(body), "go_goroutines")

	require.NoError(t, stop())
}

func TestRun_MetricsListenFailureStartsNothing(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("mutate", "node.create", "--input", `{"nodeType":"space"}`)
	require.NoError(t, err)

	var pushes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushes.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := writeConfig(t, fmt.Sprintf("server:\n  url: %s\nmetrics:\n  addr: %s\n", srv.URL, busy.Addr()))
	_, err = h.run("--config", cfg, "run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to listen for metrics")
	assert.Zero(t, pushes.Load(), "the pusher never started")

	out, err := h.run("outbox")
	require.NoError(t, err)
	assert.Contains(t, out, "node.create")
}
