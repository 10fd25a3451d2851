package server_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocodesign/engrammar/internal/environment"
	"github.com/rocodesign/engrammar/internal/hookproto"
	"github.com/rocodesign/engrammar/internal/retriever"
	"github.com/rocodesign/engrammar/internal/server"
	"github.com/rocodesign/engrammar/internal/store/sqlite"
	"github.com/rocodesign/engrammar/internal/vectorindex"
	"github.com/rocodesign/engrammar/pkg/engram"
)

func newTestServer(t *testing.T) (*server.Server, *sqlite.Store, string) {
	t.Helper()
	dir := t.TempDir()

	s, err := sqlite.Open(filepath.Join(dir, "engrammar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	embedder := vectorindex.NewHashEmbedder(32)
	idx, err := vectorindex.Open(filepath.Join(dir, "engrams.idx"), embedder)
	require.NoError(t, err)

	r := &retriever.Retriever{
		Store:     s,
		Relevance: s,
		Index:     idx,
		Embedder:  embedder,
		Probe:     &environment.Probe{WorkDir: dir},
	}
	r.SetDefaultTopK(5)

	socketPath := filepath.Join(dir, "daemon.sock")
	srv := server.New(socketPath, s, r, nil, &environment.Probe{WorkDir: dir})
	return srv, s, socketPath
}

// runServer starts srv.Run in the background and returns a cancel func that
// stops it, waiting for the goroutine to exit.
func runServer(t *testing.T, srv *server.Server) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}

func TestPingReportsStatusOK(t *testing.T) {
	srv, _, socketPath := newTestServer(t)
	stop := runServer(t, srv)
	defer stop()
	waitForSocket(t, socketPath)

	resp := sendRequest(t, socketPath, hookproto.Request{Type: hookproto.RequestPing})
	assert.Equal(t, "ok", resp.Status)
	assert.GreaterOrEqual(t, resp.Uptime, 0.0)
}

func TestSearchReturnsMatchingEngram(t *testing.T) {
	srv, store, socketPath := newTestServer(t)
	ctx := context.Background()
	_, err := store.Add(ctx, &engram.Engram{Text: "always cancel goroutine contexts", Category: "go"})
	require.NoError(t, err)

	stop := runServer(t, srv)
	defer stop()
	waitForSocket(t, socketPath)

	resp := sendRequest(t, socketPath, hookproto.Request{Type: hookproto.RequestSearch, Query: "cancel goroutine contexts"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "always cancel goroutine contexts", resp.Results[0].Text)
}

func TestToolContextBuildsQueryFromToolInput(t *testing.T) {
	srv, store, socketPath := newTestServer(t)
	ctx := context.Background()
	_, err := store.Add(ctx, &engram.Engram{Text: "grep before editing a large file", Category: "general"})
	require.NoError(t, err)

	stop := runServer(t, srv)
	defer stop()
	waitForSocket(t, socketPath)

	resp := sendRequest(t, socketPath, hookproto.Request{
		Type:      hookproto.RequestToolContext,
		ToolName:  "Edit",
		ToolInput: map[string]interface{}{"file_path": "large file"},
	})
	require.Len(t, resp.Results, 1)
}

func TestPinnedFiltersByPrerequisites(t *testing.T) {
	srv, store, socketPath := newTestServer(t)
	ctx := context.Background()

	matchID, err := store.Add(ctx, &engram.Engram{Text: "pinned and unscoped", Category: "general"})
	require.NoError(t, err)
	require.NoError(t, store.SetPinned(ctx, matchID, true, false, engram.Prerequisites{}))

	scopedID, err := store.Add(ctx, &engram.Engram{Text: "pinned but repo scoped", Category: "general"})
	require.NoError(t, err)
	require.NoError(t, store.SetPinned(ctx, scopedID, true, false, engram.Prerequisites{Repos: []string{"other-repo"}}))

	stop := runServer(t, srv)
	defer stop()
	waitForSocket(t, socketPath)

	resp := sendRequest(t, socketPath, hookproto.Request{Type: hookproto.RequestPinned})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "pinned and unscoped", resp.Results[0].Text)
}

func TestUnknownRequestTypeReturnsError(t *testing.T) {
	srv, _, socketPath := newTestServer(t)
	stop := runServer(t, srv)
	defer stop()
	waitForSocket(t, socketPath)

	resp := sendRequest(t, socketPath, hookproto.Request{Type: "bogus"})
	assert.Contains(t, resp.Error, "unknown request type")
}

func TestShutdownRequestStopsAcceptLoop(t *testing.T) {
	srv, _, socketPath := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	waitForSocket(t, socketPath)

	resp := sendRequest(t, socketPath, hookproto.Request{Type: hookproto.RequestShutdown})
	assert.Equal(t, "shutting_down", resp.Status)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after shutdown request")
	}
}

func TestMaintainSingleFlightSkipsSecondSpawnWhileFirstRuns(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("detach-from-session test targets unix process groups")
	}

	srv, _, socketPath := newTestServer(t)
	srv.BinaryPath = writeSleeperScript(t)

	stop := runServer(t, srv)
	defer stop()
	waitForSocket(t, socketPath)

	first := sendRequest(t, socketPath, hookproto.Request{Type: hookproto.RequestMaintain, Task: hookproto.TaskExtract, SessionID: "s1"})
	assert.Equal(t, "started", first.Status)

	second := sendRequest(t, socketPath, hookproto.Request{Type: hookproto.RequestMaintain, Task: hookproto.TaskExtract, SessionID: "s2"})
	assert.Equal(t, "already_running", second.Status)
}

func TestMaintainRejectsUnknownTask(t *testing.T) {
	srv, _, socketPath := newTestServer(t)
	stop := runServer(t, srv)
	defer stop()
	waitForSocket(t, socketPath)

	resp := sendRequest(t, socketPath, hookproto.Request{Type: hookproto.RequestMaintain, Task: "polish"})
	assert.Contains(t, resp.Error, "unknown maintenance task")
}

// writeSleeperScript writes a shell script that sleeps for a couple of
// seconds regardless of the arguments it's called with (spawnMaintenance
// always appends --internal-run and friends), so the single-flight test
// can observe a maintenance task still "running" on the second request.
func writeSleeperScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sleeper.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 2\n"), 0o755))
	return path
}

func sendRequest(t *testing.T, socketPath string, req hookproto.Request) hookproto.Response {
	t.Helper()
	conn, err := dialWithRetry(socketPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, hookproto.WriteRequest(conn, req))
	resp, err := hookproto.ReadResponse(conn)
	require.NoError(t, err)
	return resp
}

func dialWithRetry(socketPath string) (net.Conn, error) {
	var lastErr error
	for i := 0; i < 25; i++ {
		conn, err := net.DialTimeout("unix", socketPath, time.Second)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(20 * time.Millisecond)
	}
	return nil, lastErr
}
