package daemonclient_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocodesign/engrammar/internal/daemonclient"
	"github.com/rocodesign/engrammar/internal/hookproto"
)

// serveOnce accepts a single connection on socketPath, echoes back a fixed
// response to whatever request it receives, then stops listening.
func serveOnce(t *testing.T, socketPath string, resp hookproto.Response) {
	t.Helper()
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	go func() {
		defer listener.Close()
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = hookproto.ReadRequest(conn)
		_ = hookproto.WriteResponse(conn, resp)
	}()
}

func TestSendRoundTripsAgainstAnExistingDaemon(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "daemon.sock")
	serveOnce(t, socketPath, hookproto.Response{Status: "ok", Uptime: 12.3})

	client := &daemonclient.Client{SocketPath: socketPath}
	resp, err := client.Send(context.Background(), hookproto.Request{Type: hookproto.RequestPing})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 12.3, resp.Uptime)
}

func TestSendFailsFastWhenNoDaemonAndAutoStartDisabled(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "daemon.sock")

	client := &daemonclient.Client{SocketPath: socketPath}
	_, err := client.Send(context.Background(), hookproto.Request{Type: hookproto.RequestPing})
	assert.Error(t, err)
}

// TestSendLaunchesDaemonWhenNoneListening exercises the launch-then-poll
// path: nothing is listening on socketPath, so Send must invoke Launch and
// then retry dialing until a listener appears, mirroring _start_daemon's
// "poll up to three seconds for the socket" behavior.
func TestSendLaunchesDaemonWhenNoneListening(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "daemon.sock")

	launched := false
	client := &daemonclient.Client{
		SocketPath: socketPath,
		Launch: func() error {
			launched = true
			go func() {
				time.Sleep(150 * time.Millisecond)
				serveOnce(t, socketPath, hookproto.Response{Status: "ok"})
			}()
			return nil
		},
	}

	resp, err := client.Send(context.Background(), hookproto.Request{Type: hookproto.RequestPing})
	require.NoError(t, err)
	assert.True(t, launched)
	assert.Equal(t, "ok", resp.Status)
}

func TestSendRemovesStaleSocketBeforeLaunching(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "daemon.sock")

	// A socket file left behind by a daemon that crashed: present on disk,
	// but nothing is listening on it.
	stale, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	require.NoError(t, stale.Close())

	client := &daemonclient.Client{
		SocketPath: socketPath,
		Launch: func() error {
			go serveOnce(t, socketPath, hookproto.Response{Status: "ok"})
			return nil
		},
	}

	resp, err := client.Send(context.Background(), hookproto.Request{Type: hookproto.RequestPing})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestSendSurfacesLaunchFailure(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "daemon.sock")

	client := &daemonclient.Client{
		SocketPath: socketPath,
		Launch: func() error {
			return assert.AnError
		},
	}

	_, err := client.Send(context.Background(), hookproto.Request{Type: hookproto.RequestPing})
	assert.Error(t, err)
}
