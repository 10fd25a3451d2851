// Package daemonclient talks to the engrammar-daemon over its Unix socket,
// starting the daemon lazily on first use and tolerating a stale socket left
// behind by a daemon that crashed. Ported from
// original_source/src/client.py's _connect/_start_daemon/send_request.
package daemonclient

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/rocodesign/engrammar/internal/hookproto"
)

// connectTimeout matches client.py's send_request default timeout=5.0.
const connectTimeout = 5 * time.Second

// startupPollInterval/startupPollAttempts match _start_daemon's
// `for _ in range(30): time.sleep(0.1)` — up to three seconds for the
// daemon to warm up and create its socket.
const (
	startupPollInterval = 100 * time.Millisecond
	startupPollAttempts = 30
)

// Client sends requests to the daemon, starting it if necessary.
type Client struct {
	SocketPath string
	// DaemonBinary is the engrammar-daemon executable to launch when no
	// daemon is listening. Empty, with Launch also nil, disables auto-start
	// (Send then returns an error saying no daemon is listening).
	DaemonBinary string
	LogPath      string

	// Launch starts the daemon; nil uses the real exec.Command-based
	// launchDaemon. Overridable so tests can assert a launch was
	// attempted without spawning a real subprocess.
	Launch func() error
}

// Send delivers req to the daemon. If nothing answers on SocketPath yet, it
// starts the daemon in the background and polls for the socket up to
// startupPollAttempts times.
func (c *Client) Send(ctx context.Context, req hookproto.Request) (hookproto.Response, error) {
	conn, err := c.dial()
	if err != nil {
		conn, err = c.startAndDial()
		if err != nil {
			return hookproto.Response{}, err
		}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(connectTimeout))
	}

	if err := hookproto.WriteRequest(conn, req); err != nil {
		return hookproto.Response{}, fmt.Errorf("daemonclient: writing request: %w", err)
	}
	resp, err := hookproto.ReadResponse(conn)
	if err != nil {
		return hookproto.Response{}, fmt.Errorf("daemonclient: reading response: %w", err)
	}
	return resp, nil
}

func (c *Client) dial() (net.Conn, error) {
	return net.DialTimeout("unix", c.SocketPath, connectTimeout)
}

// startAndDial removes a stale socket (if any), launches the daemon
// detached, and polls for the socket to appear, matching _start_daemon.
func (c *Client) startAndDial() (net.Conn, error) {
	if c.DaemonBinary == "" && c.Launch == nil {
		return nil, fmt.Errorf("daemonclient: no daemon listening at %s and auto-start is disabled", c.SocketPath)
	}
	if _, err := os.Stat(c.SocketPath); err == nil {
		_ = os.Remove(c.SocketPath)
	}

	launch := c.Launch
	if launch == nil {
		launch = c.launchDaemon
	}
	if err := launch(); err != nil {
		return nil, fmt.Errorf("daemonclient: starting daemon: %w", err)
	}

	for i := 0; i < startupPollAttempts; i++ {
		time.Sleep(startupPollInterval)
		if conn, err := c.dial(); err == nil {
			return conn, nil
		}
	}
	return nil, fmt.Errorf("daemonclient: daemon did not come up at %s within %s", c.SocketPath, startupPollInterval*startupPollAttempts)
}

func (c *Client) launchDaemon() error {
	cmd := exec.Command(c.DaemonBinary)
	detachFromSession(cmd)

	if c.LogPath != "" {
		logFile, err := os.OpenFile(c.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	return cmd.Start()
}
