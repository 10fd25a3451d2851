//go:build !windows

package server

import (
	"os/exec"
	"syscall"
)

// detachFromSession starts cmd in its own session, matching daemon.py's
// client.py subprocess.Popen(..., start_new_session=True): a maintenance
// pass keeps running even if the daemon that spawned it exits first.
func detachFromSession(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
