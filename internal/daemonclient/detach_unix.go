//go:build !windows

package daemonclient

import (
	"os/exec"
	"syscall"
)

// detachFromSession matches client.py's subprocess.Popen(..., start_new_session=True):
// the daemon keeps running after the CLI invocation that launched it exits.
func detachFromSession(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
