//go:build windows

package server

import "os/exec"

// detachFromSession is a no-op on windows; CREATE_NEW_PROCESS_GROUP is not
// needed for this daemon's only realistic deployment target (Claude Code's
// hook runtime, which ships on macOS/Linux).
func detachFromSession(cmd *exec.Cmd) {}
