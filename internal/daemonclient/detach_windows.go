//go:build windows

package daemonclient

import "os/exec"

func detachFromSession(cmd *exec.Cmd) {}
