package server

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/rocodesign/engrammar/internal/hookproto"
)

// handleMaintain spawns task (extract or evaluate) as a detached re-exec of
// the current binary, unless that task already has one running. Mirrors
// the "forked detached processes, not threads" design and the
// mutex-guarded running/stopCh shape used elsewhere in this daemon for
// single-flight background work, adapted here to track an *exec.Cmd per
// task name instead of a single goroutine.
func (s *Server) handleMaintain(req hookproto.Request) hookproto.Response {
	switch req.Task {
	case hookproto.TaskExtract, hookproto.TaskEvaluate:
	default:
		return hookproto.Response{Error: fmt.Sprintf("unknown maintenance task: %s", req.Task)}
	}

	if s.alreadyRunning(req.Task) {
		return hookproto.Response{Status: "already_running"}
	}

	cmd, err := s.spawnMaintenance(req)
	if err != nil {
		return hookproto.Response{Error: err.Error()}
	}

	s.trackMaintenance(req.Task, cmd)
	return hookproto.Response{Status: "started"}
}

func (s *Server) alreadyRunning(task string) bool {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()

	cmd, ok := s.maintTasks[task]
	if !ok {
		return false
	}
	if cmd.ProcessState != nil && cmd.ProcessState.Exited() {
		delete(s.maintTasks, task)
		return false
	}
	return true
}

func (s *Server) trackMaintenance(task string, cmd *exec.Cmd) {
	s.maintMu.Lock()
	s.maintTasks[task] = cmd
	s.maintMu.Unlock()

	go func() {
		_ = cmd.Wait()
		s.maintMu.Lock()
		delete(s.maintTasks, task)
		s.maintMu.Unlock()
	}()
}

// spawnMaintenance re-execs the current binary as `<binary> <task>
// --internal-run [--session <id>]`, detached from this process's session so
// it survives the daemon exiting on idle timeout mid-run.
func (s *Server) spawnMaintenance(req hookproto.Request) (*exec.Cmd, error) {
	binary := s.BinaryPath
	if binary == "" {
		path, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("server: resolving binary path: %w", err)
		}
		binary = path
	}

	args := []string{req.Task, "--internal-run"}
	if req.SessionID != "" {
		args = append(args, "--session", req.SessionID)
	}
	if req.TranscriptPath != "" {
		args = append(args, "--transcript", req.TranscriptPath)
	}

	cmd := exec.Command(binary, args...)
	cmd.Env = append(os.Environ(), "ENGRAMMAR_INTERNAL_RUN=1")
	detachFromSession(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("server: starting %s maintenance: %w", req.Task, err)
	}
	return cmd, nil
}
