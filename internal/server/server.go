// Package server implements the Engrammar search daemon: a Unix socket
// listener that answers newline-framed JSON requests from the hook scripts
// (search, tool_context, pinned, ping, maintain) and shuts itself down after
// an idle period. Ported from original_source/src/daemon.py's
// EngrammarDaemon, with the accept-loop/idle-timeout/graceful-shutdown shape
// built on the same goroutine + stopCh idiom used for background services
// throughout this codebase, adapted here to a single-threaded accept loop
// (the original never accepts two connections at once either) plus a
// subprocess single-flight table for background maintenance.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rocodesign/engrammar/internal/autopin"
	"github.com/rocodesign/engrammar/internal/environment"
	"github.com/rocodesign/engrammar/internal/hookproto"
	"github.com/rocodesign/engrammar/internal/retriever"
	"github.com/rocodesign/engrammar/internal/store"
)

// idleTimeout matches daemon.py's IDLE_TIMEOUT (15 minutes).
const idleTimeout = 15 * time.Minute

// acceptTimeout matches daemon.py's server.settimeout(5.0) idle-check cadence.
const acceptTimeout = 5 * time.Second

// Server answers daemon requests over a Unix socket.
type Server struct {
	SocketPath string

	Store     store.EngramStore
	Retriever *retriever.Retriever
	AutoPin   *autopin.Engine
	Probe     *environment.Probe

	// BinaryPath is re-exec'd for background maintenance passes (`extract
	// --internal-run` / `evaluate --internal-run`). Defaults to
	// os.Executable() when empty.
	BinaryPath string

	// Logger receives the same operational lines daemon.py writes to
	// .daemon.log. A nil Logger discards them.
	Logger *log.Logger

	startTime    time.Time
	lastActivity time.Time
	mu           sync.Mutex

	maintMu    sync.Mutex
	maintTasks map[string]*exec.Cmd

	// displayPromptCap / displayToolCap mirror display.max_engrams_per_prompt
	// / display.max_engrams_per_tool: per-hook-type overrides for
	// search.top_k (zero means "no override, use the retriever's default").
	// Stored atomically since the config watcher updates them from a
	// goroutine other than the one handling requests.
	displayPromptCap atomic.Int32
	displayToolCap   atomic.Int32
}

// SetDisplayCaps sets the per-hook-type result caps (display.max_engrams_per_prompt
// / display.max_engrams_per_tool). Safe to call concurrently with request
// handling. Zero disables the override for that hook type.
func (s *Server) SetDisplayCaps(maxPerPrompt, maxPerTool int) {
	s.displayPromptCap.Store(int32(maxPerPrompt))
	s.displayToolCap.Store(int32(maxPerTool))
}

// New returns a Server ready for Run.
func New(socketPath string, st store.EngramStore, r *retriever.Retriever, ap *autopin.Engine, probe *environment.Probe) *Server {
	return &Server{
		SocketPath: socketPath,
		Store:      st,
		Retriever:  r,
		AutoPin:    ap,
		Probe:      probe,
		maintTasks: make(map[string]*exec.Cmd),
	}
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// Run binds the socket (removing a stale one left by a crashed daemon
// first), then accepts connections one at a time until the idle timeout
// elapses or ctx is cancelled. Mirrors daemon.py's run(): probe-and-remove
// a pre-existing socket, accept with a short timeout so the idle check runs
// regularly, clean up the socket file on exit.
func (s *Server) Run(ctx context.Context) error {
	if err := s.removeStaleSocket(); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.SocketPath, err)
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.SocketPath)
	}()

	now := time.Now()
	s.mu.Lock()
	s.startTime = now
	s.lastActivity = now
	s.mu.Unlock()

	s.logf("daemon started (pid=%d, idle_timeout=%s)", os.Getpid(), idleTimeout)

	unixListener, ok := listener.(*net.UnixListener)
	if !ok {
		return errors.New("server: expected a *net.UnixListener")
	}

	for {
		select {
		case <-ctx.Done():
			s.logf("daemon stopping (context cancelled)")
			return nil
		default:
		}

		if s.idleFor() > idleTimeout {
			s.logf("idle timeout reached, shutting down")
			return nil
		}

		_ = unixListener.SetDeadline(time.Now().Add(acceptTimeout))
		conn, err := unixListener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		shouldStop := s.handleConnection(ctx, conn)
		if shouldStop {
			s.logf("shutdown requested")
			return nil
		}
	}
}

// removeStaleSocket matches daemon.py's startup probe: if a socket file
// already exists, try connecting to it; a live daemon means we should not
// start a second one, a dead one means the file is stale and safe to
// remove.
func (s *Server) removeStaleSocket() error {
	if _, err := os.Stat(s.SocketPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	conn, err := net.DialTimeout("unix", s.SocketPath, time.Second)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("server: another daemon is already listening on %s", s.SocketPath)
	}
	return os.Remove(s.SocketPath)
}

func (s *Server) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

func (s *Server) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// handleConnection reads one request, dispatches it, writes one response,
// and reports whether the server should stop after this connection. A
// panic from request handling is recovered and turned into an error
// response so one bad request never takes the daemon down.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) (shouldStop bool) {
	defer conn.Close()

	defer func() {
		if r := recover(); r != nil {
			s.logf("recovered panic handling connection: %v", r)
			_ = hookproto.WriteResponse(conn, hookproto.Response{Error: fmt.Sprintf("internal error: %v", r)})
		}
	}()

	req, err := hookproto.ReadRequest(conn)
	if err != nil {
		s.logf("error reading request: %v", err)
		return false
	}

	s.touch()
	resp, stop := s.handleRequest(ctx, req)
	if err := hookproto.WriteResponse(conn, resp); err != nil {
		s.logf("error writing response: %v", err)
	}
	return stop
}

// handleRequest dispatches one parsed request, mirroring daemon.py's
// _handle_request.
func (s *Server) handleRequest(ctx context.Context, req hookproto.Request) (hookproto.Response, bool) {
	switch req.Type {
	case hookproto.RequestSearch:
		return s.handleSearch(ctx, req), false
	case hookproto.RequestToolContext:
		return s.handleToolContext(ctx, req), false
	case hookproto.RequestPinned:
		return s.handlePinned(ctx), false
	case hookproto.RequestMaintain:
		return s.handleMaintain(req), false
	case hookproto.RequestPing:
		return s.handlePing(), false
	case hookproto.RequestShutdown:
		return hookproto.Response{Status: "shutting_down"}, true
	default:
		return hookproto.Response{Error: fmt.Sprintf("unknown request type: %s", req.Type)}, false
	}
}

func (s *Server) handleSearch(ctx context.Context, req hookproto.Request) hookproto.Response {
	topK := req.TopK
	if topK <= 0 {
		topK = int(s.displayPromptCap.Load())
	}
	results, err := s.Retriever.Search(ctx, req.Query, retriever.Options{
		CategoryFilter: req.CategoryFilter,
		TopK:           topK,
	})
	if err != nil {
		return hookproto.Response{Error: err.Error()}
	}
	return hookproto.Response{Results: viewsOf(results)}
}

func (s *Server) handleToolContext(ctx context.Context, req hookproto.Request) hookproto.Response {
	query := retriever.BuildToolQuery(req.ToolName, req.ToolInput)
	results, err := s.Retriever.Search(ctx, query, retriever.Options{
		TopK:      int(s.displayToolCap.Load()),
		HookEvent: "PreToolUse",
	})
	if err != nil {
		return hookproto.Response{Error: err.Error()}
	}
	return hookproto.Response{Results: viewsOf(results)}
}

func (s *Server) handlePinned(ctx context.Context) hookproto.Response {
	pinned, err := s.Store.ListPinned(ctx)
	if err != nil {
		return hookproto.Response{Error: err.Error()}
	}

	env := s.Probe.Detect(ctx)
	views := make([]hookproto.EngramView, 0, len(pinned))
	for _, p := range pinned {
		if environment.CheckPrerequisites(p.Prerequisites, env) {
			views = append(views, hookproto.ViewOf(p))
		}
	}
	return hookproto.Response{Results: views}
}

func (s *Server) handlePing() hookproto.Response {
	s.mu.Lock()
	uptime := time.Since(s.startTime).Seconds()
	idle := time.Since(s.lastActivity).Seconds()
	s.mu.Unlock()
	return hookproto.Response{Status: "ok", Uptime: round1(uptime), Idle: round1(idle)}
}

func viewsOf(results []retriever.Result) []hookproto.EngramView {
	views := make([]hookproto.EngramView, len(results))
	for i, r := range results {
		views[i] = hookproto.ViewOf(r.Engram)
	}
	return views
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
