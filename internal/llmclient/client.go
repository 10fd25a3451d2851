// Package llmclient wraps subprocess invocations of the external `claude`
// CLI (the same "claude -p ... --no-session-persistence" interface
// original_source/src/extractor.py and evaluator.py shell out to), guarded
// by a circuit breaker and a request-rate limiter so a burst of
// evaluator/dedup/extractor work can't overwhelm the host machine.
package llmclient

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned when the `claude` binary isn't on PATH.
var ErrNotFound = errors.New("llmclient: claude CLI not found on PATH")

// ErrTimeout is returned when a call exceeds its deadline.
var ErrTimeout = errors.New("llmclient: claude CLI call timed out")

// defaultTimeout matches the 300s subprocess.run(timeout=300) in the
// original implementation.
const defaultTimeout = 300 * time.Second

// Client invokes the `claude` CLI in headless mode for one-shot prompts.
type Client struct {
	// Model is passed as --model (e.g. "haiku").
	Model string
	// Timeout overrides defaultTimeout when non-zero.
	Timeout time.Duration
	// Breaker guards against cascading subprocess failures. A nil Breaker
	// disables the protection (used in unit tests that fake exec.Command).
	Breaker *CircuitBreaker
	// Limiter throttles the rate of subprocess launches across concurrent
	// callers (evaluator batch + dedup passes can both want to call out).
	// A nil Limiter means unthrottled.
	Limiter *rate.Limiter

	// LookPath and RunCommand are overridable for tests and alternate
	// transports; nil uses exec.LookPath / os/exec.
	LookPath   func(string) (string, error)
	RunCommand func(ctx context.Context, name string, args []string, env []string) (stdout, stderr string, err error)
}

// NewClient returns a Client with the teacher-style defaults: haiku model,
// 300s timeout, a fresh circuit breaker, and a 1-request/second limiter (the
// original has no explicit rate limit, but concurrent evaluator+dedup
// batches calling out to the same local `claude` binary benefit from one).
func NewClient(model string) *Client {
	return &Client{
		Model:   model,
		Timeout: defaultTimeout,
		Breaker: NewCircuitBreaker(),
		Limiter: rate.NewLimiter(rate.Limit(1), 1),
	}
}

// Complete runs prompt through `claude -p <prompt> --model <model>
// --output-format text --no-session-persistence`, returning stdout with any
// markdown code fence stripped. ENGRAMMAR_INTERNAL_RUN=1 is set (and
// CLAUDECODE unset) so a nested invocation never thinks it's running inside
// an interactive session, mirroring extractor.py/evaluator.py's env setup.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := func() (interface{}, error) {
		return c.invoke(callCtx, prompt)
	}

	var out interface{}
	var err error
	if c.Breaker != nil {
		out, err = c.Breaker.Execute(callCtx, run)
	} else {
		out, err = run()
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (c *Client) invoke(ctx context.Context, prompt string) (string, error) {
	lookPath := c.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath("claude"); err != nil {
		return "", ErrNotFound
	}

	args := []string{"-p", prompt, "--model", c.Model, "--output-format", "text", "--no-session-persistence"}
	env := sanitizedEnv()

	runCommand := c.RunCommand
	if runCommand == nil {
		runCommand = defaultRunCommand
	}
	stdout, _, err := runCommand(ctx, "claude", args, env)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", ErrTimeout
	}
	if err != nil {
		return "", err
	}
	return stripFence(strings.TrimSpace(stdout)), nil
}

func sanitizedEnv() []string {
	env := os.Environ()
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "ENGRAMMAR_INTERNAL_RUN=1")
}

func defaultRunCommand(ctx context.Context, name string, args []string, env []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func stripFence(output string) string {
	if !strings.HasPrefix(output, "```") {
		return output
	}
	parts := strings.SplitN(output, "\n", 2)
	if len(parts) < 2 {
		return output
	}
	body := parts[1]
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
