package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteStripsMarkdownFence(t *testing.T) {
	c := NewClient("haiku")
	c.Limiter = nil
	c.LookPath = func(string) (string, error) { return "/usr/bin/claude", nil }
	c.RunCommand = func(ctx context.Context, name string, args []string, env []string) (string, string, error) {
		return "```json\n[{\"engram_id\":1}]\n```", "", nil
	}

	out, err := c.Complete(context.Background(), "evaluate this")
	require.NoError(t, err)
	assert.Equal(t, `[{"engram_id":1}]`, out)
}

func TestCompleteReturnsErrNotFoundWhenCLIMissing(t *testing.T) {
	c := NewClient("haiku")
	c.Limiter = nil
	c.LookPath = func(string) (string, error) { return "", errors.New("not found") }

	_, err := c.Complete(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteSanitizesEnvironment(t *testing.T) {
	c := NewClient("haiku")
	c.Limiter = nil
	c.LookPath = func(string) (string, error) { return "/usr/bin/claude", nil }

	var gotEnv []string
	c.RunCommand = func(ctx context.Context, name string, args []string, env []string) (string, string, error) {
		gotEnv = env
		return "ok", "", nil
	}

	_, err := c.Complete(context.Background(), "p")
	require.NoError(t, err)

	found := false
	for _, kv := range gotEnv {
		if kv == "ENGRAMMAR_INTERNAL_RUN=1" {
			found = true
		}
		assert.NotContains(t, kv, "CLAUDECODE=")
	}
	assert.True(t, found, "ENGRAMMAR_INTERNAL_RUN=1 must be set")
}

func TestCompleteOpensCircuitAfterConsecutiveFailures(t *testing.T) {
	c := NewClient("haiku")
	c.Limiter = nil
	c.LookPath = func(string) (string, error) { return "/usr/bin/claude", nil }
	c.RunCommand = func(ctx context.Context, name string, args []string, env []string) (string, string, error) {
		return "", "boom", errors.New("exit status 1")
	}

	for i := 0; i < 3; i++ {
		_, err := c.Complete(context.Background(), "p")
		assert.Error(t, err)
	}

	_, err := c.Complete(context.Background(), "p")
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
