package evaluator_test

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocodesign/engrammar/internal/evaluator"
	"github.com/rocodesign/engrammar/internal/llmclient"
	"github.com/rocodesign/engrammar/internal/store"
	"github.com/rocodesign/engrammar/internal/store/sqlite"
	"github.com/rocodesign/engrammar/pkg/engram"
)

var errStub = errors.New("stub llm failure")

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "engrammar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fakeClient(t *testing.T, stdout string, err error) *llmclient.Client {
	t.Helper()
	c := llmclient.NewClient("haiku")
	c.Limiter = nil
	c.Breaker = nil
	c.LookPath = func(string) (string, error) { return "/usr/bin/claude", nil }
	c.RunCommand = func(ctx context.Context, name string, args []string, env []string) (string, string, error) {
		return stdout, "", err
	}
	return c
}

func TestParseResponsesDropsEntriesMissingEngramID(t *testing.T) {
	out, err := evaluator.ParseResponses(`[{"tag_scores":{"react":0.5}},{"engram_id":7,"tag_scores":{"go":1.0}}]`)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(7), out[0].EngramID)
	assert.Equal(t, 1.0, out[0].TagScores["go"])
}

func TestParseResponsesSurfacesReason(t *testing.T) {
	out, err := evaluator.ParseResponses(`[{"engram_id":17,"tag_scores":{"typescript":-0.5},"reason":"wrong context"}]`)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "wrong context", out[0].Reason)
}

func TestRunPendingMarksSessionCompletedAndFoldsRelevance(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id, err := s.Add(ctx, &engram.Engram{Text: "always check the lockfile", Category: "general"})
	require.NoError(t, err)
	require.NoError(t, s.WriteSessionAudit(ctx, store.SessionAudit{
		SessionID:      "sess-1",
		Repo:           "app-repo",
		EnvTags:        []string{"go"},
		ShownEngramIDs: []int64{id},
	}))

	client := fakeClient(t, `[{"engram_id":`+itoa(id)+`,"tag_scores":{"go":0.8}}]`, nil)

	e := &evaluator.Evaluator{Store: s, Engrams: s, Client: client}
	summary, err := e.RunPending(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 0, summary.Failed)

	rel, err := s.TagRelevanceForEngram(ctx, id)
	require.NoError(t, err)
	require.Len(t, rel, 1)
	assert.Greater(t, rel[0].EMA, 0.0)

	remaining, err := s.UnprocessedAuditSessions(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRunPendingMarksSessionFailedOnEmptyLLMResponse(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id, err := s.Add(ctx, &engram.Engram{Text: "lesson", Category: "general"})
	require.NoError(t, err)
	require.NoError(t, s.WriteSessionAudit(ctx, store.SessionAudit{
		SessionID:      "sess-2",
		EnvTags:        []string{"go"},
		ShownEngramIDs: []int64{id},
	}))

	client := fakeClient(t, "", errStub)

	e := &evaluator.Evaluator{Store: s, Engrams: s, Client: client}
	summary, err := e.RunPending(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	remaining, err := s.UnprocessedAuditSessions(ctx, 5)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, 1, remaining[0].RetryCount)
}

func TestRunPendingCompletesImmediatelyWhenNoEngramsShown(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.WriteSessionAudit(ctx, store.SessionAudit{SessionID: "sess-3"}))

	e := &evaluator.Evaluator{Store: s, Engrams: s, Client: fakeClient(t, "[]", nil)}
	summary, err := e.RunPending(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
}
