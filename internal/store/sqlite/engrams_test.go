package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storepkg "github.com/rocodesign/engrammar/internal/store"
	"github.com/rocodesign/engrammar/internal/store/sqlite"
	"github.com/rocodesign/engrammar/pkg/engram"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := sqlite.Open(filepath.Join(dir, "engrammar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Add(ctx, &engram.Engram{
		Text:     "Always cancel contexts you create.",
		Category: "development/go/concurrency",
		Source:   engram.SourceManual,
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Always cancel contexts you create.", got.Text)
	assert.Equal(t, "go", got.Level2)
	assert.Equal(t, "concurrency", got.Level3)
	assert.False(t, got.Deprecated)
}

func TestGetUnknownIDReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), 999)
	assert.ErrorIs(t, err, storepkg.ErrNotFound)
}

func TestDeprecateExcludesFromListActive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Add(ctx, &engram.Engram{Text: "text one", Category: "general"})
	require.NoError(t, err)
	_, err = s.Add(ctx, &engram.Engram{Text: "text two", Category: "general"})
	require.NoError(t, err)

	require.NoError(t, s.Deprecate(ctx, id))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	for _, e := range active {
		assert.NotEqual(t, id, e.ID)
	}
	assert.Len(t, active, 1)
}

func TestFindSimilarEngramRequiresMajorityWordOverlap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Add(ctx, &engram.Engram{
		Text:     "always cancel the context you create in a goroutine",
		Category: "general",
	})
	require.NoError(t, err)

	match, err := s.FindSimilarEngram(ctx, "always cancel the context you create")
	require.NoError(t, err)
	require.NotNil(t, match)

	noMatch, err := s.FindSimilarEngram(ctx, "use structured logging instead of fmt Println")
	require.NoError(t, err)
	assert.Nil(t, noMatch)
}

func TestSetPinnedPersistsPrerequisites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Add(ctx, &engram.Engram{Text: "pin me", Category: "general"})
	require.NoError(t, err)

	require.NoError(t, s.SetPinned(ctx, id, true, true, engram.Prerequisites{Repos: []string{"app-repo"}}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Pinned)
	assert.True(t, got.Prerequisites.AutoPinned)
	assert.Equal(t, []string{"app-repo"}, got.Prerequisites.Repos)
}

func TestSetPrerequisitesLeavesPinnedStateUntouched(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Add(ctx, &engram.Engram{Text: "backfill me", Category: "general"})
	require.NoError(t, err)
	require.NoError(t, s.SetPinned(ctx, id, true, true, engram.Prerequisites{}))

	require.NoError(t, s.SetPrerequisites(ctx, id, engram.Prerequisites{Tags: []string{"acme"}}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Pinned)
	assert.True(t, got.Prerequisites.AutoPinned)
	assert.Equal(t, []string{"acme"}, got.Prerequisites.Tags)
}

func TestIncrementOccurrenceMergesSessionsWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Add(ctx, &engram.Engram{
		Text:           "text",
		Category:       "general",
		SourceSessions: []string{"session-a"},
	})
	require.NoError(t, err)

	require.NoError(t, s.IncrementOccurrence(ctx, id, []string{"session-a", "session-b"}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session-a", "session-b"}, got.SourceSessions)
	assert.Equal(t, 2, got.OccurrenceCount)
}
