package autopin_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocodesign/engrammar/internal/autopin"
	"github.com/rocodesign/engrammar/internal/store"
	"github.com/rocodesign/engrammar/internal/store/sqlite"
	"github.com/rocodesign/engrammar/pkg/engram"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "engrammar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAfterRepoMatchPinsAtThreshold(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	eng := &autopin.Engine{Store: s, Relevance: s}

	id, err := s.Add(ctx, &engram.Engram{Text: "t", Category: "general"})
	require.NoError(t, err)

	for i := 0; i < autopin.TRepo; i++ {
		require.NoError(t, s.UpdateMatchStats(ctx, id, "app-repo", nil))
		require.NoError(t, eng.AfterRepoMatch(ctx, id, "app-repo"))
	}

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Pinned)
	assert.Contains(t, got.Prerequisites.Repos, "app-repo")
}

func TestAfterRepoMatchDoesNotPinBelowThreshold(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	eng := &autopin.Engine{Store: s, Relevance: s}

	id, err := s.Add(ctx, &engram.Engram{Text: "t", Category: "general"})
	require.NoError(t, err)

	for i := 0; i < autopin.TRepo-1; i++ {
		require.NoError(t, s.UpdateMatchStats(ctx, id, "app-repo", nil))
		require.NoError(t, eng.AfterRepoMatch(ctx, id, "app-repo"))
	}

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Pinned)
}

func TestAfterTagMatchPinsSmallestMinimalSubset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	eng := &autopin.Engine{Store: s, Relevance: s}

	id, err := s.Add(ctx, &engram.Engram{Text: "t", Category: "general"})
	require.NoError(t, err)

	sets := [][]string{
		{"frontend", "react", "acme"},
		{"frontend", "vue", "acme"},
		{"frontend", "angular", "personal"},
	}
	counts := []int{6, 5, 4}
	for i, tags := range sets {
		for c := 0; c < counts[i]; c++ {
			require.NoError(t, s.UpdateMatchStats(ctx, id, "", tags))
		}
	}
	require.NoError(t, eng.AfterTagMatch(ctx, id))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Pinned)
	assert.Equal(t, []string{"frontend"}, got.Prerequisites.Tags)
}

func TestAfterRelevanceUpdatePinsOnStrongPositiveEMA(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	eng := &autopin.Engine{Store: s, Relevance: s}

	id, err := s.Add(ctx, &engram.Engram{Text: "t", Category: "general"})
	require.NoError(t, err)

	var after store.EngramAfterUpdate
	for i := 0; i < autopin.MinEvidenceForPin; i++ {
		after, err = s.UpdateTagRelevance(ctx, id, map[string]float64{"react": 1.0}, 1.0)
		require.NoError(t, err)
	}
	require.NoError(t, eng.AfterRelevanceUpdate(ctx, after))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Pinned)
	assert.Contains(t, got.Prerequisites.Tags, "react")
}

func TestAfterRelevanceUpdateAutoUnpinsOnStrongNegativeEMA(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	eng := &autopin.Engine{Store: s, Relevance: s}

	id, err := s.Add(ctx, &engram.Engram{Text: "t", Category: "general"})
	require.NoError(t, err)
	require.NoError(t, s.SetPinned(ctx, id, true, true, engram.Prerequisites{Tags: []string{"frontend"}}))

	var after store.EngramAfterUpdate
	for i := 0; i < autopin.MinEvidenceForPin; i++ {
		after, err = s.UpdateTagRelevance(ctx, id, map[string]float64{"frontend": -1.0}, 1.0)
		require.NoError(t, err)
	}
	require.NoError(t, eng.AfterRelevanceUpdate(ctx, after))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Pinned)
}

func TestAfterRelevanceUpdateNeverAutoUnpinsManualPin(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	eng := &autopin.Engine{Store: s, Relevance: s}

	id, err := s.Add(ctx, &engram.Engram{Text: "t", Category: "general"})
	require.NoError(t, err)
	require.NoError(t, s.SetPinned(ctx, id, true, false, engram.Prerequisites{Tags: []string{"frontend"}}))

	var after store.EngramAfterUpdate
	for i := 0; i < autopin.MinEvidenceForPin; i++ {
		after, err = s.UpdateTagRelevance(ctx, id, map[string]float64{"frontend": -1.0}, 1.0)
		require.NoError(t, err)
	}
	require.NoError(t, eng.AfterRelevanceUpdate(ctx, after))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Pinned, "manual pins must never be auto-unpinned")
}
