package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportLegacyStateMapsKnownTopics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	statePath := filepath.Join(t.TempDir(), ".lessons-state.json")
	require.NoError(t, os.WriteFile(statePath, []byte(`{
		"lessons": [
			{"topic": "git-workflow", "lesson": "Rebase before opening a PR.", "occurrence_count": 2},
			{"topic": "unknown-topic", "lesson": "Some niche lesson."}
		]
	}`), 0o644))

	n, err := s.ImportLegacyState(ctx, statePath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	byText := map[string]string{}
	for _, e := range active {
		byText[e.Text] = e.Category
	}
	assert.Equal(t, "development/git", byText["Rebase before opening a PR."])
	assert.Equal(t, "general/unknown-topic", byText["Some niche lesson."])
}

func TestImportLegacyStateMissingFileIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.ImportLegacyState(ctx, filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
