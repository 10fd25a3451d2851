package vectorindex_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocodesign/engrammar/internal/vectorindex"
)

func TestBuildAndSearchRanksByCosineSimilarity(t *testing.T) {
	dir := t.TempDir()
	idx, err := vectorindex.Open(filepath.Join(dir, "engrams.idx"), vectorindex.NewHashEmbedder(64))
	require.NoError(t, err)

	err = idx.Build([]vectorindex.EmbeddingInput{
		{ID: 1, Text: "use context cancellation for timeouts"},
		{ID: 2, Text: "prefer structured logging over fmt.Println"},
		{ID: 3, Text: "cancel context on timeout for goroutines"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	embedder := vectorindex.NewHashEmbedder(64)
	query, err := embedder.Embed("context timeout cancellation")
	require.NoError(t, err)

	results := idx.Search(query, 2)
	require.Len(t, results, 2)
	ids := []int64{results[0].ID, results[1].ID}
	assert.ElementsMatch(t, []int64{1, 3}, ids)
}

func TestBuildWithNoItemsProducesEmptyIndex(t *testing.T) {
	dir := t.TempDir()
	idx, err := vectorindex.Open(filepath.Join(dir, "engrams.idx"), vectorindex.NewHashEmbedder(32))
	require.NoError(t, err)

	require.NoError(t, idx.Build(nil))
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Search([]float32{1, 2}, 5))
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engrams.idx")
	embedder := vectorindex.NewHashEmbedder(32)

	idx, err := vectorindex.Open(path, embedder)
	require.NoError(t, err)
	require.NoError(t, idx.Build([]vectorindex.EmbeddingInput{
		{ID: 10, Text: "rebuild the index atomically"},
	}))

	reopened, err := vectorindex.Open(path, embedder)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())

	query, err := embedder.Embed("rebuild the index atomically")
	require.NoError(t, err)
	results := reopened.Search(query, 1)
	require.Len(t, results, 1)
	assert.Equal(t, int64(10), results[0].ID)
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	idx, err := vectorindex.Open(filepath.Join(dir, "does-not-exist.idx"), vectorindex.NewHashEmbedder(16))
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}
