// Package vectorindex implements the on-disk nearest-neighbour index used to
// retrieve engrams and engram prerequisite tags by cosine similarity.
// Grounded on original_source/src/embeddings.py (embed_batch, build_index,
// load_index, vector_search). Go has no portable stdlib mmap and none of the
// reference repos import a third-party one, so instead of memory-mapping the
// on-disk matrix this index loads it fully into heap-resident slices guarded
// by a sync.RWMutex, and a rebuild swaps the pointer to a freshly built pair
// only after it is fully constructed — readers never observe a mixed
// embeddings/ids pair, the same guarantee the original gets from mmap.
package vectorindex

import (
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ScoredID is one ranked search result.
type ScoredID struct {
	ID    int64
	Score float64
}

// EmbeddingInput is one item submitted to Build: an engram id paired with the
// text to embed (engram body text, or its joined prerequisite tags for the
// tag index).
type EmbeddingInput struct {
	ID   int64
	Text string
}

// Embedder turns text into vectors. A production embedding model is out of
// scope here; this interface is the capability seam production code and
// tests both depend on, keeping the LLM/embedding provider behind a narrow
// interface.
type Embedder interface {
	Embed(text string) ([]float32, error)
	EmbedBatch(texts []string) ([][]float32, error)
}

// matrix is one immutable snapshot of embeddings + ids. Never mutated after
// construction; a rebuild creates a new matrix and swaps the pointer.
type matrix struct {
	dim  int
	rows [][]float32
	ids  []int64
}

func (m *matrix) search(query []float32, k int) []ScoredID {
	if m == nil || len(m.rows) == 0 {
		return nil
	}
	if m.dim != 0 && len(query) != m.dim {
		// Dimension mismatch between the persisted matrix and the query
		// vector (e.g. an embedder upgrade changed width): behave as an
		// empty index rather than comparing truncated/padded vectors, so
		// the caller falls back to lexical-only ranking.
		return nil
	}

	qn := normalize(query)
	scored := make([]ScoredID, 0, len(m.rows))
	for i, row := range m.rows {
		scored = append(scored, ScoredID{
			ID:    m.ids[i],
			Score: dot(qn, normalize(row)),
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// Index is a persistent, gob-encoded embedding store. The zero value is not
// usable; construct with Open.
type Index struct {
	embedder Embedder
	path     string

	mu   sync.RWMutex
	live *matrix
}

// Open loads a persisted index from path if present, otherwise starts empty.
// path should be an absolute path within the configured data directory; the
// engram-text index and the tag index are two independent Index instances
// opened against two distinct paths.
func Open(path string, embedder Embedder) (*Index, error) {
	idx := &Index{embedder: embedder, path: path}
	m, err := loadMatrix(path)
	if err != nil {
		return nil, err
	}
	idx.live = m
	return idx, nil
}

// Len reports how many vectors are currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.live == nil {
		return 0
	}
	return len(idx.live.ids)
}

// Search returns the top-k ids ranked by cosine similarity against query.
func (idx *Index) Search(query []float32, k int) []ScoredID {
	idx.mu.RLock()
	m := idx.live
	idx.mu.RUnlock()
	return m.search(query, k)
}

// Build embeds every item, writes the new matrix pair to disk via
// temp-file-plus-rename, then swaps it in atomically. An empty items slice
// produces and swaps in an empty index, matching build_index's behaviour of
// persisting empty arrays rather than leaving stale files in place.
func (idx *Index) Build(items []EmbeddingInput) error {
	var m *matrix
	if len(items) == 0 {
		m = &matrix{}
	} else {
		texts := make([]string, len(items))
		ids := make([]int64, len(items))
		for i, it := range items {
			texts[i] = it.Text
			ids[i] = it.ID
		}

		vectors, err := idx.embedder.EmbedBatch(texts)
		if err != nil {
			return err
		}

		dim := 0
		if len(vectors) > 0 {
			dim = len(vectors[0])
		}
		m = &matrix{dim: dim, rows: vectors, ids: ids}
	}

	if err := persistMatrix(idx.path, m); err != nil {
		return err
	}

	idx.mu.Lock()
	idx.live = m
	idx.mu.Unlock()
	return nil
}

func normalize(v []float32) []float32 { return Normalize(v) }

func dot(a, b []float32) float64 { return dotProduct(a, b) }

// Normalize L2-normalizes v, matching embeddings.py's `v / (norm(v) + 1e-10)`.
// Exported so other packages building their own ad hoc similarity matrices
// (internal/dedup's candidate finder) don't need to reimplement it.
func Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq) + 1e-10
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dotProduct(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// CosineSimilarity returns the cosine similarity of two already-normalized
// or raw vectors (it normalizes both internally).
func CosineSimilarity(a, b []float32) float64 {
	return dotProduct(Normalize(a), Normalize(b))
}

// onDiskMatrix is the gob-serializable form persisted to dataPath.
// A single file holding both rows and ids (rather than the numpy original's
// two .npy files) keeps the rename-swap a single atomic operation.
type onDiskMatrix struct {
	Dim  int
	Rows [][]float32
	IDs  []int64
}

func loadMatrix(dataPath string) (*matrix, error) {
	f, err := os.Open(dataPath)
	if os.IsNotExist(err) {
		return &matrix{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var on onDiskMatrix
	if err := gob.NewDecoder(f).Decode(&on); err != nil {
		return nil, err
	}
	return &matrix{dim: on.Dim, rows: on.Rows, ids: on.IDs}, nil
}

func persistMatrix(dataPath string, m *matrix) error {
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".vectorindex-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	on := onDiskMatrix{Dim: m.dim, Rows: m.rows, IDs: m.ids}
	if err := gob.NewEncoder(tmp).Encode(&on); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, dataPath)
}
