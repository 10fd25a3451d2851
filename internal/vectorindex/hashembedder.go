package vectorindex

import (
	"hash/fnv"
	"strings"
)

// HashEmbedder is a deterministic, dependency-free Embedder. It backs tests
// and serves as the default when no production embedding model is
// configured. It hashes each token into a fixed-width bag-of-words vector,
// giving texts that share vocabulary a non-zero cosine similarity without
// needing any trained model.
type HashEmbedder struct {
	Dim int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of the given
// dimensionality. dim <= 0 defaults to 256.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{Dim: dim}
}

func (h *HashEmbedder) Embed(text string) ([]float32, error) {
	v := make([]float32, h.Dim)
	for _, tok := range tokenize(text) {
		hsh := fnv.New32a()
		_, _ = hsh.Write([]byte(tok))
		v[int(hsh.Sum32())%h.Dim]++
	}
	return v, nil
}

func (h *HashEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
