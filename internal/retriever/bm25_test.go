package retriever

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBM25RanksExactTermMatchHigher(t *testing.T) {
	corpus := [][]string{
		tokenize("always cancel the context you create"),
		tokenize("prefer structured logging over fmt println"),
		tokenize("cancel contexts on timeout to avoid goroutine leaks"),
	}
	bm25 := NewBM25(corpus)

	scores := bm25.Scores(tokenize("cancel context timeout"))
	assert.Greater(t, scores[2], scores[1])
	assert.Greater(t, scores[0], scores[1])
}

func TestBM25EmptyCorpusReturnsNoScores(t *testing.T) {
	bm25 := NewBM25(nil)
	assert.Empty(t, bm25.Scores(tokenize("anything")))
}

func TestTokenizeLowercasesAndSplitsOnWordBoundaries(t *testing.T) {
	assert.Equal(t, []string{"use", "context", "cancellation", "for", "timeouts"},
		tokenize("Use context-cancellation, for timeouts!"))
}
