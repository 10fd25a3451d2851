// Package retriever implements the hybrid dense + lexical engram search:
// dense top-10 via internal/vectorindex, lexical top-10 via a hand-rolled
// BM25Okapi, fused with Reciprocal Rank Fusion, then filtered by category
// and tag-relevance.
package retriever

import (
	"math"
	"regexp"
	"strings"
)

// tokenPattern mirrors original_source/src/search.py's `_tokenize`:
// re.findall(r"\w+", text.lower()).
var tokenPattern = regexp.MustCompile(`\w+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// bm25 constants match the rank_bm25.BM25Okapi defaults used by the original
// (k1=1.5, b=0.75, epsilon=0.25 for the idf floor).
const (
	bm25K1      = 1.5
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

// BM25 is a from-scratch port of rank_bm25.BM25Okapi's scoring formula.
// No Go BM25 implementation appears anywhere in the example corpus (see
// DESIGN.md), so this follows the original algorithm, not an existing file.
type BM25 struct {
	corpus      [][]string
	docLen      []int
	avgDocLen   float64
	idf         map[string]float64
	termDocFreq map[string]int
	n           int
}

// NewBM25 builds an index over corpus, one token slice per document.
func NewBM25(corpus [][]string) *BM25 {
	b := &BM25{
		corpus:      corpus,
		n:           len(corpus),
		termDocFreq: map[string]int{},
	}

	totalLen := 0
	for _, doc := range corpus {
		b.docLen = append(b.docLen, len(doc))
		totalLen += len(doc)

		seen := map[string]bool{}
		for _, tok := range doc {
			if !seen[tok] {
				b.termDocFreq[tok]++
				seen[tok] = true
			}
		}
	}
	if b.n > 0 {
		b.avgDocLen = float64(totalLen) / float64(b.n)
	}

	b.idf = make(map[string]float64, len(b.termDocFreq))
	var idfSum float64
	negativeIDFs := []string{}
	for term, freq := range b.termDocFreq {
		idf := math.Log(float64(b.n)-float64(freq)+0.5) - math.Log(float64(freq)+0.5)
		b.idf[term] = idf
		idfSum += idf
		if idf < 0 {
			negativeIDFs = append(negativeIDFs, term)
		}
	}

	var avgIDF float64
	if len(b.idf) > 0 {
		avgIDF = idfSum / float64(len(b.idf))
	}
	eps := bm25Epsilon * avgIDF
	for _, term := range negativeIDFs {
		b.idf[term] = eps
	}

	return b
}

// Scores returns the BM25 score of every document in the corpus against the
// query tokens, in corpus order — equivalent to BM25Okapi.get_scores.
func (b *BM25) Scores(query []string) []float64 {
	scores := make([]float64, b.n)
	for i, doc := range b.corpus {
		termCount := map[string]int{}
		for _, tok := range doc {
			termCount[tok]++
		}

		docLen := float64(b.docLen[i])
		var score float64
		for _, term := range query {
			tf, ok := termCount[term]
			if !ok {
				continue
			}
			idf := b.idf[term]
			numerator := float64(tf) * (bm25K1 + 1)
			denominator := float64(tf) + bm25K1*(1-bm25B+bm25B*docLen/nonZero(b.avgDocLen))
			score += idf * numerator / denominator
		}
		scores[i] = score
	}
	return scores
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}
