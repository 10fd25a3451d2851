package dedup

import (
	"sort"

	"github.com/rocodesign/engrammar/internal/vectorindex"
	"github.com/rocodesign/engrammar/pkg/engram"
)

// CandidateSimilarityThreshold is the minimum cosine similarity for two
// engrams to be considered a plausible duplicate edge, ported from
// dedup.py's find_candidates_for_unverified/find_candidates_bootstrap
// (min_sim = 0.50 in the original).
const CandidateSimilarityThreshold = 0.50

// CandidatesPerEngram caps how many candidate partners are kept per engram,
// ported from dedup.py's top_k = 8.
const CandidatesPerEngram = 8

// Candidate is one ranked merge candidate for a given engram.
type Candidate struct {
	ID         int64
	Similarity float64
}

// Edge is an undirected similarity link between two engram ids, used by
// bootstrap mode where there is no stable verified pool to anchor against.
type Edge struct {
	A          int64   `json:"a"`
	B          int64   `json:"b"`
	Similarity float64 `json:"similarity"`
}

func embedAll(embedder vectorindex.Embedder, items []*engram.Engram) (map[int64][]float32, error) {
	if len(items) == 0 {
		return map[int64][]float32{}, nil
	}
	texts := make([]string, len(items))
	for i, e := range items {
		texts[i] = e.Text
	}
	vectors, err := embedder.EmbedBatch(texts)
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]float32, len(items))
	for i, e := range items {
		out[e.ID] = vectorindex.Normalize(vectors[i])
	}
	return out, nil
}

// FindCandidatesForUnverified computes, for each unverified engram, its
// top-CandidatesPerEngram most similar verified engrams above
// CandidateSimilarityThreshold. Ported from dedup.py's
// find_candidates_for_unverified (incremental mode: unverified engrams are
// compared only against the stable verified pool, never against each other
// directly — multi-unverified groups form by sharing a verified bridge).
func FindCandidatesForUnverified(embedder vectorindex.Embedder, unverified, verified []*engram.Engram) (map[int64][]Candidate, error) {
	unverifiedVecs, err := embedAll(embedder, unverified)
	if err != nil {
		return nil, err
	}
	verifiedVecs, err := embedAll(embedder, verified)
	if err != nil {
		return nil, err
	}

	out := make(map[int64][]Candidate, len(unverified))
	for _, u := range unverified {
		uv := unverifiedVecs[u.ID]
		var cands []Candidate
		for _, v := range verified {
			sim := vectorindex.CosineSimilarity(uv, verifiedVecs[v.ID])
			if sim >= CandidateSimilarityThreshold {
				cands = append(cands, Candidate{ID: v.ID, Similarity: sim})
			}
		}
		sort.Slice(cands, func(i, j int) bool { return cands[i].Similarity > cands[j].Similarity })
		if len(cands) > CandidatesPerEngram {
			cands = cands[:CandidatesPerEngram]
		}
		if len(cands) > 0 {
			out[u.ID] = cands
		}
	}
	return out, nil
}

// FindCandidatesBootstrap computes pairwise similarity edges among engrams
// with no verified pool to anchor against, for when the system is too young
// to have any dedup_verified engrams yet. Ported from dedup.py's
// find_candidates_bootstrap (full pairwise comparison within the batch,
// since there's no smaller reference pool to compare against). An edge is
// kept when it is among the top CandidatesPerEngram neighbours of either
// endpoint.
func FindCandidatesBootstrap(embedder vectorindex.Embedder, items []*engram.Engram) ([]Edge, error) {
	vecs, err := embedAll(embedder, items)
	if err != nil {
		return nil, err
	}

	var edges []Edge
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			sim := vectorindex.CosineSimilarity(vecs[items[i].ID], vecs[items[j].ID])
			if sim >= CandidateSimilarityThreshold {
				edges = append(edges, Edge{A: items[i].ID, B: items[j].ID, Similarity: sim})
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Similarity > edges[j].Similarity })

	rank := map[int64]int{}
	kept := edges[:0]
	for _, e := range edges {
		if rank[e.A] < CandidatesPerEngram || rank[e.B] < CandidatesPerEngram {
			kept = append(kept, e)
		}
		rank[e.A]++
		rank[e.B]++
	}
	return kept, nil
}
