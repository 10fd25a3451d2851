package dedup

import (
	"encoding/json"
	"sort"

	"github.com/rocodesign/engrammar/pkg/engram"
)

// DefaultCharBudget is the per-batch character budget passed to the LLM,
// ported from dedup.py's build_batches(max_chars=6000).
const DefaultCharBudget = 6000

// EngramPayload is the shape an engram is rendered into for the LLM prompt,
// ported from dedup.py's _engram_to_payload.
type EngramPayload struct {
	ID              int64    `json:"id"`
	Status          string   `json:"status"` // "unverified" | "verified"
	Text            string   `json:"text"`
	Category        string   `json:"category,omitempty"`
	Repos           []string `json:"repos,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	OccurrenceCount int      `json:"occurrence_count"`
}

func toPayload(e *engram.Engram, status string) EngramPayload {
	return EngramPayload{
		ID:              e.ID,
		Status:          status,
		Text:            e.Text,
		Category:        e.Category,
		Repos:           e.Prerequisites.Repos,
		Tags:            e.Prerequisites.Tags,
		OccurrenceCount: e.OccurrenceCount,
	}
}

// marshalBatch renders a batch's engrams and candidate edges as the JSON
// input block appended to the dedup prompt.
func marshalBatch(batch Batch) string {
	doc := struct {
		Engrams []EngramPayload `json:"engrams"`
		Edges   []Edge          `json:"candidate_edges"`
	}{Engrams: batch.Engrams, Edges: batch.CandidateEdges}
	b, err := json.Marshal(doc)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func payloadChars(p EngramPayload) int {
	b, err := json.Marshal(p)
	if err != nil {
		return len(p.Text)
	}
	return len(b)
}

// Batch is one self-contained unit of work sent to the LLM: every id
// referenced by CandidateEdges is present in Engrams, so the model never has
// to reason about an id it can't see.
type Batch struct {
	Mode           string // "incremental" | "bootstrap"
	Engrams        []EngramPayload
	CandidateEdges []Edge
	UnverifiedIDs  map[int64]bool
}

// BuildIncrementalBatches groups each unverified engram with its candidate
// verified partners into char-budget-bounded batches. Ported from dedup.py's
// build_batches for incremental mode: unverified engrams are taken in order,
// each added with those of its verified candidates not yet in the current
// batch, and the batch is flushed when the next group would exceed
// charBudget. Unverified engrams that share a verified candidate land in the
// same batch only when no flush falls between them; after a flush the
// shared candidate is included again in the new batch.
//
// Callers are expected to have already filtered out unverified engrams with
// no candidates (dedup.py:621-628 marks those dedup_verified directly
// without spending an LLM call on them); as a defensive backstop this
// function also skips any engram it's handed with an empty candidate set
// rather than sending it to the LLM alone.
func BuildIncrementalBatches(unverified, verified []*engram.Engram, candidates map[int64][]Candidate, charBudget int) []Batch {
	if charBudget <= 0 {
		charBudget = DefaultCharBudget
	}
	verifiedByID := make(map[int64]*engram.Engram, len(verified))
	for _, v := range verified {
		verifiedByID[v.ID] = v
	}

	var batches []Batch
	cur := Batch{Mode: "incremental", UnverifiedIDs: map[int64]bool{}}
	curChars := len(systemPrompt) + len(incrementalModeSnippet)
	seenVerified := map[int64]bool{}

	flush := func() {
		if len(cur.Engrams) > 0 {
			batches = append(batches, cur)
		}
		cur = Batch{Mode: "incremental", UnverifiedIDs: map[int64]bool{}}
		curChars = len(systemPrompt) + len(incrementalModeSnippet)
		seenVerified = map[int64]bool{}
	}

	for _, u := range unverified {
		if len(candidates[u.ID]) == 0 {
			continue
		}
		up := toPayload(u, "unverified")
		group := []EngramPayload{up}
		var edges []Edge
		for _, c := range candidates[u.ID] {
			v, ok := verifiedByID[c.ID]
			if !ok {
				continue
			}
			if !seenVerified[c.ID] {
				group = append(group, toPayload(v, "verified"))
			}
			edges = append(edges, Edge{A: u.ID, B: c.ID, Similarity: c.Similarity})
		}
		if len(edges) == 0 {
			continue
		}

		groupChars := 0
		for _, p := range group {
			groupChars += payloadChars(p)
		}

		if len(cur.Engrams) > 0 && curChars+groupChars > charBudget {
			flush()
		}

		cur.Engrams = append(cur.Engrams, up)
		curChars += payloadChars(up)
		for _, c := range candidates[u.ID] {
			v, ok := verifiedByID[c.ID]
			if !ok || seenVerified[c.ID] {
				continue
			}
			seenVerified[c.ID] = true
			p := toPayload(v, "verified")
			cur.Engrams = append(cur.Engrams, p)
			curChars += payloadChars(p)
		}
		cur.CandidateEdges = append(cur.CandidateEdges, edges...)
		cur.UnverifiedIDs[u.ID] = true
	}
	flush()
	return batches
}

// BuildBootstrapBatches groups engrams connected by candidate edges into
// char-budget-bounded batches via union-find, so a batch never splits a
// connected component (which would hide part of a legitimate duplicate
// cluster from the model). Ported from dedup.py's build_batches for
// bootstrap mode.
func BuildBootstrapBatches(items []*engram.Engram, edges []Edge, charBudget int) []Batch {
	if charBudget <= 0 {
		charBudget = DefaultCharBudget
	}

	parent := make(map[int64]int64, len(items))
	for _, e := range items {
		parent[e.ID] = e.ID
	}
	var find func(int64) int64
	find = func(x int64) int64 {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int64) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}
	for _, e := range edges {
		union(e.A, e.B)
	}

	components := map[int64][]*engram.Engram{}
	for _, e := range items {
		root := find(e.ID)
		components[root] = append(components[root], e)
	}
	edgesByComponent := map[int64][]Edge{}
	for _, e := range edges {
		root := find(e.A)
		edgesByComponent[root] = append(edgesByComponent[root], e)
	}

	roots := make([]int64, 0, len(components))
	for root := range components {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	var batches []Batch
	cur := Batch{Mode: "bootstrap", UnverifiedIDs: map[int64]bool{}}
	curChars := len(systemPrompt) + len(bootstrapModeSnippet)

	flush := func() {
		if len(cur.Engrams) > 0 {
			batches = append(batches, cur)
		}
		cur = Batch{Mode: "bootstrap", UnverifiedIDs: map[int64]bool{}}
		curChars = len(systemPrompt) + len(bootstrapModeSnippet)
	}

	for _, root := range roots {
		members := components[root]
		var group []EngramPayload
		groupChars := 0
		for _, m := range members {
			p := toPayload(m, "unverified")
			group = append(group, p)
			groupChars += payloadChars(p)
		}

		if len(cur.Engrams) > 0 && curChars+groupChars > charBudget {
			flush()
		}

		cur.Engrams = append(cur.Engrams, group...)
		curChars += groupChars
		cur.CandidateEdges = append(cur.CandidateEdges, edgesByComponent[root]...)
		for _, m := range members {
			cur.UnverifiedIDs[m.ID] = true
		}
	}
	flush()
	return batches
}
