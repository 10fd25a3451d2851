// Package dedup implements the periodic duplicate-detection pass: finding
// near-duplicate engrams by embedding similarity, asking an LLM to confirm
// true duplicates and propose a canonical merged text, and folding confirmed
// groups down to one surviving engram. Ported from
// original_source/src/dedup.py's run_dedup/_run_single_pass.
package dedup

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rocodesign/engrammar/internal/llmclient"
	"github.com/rocodesign/engrammar/internal/store"
	"github.com/rocodesign/engrammar/internal/vectorindex"
	"github.com/rocodesign/engrammar/pkg/engram"
)

// MaxPasses bounds a RunDedup call, ported from dedup.py's run_dedup
// (max_passes=10): each pass can only merge within the candidates it found
// this round, so merging a three-way duplicate cluster may take more than
// one pass as new verified engrams bridge further matches.
const MaxPasses = 10

// PassResult summarizes the effect of one dedup pass.
type PassResult struct {
	Merged   int // engrams deprecated into a survivor
	Verified int // engrams marked dedup_verified with no match found
	Errors   int // batch/group validation failures recorded via RecordDedupError
}

// Summary aggregates PassResult across a multi-pass RunDedup call.
type Summary struct {
	Passes int
	PassResult
}

// Engine runs duplicate-detection passes over the engram store.
type Engine struct {
	Store    store.DedupStore
	Engrams  store.EngramStore
	Index    *vectorindex.Index // engram-text index, rebuilt after a pass that merged anything
	Embedder vectorindex.Embedder
	Client   *llmclient.Client

	// MaxPasses and CharBudget override their package-level defaults when
	// non-zero, for tests that want tighter bounds.
	MaxPasses  int
	CharBudget int
}

// RunDedup runs dedup passes until a pass merges nothing or MaxPasses is
// reached. Ported from dedup.py's run_dedup.
func (e *Engine) RunDedup(ctx context.Context) (Summary, error) {
	maxPasses := e.MaxPasses
	if maxPasses <= 0 {
		maxPasses = MaxPasses
	}

	var summary Summary
	for summary.Passes < maxPasses {
		pr, err := e.runSinglePass(ctx, nil)
		if err != nil {
			return summary, err
		}
		summary.Passes++
		summary.Merged += pr.Merged
		summary.Verified += pr.Verified
		summary.Errors += pr.Errors
		if pr.Merged == 0 {
			break
		}
	}
	return summary, nil
}

// RunForEngram targets a single engram for a re-check against the verified
// pool, ported from dedup.py's `--id` single-engram mode: useful right after
// manually editing or re-pinning one engram without paying for a full pass.
func (e *Engine) RunForEngram(ctx context.Context, id int64) (PassResult, error) {
	return e.runSinglePass(ctx, &id)
}

// runSinglePass executes one bootstrap-or-incremental pass. When onlyID is
// non-nil, the pass is scoped to that single unverified engram (RunForEngram);
// otherwise it covers every unverified engram (RunDedup).
func (e *Engine) runSinglePass(ctx context.Context, onlyID *int64) (PassResult, error) {
	var pr PassResult

	unverified, err := e.Store.UnverifiedEngrams(ctx)
	if err != nil {
		return pr, fmt.Errorf("dedup: list unverified: %w", err)
	}
	if onlyID != nil {
		unverified = filterByID(unverified, *onlyID)
	}
	if len(unverified) == 0 {
		return pr, nil
	}

	verified, err := e.Store.VerifiedEngrams(ctx)
	if err != nil {
		return pr, fmt.Errorf("dedup: list verified: %w", err)
	}

	byID := make(map[int64]*engram.Engram, len(unverified)+len(verified))
	for _, en := range unverified {
		byID[en.ID] = en
	}
	for _, en := range verified {
		byID[en.ID] = en
	}

	bootstrap := len(verified) < BootstrapVerifiedThreshold
	charBudget := e.CharBudget
	if charBudget <= 0 {
		charBudget = DefaultCharBudget
	}

	var batches []Batch
	if bootstrap {
		all := append(append([]*engram.Engram{}, unverified...), verified...)
		edges, err := FindCandidatesBootstrap(e.Embedder, all)
		if err != nil {
			return pr, fmt.Errorf("dedup: bootstrap candidates: %w", err)
		}
		batches = BuildBootstrapBatches(all, edges, charBudget)
	} else {
		candidates, err := FindCandidatesForUnverified(e.Embedder, unverified, verified)
		if err != nil {
			return pr, fmt.Errorf("dedup: candidates: %w", err)
		}

		// An unverified engram with no candidates has nothing to merge
		// against this pass; mark it verified directly rather than
		// spending an LLM call on a lone-engram batch (dedup.py:621-628).
		var withCandidates []*engram.Engram
		var noCandidateIDs []int64
		for _, u := range unverified {
			if len(candidates[u.ID]) > 0 {
				withCandidates = append(withCandidates, u)
			} else {
				noCandidateIDs = append(noCandidateIDs, u.ID)
			}
		}
		if len(noCandidateIDs) > 0 {
			if err := e.Store.MarkDedupVerified(ctx, noCandidateIDs); err != nil {
				return pr, fmt.Errorf("dedup: mark verified: %w", err)
			}
			pr.Verified += len(noCandidateIDs)
		}

		batches = BuildIncrementalBatches(withCandidates, verified, candidates, charBudget)
	}

	for _, batch := range batches {
		applied, err := e.applyBatch(ctx, batch, byID)
		if err != nil {
			return pr, err
		}
		pr.Merged += applied.Merged
		pr.Verified += applied.Verified
		pr.Errors += applied.Errors
	}

	if pr.Merged > 0 {
		if err := e.rebuildIndex(ctx); err != nil {
			return pr, err
		}
	}

	return pr, nil
}

func (e *Engine) applyBatch(ctx context.Context, batch Batch, byID map[int64]*engram.Engram) (PassResult, error) {
	var pr PassResult

	prompt := buildPrompt(batch)
	output, err := e.Client.Complete(ctx, prompt)
	if err != nil {
		for id := range batch.UnverifiedIDs {
			_ = e.Store.RecordDedupError(ctx, id, fmt.Sprintf("llm call failed: %v", err))
			pr.Errors++
		}
		return pr, nil
	}

	parsed, err := ParseResponse(output)
	if err != nil {
		for id := range batch.UnverifiedIDs {
			_ = e.Store.RecordDedupError(ctx, id, fmt.Sprintf("malformed response: %v", err))
			pr.Errors++
		}
		return pr, nil
	}

	result := ValidateResponse(parsed, batch)
	for _, msg := range result.Errors {
		for id := range batch.UnverifiedIDs {
			_ = e.Store.RecordDedupError(ctx, id, msg)
		}
		pr.Errors++
	}
	for _, id := range result.UnaccountedIDs {
		_ = e.Store.RecordDedupError(ctx, id, "left unaccounted for by dedup response")
		pr.Errors++
	}

	runID := uuid.NewString()
	var noMatchVerified []int64
	for _, g := range result.Groups {
		survivor := SelectSurvivor(g.IDs, byID)
		if err := e.Store.MergeEngramGroup(ctx, survivor, g.IDs, g.CanonicalText, runID, g.Reason, g.Confidence); err != nil {
			return pr, fmt.Errorf("dedup: merge group %v: %w", g.IDs, err)
		}
		pr.Merged += len(g.IDs) - 1
	}
	for _, id := range parsed.NoMatchIDs {
		if batch.UnverifiedIDs[id] {
			noMatchVerified = append(noMatchVerified, id)
		}
	}
	if err := e.Store.MarkDedupVerified(ctx, noMatchVerified); err != nil {
		return pr, fmt.Errorf("dedup: mark verified: %w", err)
	}
	pr.Verified += len(noMatchVerified)

	return pr, nil
}

func (e *Engine) rebuildIndex(ctx context.Context) error {
	if e.Index == nil {
		return nil
	}
	active, err := e.Engrams.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("dedup: list active for rebuild: %w", err)
	}
	items := make([]vectorindex.EmbeddingInput, len(active))
	for i, en := range active {
		items[i] = vectorindex.EmbeddingInput{ID: en.ID, Text: en.Text}
	}
	return e.Index.Build(items)
}

func buildPrompt(batch Batch) string {
	snippet := incrementalModeSnippet
	if batch.Mode == "bootstrap" {
		snippet = bootstrapModeSnippet
	}
	payload := marshalBatch(batch)
	return systemPrompt + "\n\n" + snippet + "\n\n" + responseSchemaHint + "\n\nInput:\n" + payload
}

func filterByID(items []*engram.Engram, id int64) []*engram.Engram {
	for _, e := range items {
		if e.ID == id {
			return []*engram.Engram{e}
		}
	}
	return nil
}
