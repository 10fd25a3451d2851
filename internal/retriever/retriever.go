package retriever

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rocodesign/engrammar/internal/autopin"
	"github.com/rocodesign/engrammar/internal/environment"
	"github.com/rocodesign/engrammar/internal/store"
	"github.com/rocodesign/engrammar/internal/vectorindex"
	"github.com/rocodesign/engrammar/pkg/engram"
)

// rrfConstant is the reciprocal-rank-fusion constant used when merging
// dense and lexical rankings.
const rrfConstant = 60

// tagRelevanceDropThreshold / tagRelevanceDropEvidence implement the
// tag-relevance drop rule applied after fusion (the positive bonus is
// applied inline in applyTagRelevance).
const (
	tagRelevanceDropThreshold = -0.1
	tagRelevanceDropEvidence  = 3
)

// Options narrows a Search call. Zero value means "no filter, use defaults".
type Options struct {
	CategoryFilter string
	TagFilter      []string
	TopK           int

	// HookEvent labels which caller surfaced this search for the
	// shown-lesson log (e.g. "UserPromptSubmit", "PreToolUse"). Defaults to
	// "UserPromptSubmit" when empty.
	HookEvent string
}

// Result is one ranked engram returned by Search.
type Result struct {
	Engram *engram.Engram
	Score  float64
}

// Retriever implements the hybrid search pipeline over a store, a vector
// index, and an environment probe.
type Retriever struct {
	Store     store.EngramStore
	Relevance store.RelevanceStore
	Index     *vectorindex.Index
	Embedder  vectorindex.Embedder
	Probe     *environment.Probe

	// AutoPin is consulted after every match-stat increment, mirroring
	// db.py:update_match_stats inlining the auto-pin check in the same
	// transaction boundary. Nil disables auto-pin evaluation (e.g. in
	// tests that only care about ranking).
	AutoPin *autopin.Engine

	// defaultTopK is used when Options.TopK is zero (the configured
	// search.top_k value). Stored atomically since
	// cmd/engrammar-daemon's config watcher updates it from a goroutine
	// other than the one running Search.
	defaultTopK atomic.Int32
}

// SetDefaultTopK sets the fallback top_k used when a search doesn't specify
// one. Safe to call concurrently with Search.
func (r *Retriever) SetDefaultTopK(n int) {
	r.defaultTopK.Store(int32(n))
}

// Search runs the full hybrid ranking pipeline: structural prerequisite +
// tag_filter narrowing, dense + lexical ranking, RRF fusion, category
// filter, tag-relevance penalty/bonus, then records match stats and
// shown-engram side effects for the survivors.
func (r *Retriever) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = int(r.defaultTopK.Load())
	}
	if topK <= 0 {
		topK = 5
	}

	active, err := r.Store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}

	env := r.Probe.Detect(ctx)

	filtered := make([]*engram.Engram, 0, len(active))
	filteredByID := make(map[int64]*engram.Engram, len(active))
	for _, e := range active {
		if !structuralPrerequisitesMatch(e.Prerequisites, env) {
			continue
		}
		if !declaresAllTags(e.Prerequisites, opts.TagFilter) {
			continue
		}
		filtered = append(filtered, e)
		filteredByID[e.ID] = e
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	denseRanked, err := r.denseRank(query)
	if err != nil {
		return nil, err
	}
	lexicalRanked := r.lexicalRank(query, filtered)

	fused := reciprocalRankFusion(rrfConstant, denseRanked, lexicalRanked)

	survivors := make([]RankedItem, 0, len(fused))
	for _, item := range fused {
		e, ok := filteredByID[item.ID]
		if !ok {
			continue
		}
		if opts.CategoryFilter != "" && !r.matchesCategory(ctx, e, opts.CategoryFilter) {
			continue
		}
		survivors = append(survivors, item)
	}

	survivors, err = r.applyTagRelevance(ctx, survivors, env.Tags)
	if err != nil {
		return nil, err
	}

	if len(survivors) > topK {
		survivors = survivors[:topK]
	}

	results := make([]Result, 0, len(survivors))
	for _, item := range survivors {
		e := filteredByID[item.ID]
		results = append(results, Result{Engram: e, Score: item.Score})

		if err := r.Store.UpdateMatchStats(ctx, e.ID, env.Repo, env.Tags); err != nil {
			return nil, err
		}
		if r.AutoPin != nil {
			if err := r.AutoPin.AfterRepoMatch(ctx, e.ID, env.Repo); err != nil {
				return nil, err
			}
			if len(env.Tags) > 0 {
				if err := r.AutoPin.AfterTagMatch(ctx, e.ID); err != nil {
					return nil, err
				}
			}
		}
	}

	if len(results) > 0 {
		ids := make([]int64, len(results))
		for i, res := range results {
			ids[i] = res.Engram.ID
		}
		hookEvent := opts.HookEvent
		if hookEvent == "" {
			hookEvent = "UserPromptSubmit"
		}
		_ = r.Store.RecordShown(ctx, sessionIDFromContext(ctx), ids, hookEvent)
	}

	return results, nil
}

func (r *Retriever) denseRank(query string) ([]RankedItem, error) {
	if r.Index == nil || r.Embedder == nil || r.Index.Len() == 0 {
		return nil, nil
	}
	vec, err := r.Embedder.Embed(query)
	if err != nil {
		return nil, err
	}
	scored := r.Index.Search(vec, 10)
	out := make([]RankedItem, len(scored))
	for i, s := range scored {
		out[i] = RankedItem{ID: s.ID, Score: s.Score}
	}
	return out, nil
}

func (r *Retriever) lexicalRank(query string, filtered []*engram.Engram) []RankedItem {
	corpus := make([][]string, len(filtered))
	for i, e := range filtered {
		corpus[i] = tokenize(e.Text + " " + e.Category)
	}

	bm25 := NewBM25(corpus)
	scores := bm25.Scores(tokenize(query))

	ranked := make([]RankedItem, len(filtered))
	for i, e := range filtered {
		ranked[i] = RankedItem{ID: e.ID, Score: scores[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	return ranked
}

func (r *Retriever) matchesCategory(ctx context.Context, e *engram.Engram, filter string) bool {
	if strings.HasPrefix(e.Category, filter) {
		return true
	}
	cats, err := r.Store.Categories(ctx, e.ID)
	if err != nil {
		return false
	}
	for _, c := range cats {
		if strings.HasPrefix(c, filter) {
			return true
		}
	}
	return false
}

// applyTagRelevance penalizes or boosts each survivor by its tag relevance:
// for each survivor with non-empty tag EMA data against envTags, compute the
// average EMA across the *requested* tags (denominator = len(envTags), not
// the matched count) and total evidence across those same tags; drop on a
// strong negative signal, otherwise apply a small positive bonus.
func (r *Retriever) applyTagRelevance(ctx context.Context, items []RankedItem, envTags []string) ([]RankedItem, error) {
	if len(envTags) == 0 {
		return items, nil
	}

	wanted := make(map[string]bool, len(envTags))
	for _, t := range envTags {
		wanted[t] = true
	}

	out := make([]RankedItem, 0, len(items))
	for _, item := range items {
		rel, err := r.relevanceFor(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		if rel == nil {
			out = append(out, item)
			continue
		}

		var sumEMA float64
		var evidence int
		for _, tr := range rel {
			if !wanted[tr.Tag] {
				continue
			}
			sumEMA += tr.EMA
			evidence += tr.PositiveEvals + tr.NegativeEvals
		}
		avg := sumEMA / float64(len(envTags))

		if avg <= tagRelevanceDropThreshold && evidence >= tagRelevanceDropEvidence {
			continue
		}
		if avg > 0 {
			item.Score += avg * 0.01
		}
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (r *Retriever) relevanceFor(ctx context.Context, id int64) ([]store.TagRelevance, error) {
	if r.Relevance == nil {
		return nil, nil
	}
	rel, err := r.Relevance.TagRelevanceForEngram(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(rel) == 0 {
		return nil, nil
	}
	return rel, nil
}

func structuralPrerequisitesMatch(p engram.Prerequisites, env environment.Environment) bool {
	structural := p
	structural.Tags = nil
	return environment.CheckPrerequisites(structural, env)
}

func declaresAllTags(p engram.Prerequisites, requested []string) bool {
	if len(requested) == 0 {
		return true
	}
	declared := make(map[string]bool, len(p.Tags))
	for _, t := range p.Tags {
		declared[t] = true
	}
	for _, t := range requested {
		if !declared[t] {
			return false
		}
	}
	return true
}

type sessionIDKey struct{}

// WithSessionID attaches a session identifier to ctx for Search's
// RecordShown side effect. Callers that don't have one (ad-hoc CLI
// searches) can omit it; an empty session id is recorded as-is.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

func sessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey{}).(string)
	return v
}
