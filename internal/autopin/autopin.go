// Package autopin watches per-repo and per-tag-set match counters plus
// per-tag EMA relevance scores and promotes or demotes an engram's pinned
// status. It owns the minimal-common-tag-subset search ported from
// original_source/src/db.py:find_auto_pin_tag_subsets.
package autopin

import (
	"context"
	"sort"

	"github.com/rocodesign/engrammar/internal/store"
)

// Auto-pin thresholds.
const (
	TRepo = 15
	TTag  = 15

	PinThreshold        = 0.4
	UnpinThreshold      = -0.2
	MinEvidenceForPin   = 5
	maxSubsetSize       = 4
)

// Engine evaluates auto-pin/auto-unpin decisions against a store.
type Engine struct {
	Store     store.EngramStore
	Relevance store.RelevanceStore
}

// AfterRepoMatch is called once UpdateMatchStats has incremented the
// (engram, repo) counter. It checks the repo-threshold pin trigger.
func (e *Engine) AfterRepoMatch(ctx context.Context, id int64, repo string) error {
	if repo == "" {
		return nil
	}
	stat, ok, err := e.Store.RepoStatsForEngram(ctx, id, repo)
	if err != nil {
		return err
	}
	if !ok || stat.TimesMatched < TRepo {
		return nil
	}

	eng, err := e.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if eng.Pinned {
		return nil
	}

	prereqs := eng.Prerequisites
	prereqs.Repos = addUnique(prereqs.Repos, repo)
	return e.Store.SetPinned(ctx, id, true, true, prereqs)
}

// AfterTagMatch is called once UpdateMatchStats has incremented the
// (engram, tag_set) counter. It recomputes the minimal common tag subset
// across all recorded tag sets for this engram and pins on a qualifying
// subset.
func (e *Engine) AfterTagMatch(ctx context.Context, id int64) error {
	stats, err := e.Store.TagStatsForEngram(ctx, id)
	if err != nil {
		return err
	}
	subset := findAutoPinTagSubset(stats, TTag)
	if subset == nil {
		return nil
	}

	eng, err := e.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if eng.Pinned {
		return nil
	}

	prereqs := eng.Prerequisites
	prereqs.Tags = subset
	return e.Store.SetPinned(ctx, id, true, true, prereqs)
}

// AfterRelevanceUpdate is called once UpdateTagRelevance has folded a new
// raw score into an engram's per-tag EMA. It computes one aggregate average
// EMA and total evidence count across every tag the engram participates in
// (not a per-tag branch — spec.md §4.E's "avg EMA across all tags the
// engram participates in" check is a single aggregate decision), then
// applies the EMA-driven pin/unpin rule, honoring the invariant that a
// manually pinned engram (AutoPinned == false) is never auto-unpinned.
func (e *Engine) AfterRelevanceUpdate(ctx context.Context, after store.EngramAfterUpdate) error {
	rel, err := e.Relevance.TagRelevanceForEngram(ctx, after.ID)
	if err != nil {
		return err
	}
	if len(rel) == 0 {
		return nil
	}

	var sumEMA float64
	var evidence int
	var tags []string
	for _, tr := range rel {
		sumEMA += tr.EMA
		evidence += tr.PositiveEvals + tr.NegativeEvals
		tags = append(tags, tr.Tag)
	}
	avg := sumEMA / float64(len(rel))

	if evidence < MinEvidenceForPin {
		return nil
	}

	switch {
	case !after.Pinned && avg > PinThreshold:
		prereqs := after.Prereqs
		for _, t := range tags {
			prereqs.Tags = addUnique(prereqs.Tags, t)
		}
		return e.Store.SetPinned(ctx, after.ID, true, true, prereqs)

	case after.Pinned && after.AutoPinned && avg < UnpinThreshold:
		return e.Store.SetPinned(ctx, after.ID, false, false, after.Prereqs)
	}
	return nil
}

func addUnique(existing []string, v string) []string {
	for _, s := range existing {
		if s == v {
			return existing
		}
	}
	return append(append([]string{}, existing...), v)
}

// findAutoPinTagSubset ports find_auto_pin_tag_subsets: generate the
// powerset of all tags seen across tag_set rows (capped at size 4), sum
// times_matched for every tag_set that is a superset of each candidate,
// keep candidates meeting threshold, then return the smallest minimal one
// (no qualifying proper subset also in the result), tie-broken
// lexicographically.
func findAutoPinTagSubset(stats []store.TagStat, threshold int) []string {
	if len(stats) == 0 {
		return nil
	}

	type weighted struct {
		tags  map[string]bool
		count int
	}
	sets := make([]weighted, 0, len(stats))
	allTags := map[string]bool{}
	for _, s := range stats {
		if len(s.TagSet) == 0 {
			continue
		}
		tags := make(map[string]bool, len(s.TagSet))
		for _, t := range s.TagSet {
			tags[t] = true
			allTags[t] = true
		}
		sets = append(sets, weighted{tags: tags, count: s.TimesMatched})
	}
	if len(sets) == 0 {
		return nil
	}

	uniqueTags := make([]string, 0, len(allTags))
	for t := range allTags {
		uniqueTags = append(uniqueTags, t)
	}
	sort.Strings(uniqueTags)

	maxSize := len(uniqueTags)
	if maxSize > maxSubsetSize {
		maxSize = maxSubsetSize
	}

	var candidates [][]string
	for size := 1; size <= maxSize; size++ {
		combinations(uniqueTags, size, func(combo []string) {
			candidates = append(candidates, append([]string{}, combo...))
		})
	}

	qualifying := make([][]string, 0)
	for _, cand := range candidates {
		total := 0
		for _, s := range sets {
			if isSubsetOf(cand, s.tags) {
				total += s.count
			}
		}
		if total >= threshold {
			qualifying = append(qualifying, cand)
		}
	}
	if len(qualifying) == 0 {
		return nil
	}

	sort.Slice(qualifying, func(i, j int) bool { return len(qualifying[i]) < len(qualifying[j]) })

	minimal := make([][]string, 0)
	for _, cand := range qualifying {
		isProperSupersetOfMinimal := false
		for _, m := range minimal {
			if isProperSubset(m, cand) {
				isProperSupersetOfMinimal = true
				break
			}
		}
		if !isProperSupersetOfMinimal {
			minimal = append(minimal, cand)
		}
	}
	if len(minimal) == 0 {
		return nil
	}

	sort.Slice(minimal, func(i, j int) bool {
		if len(minimal[i]) != len(minimal[j]) {
			return len(minimal[i]) < len(minimal[j])
		}
		for k := range minimal[i] {
			if minimal[i][k] != minimal[j][k] {
				return minimal[i][k] < minimal[j][k]
			}
		}
		return false
	})

	return minimal[0]
}

func isSubsetOf(candidate []string, set map[string]bool) bool {
	for _, t := range candidate {
		if !set[t] {
			return false
		}
	}
	return true
}

func isProperSubset(a, b []string) bool {
	if len(a) >= len(b) {
		return false
	}
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	for _, t := range a {
		if !set[t] {
			return false
		}
	}
	return true
}

// combinations invokes fn with every size-r combination of items, in
// lexicographic order, without allocating the full powerset up front.
func combinations(items []string, r int, fn func([]string)) {
	n := len(items)
	if r > n {
		return
	}
	idx := make([]int, r)
	for i := range idx {
		idx[i] = i
	}
	combo := make([]string, r)
	for {
		for i, v := range idx {
			combo[i] = items[v]
		}
		fn(combo)

		i := r - 1
		for i >= 0 && idx[i] == i+n-r {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < r; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
