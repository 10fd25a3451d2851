package retriever

import "sort"

// RankedItem is one (id, score) entry in a ranked list fed to RRF.
type RankedItem struct {
	ID    int64
	Score float64
}

// reciprocalRankFusion merges multiple ranked lists via RRF with constant k,
// matching original_source/src/search.py's `_reciprocal_rank_fusion`: an
// item absent from a list simply contributes nothing from that list.
func reciprocalRankFusion(k int, lists ...[]RankedItem) []RankedItem {
	scores := map[int64]float64{}
	order := []int64{}
	for _, list := range lists {
		for rank, item := range list {
			if _, ok := scores[item.ID]; !ok {
				order = append(order, item.ID)
			}
			scores[item.ID] += 1.0 / float64(k+rank+1)
		}
	}

	fused := make([]RankedItem, 0, len(order))
	for _, id := range order {
		fused = append(fused, RankedItem{ID: id, Score: scores[id]})
	}
	sort.SliceStable(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	return fused
}
