package dedup

import "github.com/rocodesign/engrammar/pkg/engram"

// SelectSurvivor picks which id in a confirmed duplicate group keeps its
// identity (and receives the canonical text); the rest are deprecated and
// point merged_into at it. Ported from dedup.py's select_survivor: prefer an
// already dedup_verified engram (avoids re-verifying a member that other
// groups may already reference as a bridge), then the highest
// occurrence_count, then the lowest id for a fully deterministic tie-break.
func SelectSurvivor(ids []int64, byID map[int64]*engram.Engram) int64 {
	best := ids[0]
	for _, id := range ids[1:] {
		if survivorLess(byID[best], byID[id], best, id) {
			best = id
		}
	}
	return best
}

// survivorLess reports whether candidate b should replace current best a.
func survivorLess(a, b *engram.Engram, aID, bID int64) bool {
	if a == nil || b == nil {
		return bID < aID
	}
	if a.DedupVerified != b.DedupVerified {
		return b.DedupVerified
	}
	if a.OccurrenceCount != b.OccurrenceCount {
		return b.OccurrenceCount > a.OccurrenceCount
	}
	return bID < aID
}
