package retriever

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReciprocalRankFusionCombinesBothLists(t *testing.T) {
	dense := []RankedItem{{ID: 1, Score: 0.9}, {ID: 2, Score: 0.5}}
	lexical := []RankedItem{{ID: 2, Score: 10}, {ID: 3, Score: 8}}

	fused := reciprocalRankFusion(60, dense, lexical)

	require := map[int64]float64{}
	for _, item := range fused {
		require[item.ID] = item.Score
	}

	assert.InDelta(t, 1.0/61.0, require[1], 1e-9)
	assert.InDelta(t, 1.0/62.0+1.0/61.0, require[2], 1e-9)
	assert.InDelta(t, 1.0/62.0, require[3], 1e-9)
	assert.Greater(t, require[2], require[1])
	assert.Greater(t, require[1], require[3])
}

func TestReciprocalRankFusionItemAbsentFromAListContributesNothing(t *testing.T) {
	fused := reciprocalRankFusion(60, []RankedItem{{ID: 1, Score: 1}}, nil)
	assert.Len(t, fused, 1)
	assert.Equal(t, int64(1), fused[0].ID)
}
