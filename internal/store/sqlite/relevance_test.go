package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocodesign/engrammar/pkg/engram"
)

func TestUpdateTagRelevanceBlendsEMAFromZeroOnFirstWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Add(ctx, &engram.Engram{Text: "a", Category: "general"})
	require.NoError(t, err)

	_, err = s.UpdateTagRelevance(ctx, id, map[string]float64{"react": 1.0}, 1.0)
	require.NoError(t, err)

	rel, err := s.TagRelevanceForEngram(ctx, id)
	require.NoError(t, err)
	require.Len(t, rel, 1)
	assert.InDelta(t, 0.3, rel[0].EMA, 0.0001)
	assert.Equal(t, 1, rel[0].PositiveEvals)
	assert.Equal(t, 0, rel[0].NegativeEvals)
}

func TestUpdateTagRelevanceClampsToBounds(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Add(ctx, &engram.Engram{Text: "a", Category: "general"})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		_, err := s.UpdateTagRelevance(ctx, id, map[string]float64{"react": 1.0}, 1.0)
		require.NoError(t, err)
	}

	rel, err := s.TagRelevanceForEngram(ctx, id)
	require.NoError(t, err)
	require.Len(t, rel, 1)
	assert.LessOrEqual(t, rel[0].EMA, 1.0)

	for i := 0; i < 50; i++ {
		_, err := s.UpdateTagRelevance(ctx, id, map[string]float64{"react": -1.0}, 1.0)
		require.NoError(t, err)
	}

	rel, err = s.TagRelevanceForEngram(ctx, id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rel[0].EMA, -1.0)
}

func TestUpdateTagRelevanceZeroRawLeavesEvidenceCountersUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Add(ctx, &engram.Engram{Text: "a", Category: "general"})
	require.NoError(t, err)

	_, err = s.UpdateTagRelevance(ctx, id, map[string]float64{"react": 0}, 1.0)
	require.NoError(t, err)

	rel, err := s.TagRelevanceForEngram(ctx, id)
	require.NoError(t, err)
	require.Len(t, rel, 1)
	assert.Equal(t, 0, rel[0].PositiveEvals)
	assert.Equal(t, 0, rel[0].NegativeEvals)
}
