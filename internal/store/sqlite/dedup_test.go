package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocodesign/engrammar/pkg/engram"
)

func TestUnverifiedAndVerifiedEngramsPartitionByFlag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	unverifiedID, err := s.Add(ctx, &engram.Engram{Text: "a", Category: "general"})
	require.NoError(t, err)
	verifiedID, err := s.Add(ctx, &engram.Engram{Text: "b", Category: "general"})
	require.NoError(t, err)
	require.NoError(t, s.MarkDedupVerified(ctx, []int64{verifiedID}))

	unverified, err := s.UnverifiedEngrams(ctx)
	require.NoError(t, err)
	require.Len(t, unverified, 1)
	assert.Equal(t, unverifiedID, unverified[0].ID)

	verified, err := s.VerifiedEngrams(ctx)
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, verifiedID, verified[0].ID)
}

func TestMergeEngramGroupDeprecatesLosersAndRewritesSurvivor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	survivor, err := s.Add(ctx, &engram.Engram{Text: "always do X", Category: "general"})
	require.NoError(t, err)
	loser, err := s.Add(ctx, &engram.Engram{Text: "do X always", Category: "general"})
	require.NoError(t, err)

	require.NoError(t, s.MergeEngramGroup(ctx, survivor, []int64{survivor, loser},
		"Always do X consistently.", "run-1", "duplicate phrasing", 0.92))

	got, err := s.Get(ctx, survivor)
	require.NoError(t, err)
	assert.Equal(t, "Always do X consistently.", got.Text)
	assert.True(t, got.DedupVerified)
	assert.False(t, got.Deprecated)

	lost, err := s.Get(ctx, loser)
	require.NoError(t, err)
	assert.True(t, lost.Deprecated)
	require.NotNil(t, lost.MergedInto)
	assert.Equal(t, survivor, *lost.MergedInto)
	assert.Equal(t, "run-1", lost.MergeRunID)
	assert.InDelta(t, 0.92, lost.MergeConfidence, 0.0001)
}

func TestMergeEngramGroupFoldsOccurrenceCountsAndSourceSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	survivor, err := s.Add(ctx, &engram.Engram{
		Text: "always do X", Category: "general",
		OccurrenceCount: 3, SourceSessions: []string{"sess-a", "sess-shared"},
	})
	require.NoError(t, err)
	loser, err := s.Add(ctx, &engram.Engram{
		Text: "do X always", Category: "general",
		OccurrenceCount: 2, SourceSessions: []string{"sess-shared", "sess-b"},
	})
	require.NoError(t, err)

	require.NoError(t, s.MergeEngramGroup(ctx, survivor, []int64{survivor, loser},
		"Always do X consistently.", "run-1", "duplicate phrasing", 0.92))

	got, err := s.Get(ctx, survivor)
	require.NoError(t, err)
	assert.Equal(t, 5, got.OccurrenceCount)
	assert.ElementsMatch(t, []string{"sess-a", "sess-shared", "sess-b"}, got.SourceSessions)
}

func TestMergeEngramGroupCompactsExistingTwoHopChains(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	grandchild, err := s.Add(ctx, &engram.Engram{Text: "original phrasing", Category: "general"})
	require.NoError(t, err)
	middle, err := s.Add(ctx, &engram.Engram{Text: "first merged phrasing", Category: "general"})
	require.NoError(t, err)
	newSurvivor, err := s.Add(ctx, &engram.Engram{Text: "second merged phrasing", Category: "general"})
	require.NoError(t, err)

	// Pass 1: grandchild merges into middle.
	require.NoError(t, s.MergeEngramGroup(ctx, middle, []int64{middle, grandchild},
		"first merged phrasing", "run-1", "same lesson", 0.9))

	// Pass 2: middle (now itself deprecated) merges into newSurvivor. Any
	// engram still pointing merged_into at middle must be re-pointed at
	// newSurvivor directly.
	require.NoError(t, s.MergeEngramGroup(ctx, newSurvivor, []int64{newSurvivor, middle},
		"second merged phrasing", "run-2", "same lesson again", 0.9))

	got, err := s.Get(ctx, grandchild)
	require.NoError(t, err)
	require.NotNil(t, got.MergedInto)
	assert.Equal(t, newSurvivor, *got.MergedInto)
}

func TestRecordDedupErrorAppendsToLog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Add(ctx, &engram.Engram{Text: "a", Category: "general"})
	require.NoError(t, err)

	require.NoError(t, s.RecordDedupError(ctx, id, "batch 1: schema validation failed"))
	require.NoError(t, s.RecordDedupError(ctx, id, "batch 2: id appeared twice"))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"batch 1: schema validation failed",
		"batch 2: id appeared twice",
	}, got.DedupErrors)
}
