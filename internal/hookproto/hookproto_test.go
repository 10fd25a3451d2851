package hookproto_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocodesign/engrammar/internal/hookproto"
	"github.com/rocodesign/engrammar/pkg/engram"
)

func TestFormatLessonsBlockEmptyReturnsEmptyString(t *testing.T) {
	assert.Equal(t, "", hookproto.FormatLessonsBlock(nil, true))
}

func TestFormatLessonsBlockIncludesMarkersAndCategory(t *testing.T) {
	lessons := []*engram.Engram{
		{ID: 42, Category: "go", Text: "always run go vet before committing"},
		{ID: 7, Text: "no category here"},
	}
	block := hookproto.FormatLessonsBlock(lessons, true)
	assert.Contains(t, block, "[ENGRAMMAR_V1]")
	assert.Contains(t, block, "[/ENGRAMMAR_V1]")
	assert.Contains(t, block, "- [EG#42][go] always run go vet before committing")
	assert.Contains(t, block, "- [EG#7]no category here")
	assert.Contains(t, block, "engrammar_feedback")
}

func TestFormatLessonsBlockHidesCategoryWhenDisabled(t *testing.T) {
	lessons := []*engram.Engram{{ID: 1, Category: "go", Text: "lesson"}}
	block := hookproto.FormatLessonsBlock(lessons, false)
	assert.NotContains(t, block, "[go]")
	assert.Contains(t, block, "- [EG#1]lesson")
}

func TestRequestResponseRoundTripThroughFraming(t *testing.T) {
	var buf bytes.Buffer
	req := hookproto.Request{Type: hookproto.RequestSearch, Query: "go vet", TopK: 5}
	require.NoError(t, hookproto.WriteRequest(&buf, req))

	got, err := hookproto.ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	var respBuf bytes.Buffer
	resp := hookproto.Response{Results: []hookproto.EngramView{{ID: 1, Text: "lesson"}}}
	require.NoError(t, hookproto.WriteResponse(&respBuf, resp))

	gotResp, err := hookproto.ReadResponse(&respBuf)
	require.NoError(t, err)
	assert.Equal(t, resp, gotResp)
}
