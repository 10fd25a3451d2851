package engram_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rocodesign/engrammar/pkg/engram"
)

func TestNormalizeCategory(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantOK  bool
	}{
		{"development/frontend/styling", "development/frontend/styling", true},
		{"/development//frontend/", "development/frontend", true},
		{"general", "general", true},
		{"   ", "", false},
		{"///", "", false},
	}

	for _, tc := range cases {
		got, ok := engram.NormalizeCategory(tc.in)
		assert.Equal(t, tc.wantOK, ok, tc.in)
		if tc.wantOK {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}

func TestNormalizeCategoryIdempotent(t *testing.T) {
	c, ok := engram.NormalizeCategory("/development/frontend//styling/")
	assert.True(t, ok)
	c2, ok2 := engram.NormalizeCategory(c)
	assert.True(t, ok2)
	assert.Equal(t, c, c2)
}

func TestParseCategoryLevels(t *testing.T) {
	l1, l2, l3 := engram.ParseCategoryLevels("development/frontend/styling")
	assert.Equal(t, "development", l1)
	assert.Equal(t, "frontend", l2)
	assert.Equal(t, "styling", l3)

	l1, l2, l3 = engram.ParseCategoryLevels("general")
	assert.Equal(t, "general", l1)
	assert.Equal(t, "", l2)
	assert.Equal(t, "", l3)
}

func TestParsePrerequisitesMalformed(t *testing.T) {
	p := engram.ParsePrerequisites("not json")
	assert.True(t, p.IsEmpty())

	p = engram.ParsePrerequisites(`{"repos": ["app-repo"]}`)
	assert.False(t, p.IsEmpty())
	assert.Equal(t, []string{"app-repo"}, p.Repos)

	p = engram.ParsePrerequisites("")
	assert.True(t, p.IsEmpty())
}
