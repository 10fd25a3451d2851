package engram_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rocodesign/engrammar/pkg/engram"
)

func TestCategoryForTopicKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "development/git", engram.CategoryForTopic("git-workflow"))
	assert.Equal(t, "general/browser-testing", engram.CategoryForTopic("browser-testing"))
	assert.Equal(t, "general", engram.CategoryForTopic(""))
}
