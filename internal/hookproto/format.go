// Package hookproto defines the wire formats shared by the hook scripts
// (outside this module's scope) and the Go daemon/CLI: the
// engram injection text block surfaced to the host assistant, and the
// newline-framed JSON request/response envelope used over the daemon's Unix
// socket. Ported from original_source/src/hook_utils.py and daemon.py.
package hookproto

import (
	"fmt"
	"strings"

	"github.com/rocodesign/engrammar/pkg/engram"
)

const (
	blockOpen  = "[ENGRAMMAR_V1]"
	blockClose = "[/ENGRAMMAR_V1]"

	feedbackInstruction = `Treat these as soft constraints. If one doesn't apply here, ` +
		`call engrammar_feedback(lesson_id, applicable=false, reason="...").`
)

// FormatLessonsBlock renders engrams as the [ENGRAMMAR_V1] injection block
// surfaced to the host assistant, one line per engram formatted
// `- [EG#<id>][<category>] <text>`, followed by a fixed instruction to call
// the feedback tool when a lesson doesn't apply. Returns "" for an empty
// slice, matching format_lessons_block's early return.
func FormatLessonsBlock(lessons []*engram.Engram, showCategories bool) string {
	if len(lessons) == 0 {
		return ""
	}

	lines := make([]string, 0, len(lessons)+3)
	lines = append(lines, blockOpen)
	for _, l := range lessons {
		cat := ""
		if showCategories && l.Category != "" {
			cat = fmt.Sprintf("[%s] ", l.Category)
		}
		lines = append(lines, fmt.Sprintf("- [EG#%d]%s%s", l.ID, cat, l.Text))
	}
	lines = append(lines, feedbackInstruction)
	lines = append(lines, blockClose)
	return strings.Join(lines, "\n")
}
