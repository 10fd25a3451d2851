package engram

// TopicCategoryMap maps a short topic label (as reported by the extractor's
// LLM call, or stored in a legacy flat-file export) to the category tree
// path new engrams under that topic seed into. Ported verbatim from
// original_source/src/db.py: TOPIC_CATEGORY_MAP. Shared by internal/extractor
// (new auto-extracted engrams) and internal/store/sqlite's legacy importer,
// since both need the same topic-to-category mapping the original's single
// module-level constant provided.
var TopicCategoryMap = map[string]string{
	"tool-usage":             "tools/figma",
	"git-workflow":           "development/git",
	"styling":                "development/frontend/styling",
	"project-structure":      "development/architecture",
	"code-patterns":          "development/frontend/components",
	"jira-integration":       "tools/jira",
	"pr-creation":            "development/git/pr",
	"debugging":              "development/debugging",
	"permissions":            "tools/claude-code",
	"request-clarification":  "workflow/communication",
	"instructions":           "workflow/setup",
}

// CategoryForTopic resolves topic via TopicCategoryMap, falling back to
// "general/<topic>" for an unrecognized topic — matching the original's
// `TOPIC_CATEGORY_MAP.get(topic, "general/" + topic)` — and to "general"
// for an empty topic.
func CategoryForTopic(topic string) string {
	if category, ok := TopicCategoryMap[topic]; ok {
		return category
	}
	if topic == "" {
		return "general"
	}
	return "general/" + topic
}
