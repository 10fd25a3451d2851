package extractor

import (
	"encoding/json"
	"fmt"
)

// lessonItem is one element of the JSON array the extraction prompt asks
// the LLM to return, shared by both the transcript and facet prompt shapes.
type lessonItem struct {
	Topic          string   `json:"topic"`
	Lesson         string   `json:"lesson"`
	SourceSessions []string `json:"source_sessions"`
	Scope          string   `json:"scope"`
	ProjectSignals []string `json:"project_signals"`
}

// parseLessons decodes the LLM's JSON array output, tolerating an empty
// array (meaning "nothing worth extracting"). A non-array or malformed
// payload is reported as an error rather than silently treated as empty, so
// callers can distinguish "no lessons" from "bad response".
func parseLessons(output string) ([]lessonItem, error) {
	var items []lessonItem
	if err := json.Unmarshal([]byte(output), &items); err != nil {
		return nil, fmt.Errorf("extractor: malformed extraction response: %w", err)
	}
	return items, nil
}
