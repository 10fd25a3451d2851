package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rocodesign/engrammar/pkg/engram"
)

type legacyStateFile struct {
	Lessons []legacyLesson `json:"lessons"`
}

type legacyLesson struct {
	Topic           string   `json:"topic"`
	Lesson          string   `json:"lesson"`
	SourceSessions  []string `json:"source_sessions"`
	OccurrenceCount int      `json:"occurrence_count"`
}

// ImportLegacyState migrates a prior flat-file `.lessons-state.json` export
// into the category tree, adding one engram per legacy lesson. Ported from
// original_source/src/db.py: import_from_state_file. Reachable from
// `cmd/engrammar backfill`, outside the closed retrieval loop.
func (s *Store) ImportLegacyState(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var state legacyStateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, fmt.Errorf("legacy state file is not valid JSON: %w", err)
	}

	imported := 0
	for _, lesson := range state.Lessons {
		if lesson.Lesson == "" {
			continue
		}

		topic := lesson.Topic
		if topic == "" {
			topic = "general"
		}
		category := engram.CategoryForTopic(topic)

		occurrence := lesson.OccurrenceCount
		if occurrence == 0 {
			occurrence = 1
		}

		_, err := s.Add(ctx, &engram.Engram{
			Text:            lesson.Lesson,
			Category:        category,
			Source:          engram.SourceAutoExtracted,
			SourceSessions:  lesson.SourceSessions,
			OccurrenceCount: occurrence,
		})
		if err != nil {
			return imported, err
		}
		imported++
	}

	return imported, nil
}
