package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// IsSessionProcessed reports whether sessionID has already been through an
// extraction pass, ported from original_source/src/db.py's implied
// get_processed_session_ids membership check (extractor.py filters facets/
// transcripts against that set before calling out to the LLM).
func (s *Store) IsSessionProcessed(ctx context.Context, sessionID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_extraction_sessions WHERE session_id = ?`, sessionID,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkSessionProcessed records that sessionID has been run through
// extraction, ported from original_source/src/db.py: mark_sessions_processed.
func (s *Store) MarkSessionProcessed(ctx context.Context, sessionID string, hadFriction bool, lessonsExtracted int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_extraction_sessions (session_id, processed_at, had_friction, engrams_extracted)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		 processed_at = excluded.processed_at, had_friction = excluded.had_friction,
		 engrams_extracted = excluded.engrams_extracted`,
		sessionID, now, boolToInt(hadFriction), lessonsExtracted)
	return err
}
