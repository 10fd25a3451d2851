package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rocodesign/engrammar/pkg/engram"
)

// UnverifiedEngrams returns active engrams that have not yet survived a
// dedup pass. Ported from original_source/src/db.py: get_unverified_engrams
// (implied by dedup.py's import of the same name).
func (s *Store) UnverifiedEngrams(ctx context.Context) ([]*engram.Engram, error) {
	rows, err := s.db.QueryContext(ctx,
		engramSelectColumns+` FROM engrams WHERE deprecated = 0 AND dedup_verified = 0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEngrams(rows)
}

// VerifiedEngrams returns active engrams that have already survived a dedup
// pass, used as merge targets/bridges in incremental mode.
func (s *Store) VerifiedEngrams(ctx context.Context) ([]*engram.Engram, error) {
	rows, err := s.db.QueryContext(ctx,
		engramSelectColumns+` FROM engrams WHERE deprecated = 0 AND dedup_verified = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEngrams(rows)
}

// MarkDedupVerified flips dedup_verified on for the given ids — called once
// a pass confirms they have no further duplicates in their batch.
func (s *Store) MarkDedupVerified(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, now)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE engrams SET dedup_verified = 1, updated_at = ? WHERE id IN (%s)`, placeholders),
		args...)
	return err
}

// MergeEngramGroup deprecates every id in mergedIDs (excluding survivorID if
// present), points them at survivorID via merged_into, records the merge's
// provenance, replaces the survivor's text with the canonical text, and
// folds the absorbed rows' occurrence counts and source-session sets into
// the survivor (spec.md's merge_group contract: "survivor gains absorbed
// engrams' occurrence counts and session lists (de-duplicated)"). Ported
// from original_source/src/db.py: merge_engram_group (named in dedup.py's
// imports; shape reconstructed from run_dedup's call sites), with the
// session-union logic following the same pattern as IncrementOccurrence in
// engrams.go.
func (s *Store) MergeEngramGroup(ctx context.Context, survivorID int64, mergedIDs []int64, canonicalText, runID, reason string, confidence float64) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	survivorSessions, survivorCount, err := loadSessionsAndCount(ctx, tx, survivorID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(survivorSessions))
	union := make([]string, 0, len(survivorSessions))
	for _, sess := range survivorSessions {
		if !seen[sess] {
			seen[sess] = true
			union = append(union, sess)
		}
	}
	totalCount := survivorCount

	for _, id := range mergedIDs {
		if id == survivorID {
			continue
		}
		absorbedSessions, absorbedCount, err := loadSessionsAndCount(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, sess := range absorbedSessions {
			if !seen[sess] {
				seen[sess] = true
				union = append(union, sess)
			}
		}
		totalCount += absorbedCount
	}

	unionJSON, err := json.Marshal(union)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE engrams SET text = ?, source_sessions = ?, occurrence_count = ?,
		 dedup_verified = 1, updated_at = ? WHERE id = ?`,
		canonicalText, string(unionJSON), totalCount, now, survivorID); err != nil {
		return err
	}

	for _, id := range mergedIDs {
		if id == survivorID {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE engrams SET deprecated = 1, merged_into = ?, merge_run_id = ?,
			 merge_reason = ?, merge_confidence = ?, updated_at = ? WHERE id = ?`,
			survivorID, runID, reason, confidence, now, id); err != nil {
			return err
		}

		// id may itself already be the merged_into target of earlier merges
		// (it was a dedup-verified survivor before this pass folded it into
		// survivorID). Re-point those rows directly at survivorID so no
		// engram is ever more than one merged_into hop from an active
		// survivor (one-hop compaction).
		if _, err := tx.ExecContext(ctx,
			`UPDATE engrams SET merged_into = ?, updated_at = ? WHERE merged_into = ?`,
			survivorID, now, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// loadSessionsAndCount reads an engram's source_sessions and occurrence_count
// within tx, used by MergeEngramGroup to fold absorbed rows into a survivor.
func loadSessionsAndCount(ctx context.Context, tx *sql.Tx, id int64) ([]string, int, error) {
	var sessionsJSON string
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT source_sessions, occurrence_count FROM engrams WHERE id = ?`, id).Scan(&sessionsJSON, &count)
	if err != nil {
		return nil, 0, err
	}
	var sessions []string
	if sessionsJSON != "" {
		if err := json.Unmarshal([]byte(sessionsJSON), &sessions); err != nil {
			sessions = nil
		}
	}
	return sessions, count, nil
}

// RecordDedupError appends message to the engram's dedup_errors log, used
// when a dedup pass's response validation rejects a decision involving this
// id so operators can audit repeated failures.
func (s *Store) RecordDedupError(ctx context.Context, id int64, message string) error {
	var existingJSON sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT dedup_errors FROM engrams WHERE id = ?`, id).Scan(&existingJSON); err != nil {
		return err
	}

	var errs []string
	if existingJSON.Valid && existingJSON.String != "" {
		_ = json.Unmarshal([]byte(existingJSON.String), &errs)
	}
	errs = append(errs, message)

	merged, err := json.Marshal(errs)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx,
		`UPDATE engrams SET dedup_errors = ?, updated_at = ? WHERE id = ?`, string(merged), now, id)
	return err
}
