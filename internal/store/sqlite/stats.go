package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/rocodesign/engrammar/internal/store"
)

// UpdateMatchStats increments the global times_matched counter plus the
// per-repo and per-tag-set counters for one retrieval match. Auto-pinning
// itself is decided by internal/autopin, which reads the counters this
// writes via RepoStatsForEngram/TagStatsForEngram — this method only
// records the match. Ported from original_source/src/db.py:
// update_match_stats, minus the auto-pin side effects which db.py inlined
// here but the expanded design keeps as a separate policy.
func (s *Store) UpdateMatchStats(ctx context.Context, id int64, repo string, tags []string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE engrams SET times_matched = times_matched + 1, last_matched = ?, updated_at = ? WHERE id = ?`,
		now, now, id); err != nil {
		return err
	}

	if repo != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO engram_repo_stats (engram_id, repo, times_matched, last_matched)
			 VALUES (?, ?, 1, ?)
			 ON CONFLICT(engram_id, repo) DO UPDATE SET
			 times_matched = times_matched + 1, last_matched = excluded.last_matched`,
			id, repo, now); err != nil {
			return err
		}
	}

	if len(tags) > 0 {
		sorted := append([]string(nil), tags...)
		sort.Strings(sorted)
		tagSetJSON, err := json.Marshal(sorted)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO engram_tag_stats (engram_id, tag_set, times_matched, last_matched)
			 VALUES (?, ?, 1, ?)
			 ON CONFLICT(engram_id, tag_set) DO UPDATE SET
			 times_matched = times_matched + 1, last_matched = excluded.last_matched`,
			id, string(tagSetJSON), now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RepoStatsForEngram returns the (engram, repo) counter row, or found=false
// if no match has ever been recorded for that repo.
func (s *Store) RepoStatsForEngram(ctx context.Context, id int64, repo string) (store.RepoStat, bool, error) {
	var rs store.RepoStat
	var lastMatched sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT repo, times_matched, last_matched FROM engram_repo_stats WHERE engram_id = ? AND repo = ?`,
		id, repo).Scan(&rs.Repo, &rs.TimesMatched, &lastMatched)
	if err == sql.ErrNoRows {
		return store.RepoStat{}, false, nil
	}
	if err != nil {
		return store.RepoStat{}, false, err
	}
	if lastMatched.Valid {
		if t, perr := time.Parse(time.RFC3339, lastMatched.String); perr == nil {
			rs.LastMatched = &t
		}
	}
	return rs, true, nil
}

// TagStatsForEngram returns every (engram, tag_set) counter row recorded for
// id. The minimal-common-tag-subset search itself lives in internal/autopin;
// this is purely the data access ported from the SELECT in
// find_auto_pin_tag_subsets.
func (s *Store) TagStatsForEngram(ctx context.Context, id int64) ([]store.TagStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag_set, times_matched, last_matched FROM engram_tag_stats WHERE engram_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TagStat
	for rows.Next() {
		var tagSetJSON string
		var ts store.TagStat
		var lastMatched sql.NullString
		if err := rows.Scan(&tagSetJSON, &ts.TimesMatched, &lastMatched); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagSetJSON), &ts.TagSet); err != nil {
			continue
		}
		if lastMatched.Valid {
			if t, perr := time.Parse(time.RFC3339, lastMatched.String); perr == nil {
				ts.LastMatched = &t
			}
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// RecordShown accrues one retrieval's shown engrams into the live-session
// shown-lesson log. Ported from db.py's record_shown_lesson: an
// INSERT OR IGNORE keyed on (session_id, engram_id) so a lesson shown twice
// in the same session (e.g. once from UserPromptSubmit, once from
// PreToolUse) is logged once. This is purely session-local bookkeeping —
// the write-once session_audit ledger row is written separately, at session
// end, by WriteSessionAudit.
func (s *Store) RecordShown(ctx context.Context, sessionID string, engramIDs []int64, hookEvent string) error {
	if len(engramIDs) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range engramIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO shown_engrams (session_id, engram_id, hook_event, shown_at)
			 VALUES (?, ?, ?, ?)`,
			sessionID, id, hookEvent, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ShownEngramIDs returns every engram id accrued for sessionID by RecordShown
// so far, ported from db.py's get_shown_lesson_ids.
func (s *Store) ShownEngramIDs(ctx context.Context, sessionID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT engram_id FROM shown_engrams WHERE session_id = ? ORDER BY engram_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearShown deletes sessionID's shown-lesson log rows, ported from db.py's
// clear_session_shown. Called once the session-end hook path has folded the
// accrued ids into a session_audit row.
func (s *Store) ClearShown(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM shown_engrams WHERE session_id = ?`, sessionID)
	return err
}

// WriteSessionAudit writes the write-once session_audit ledger row for a
// completed session. Ported from db.py's write_session_audit: a second call
// for the same session_id is a no-op (INSERT OR IGNORE against the primary
// key), matching spec.md §8 invariant 9 and on_session_end.py/on_stop.py's
// expectation that retrying the hook never corrupts an already-written
// audit row.
func (s *Store) WriteSessionAudit(ctx context.Context, audit store.SessionAudit) error {
	envTagsJSON, err := json.Marshal(audit.EnvTags)
	if err != nil {
		return err
	}
	shownJSON, err := json.Marshal(audit.ShownEngramIDs)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	status := audit.Status
	if status == "" {
		status = "pending"
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO session_audit (session_id, repo, env_tags, shown_engram_ids,
		 transcript_path, status, retry_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		audit.SessionID, audit.Repo, string(envTagsJSON), string(shownJSON),
		audit.TranscriptPath, status, audit.RetryCount, now)
	return err
}
