package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/rocodesign/engrammar/internal/store"
	"github.com/rocodesign/engrammar/pkg/engram"
)

// emaAlpha and the clamp bounds are the constants for the tag-relevance
// EMA math: new = clamp(old*(1-alpha) + raw*alpha*weight, -1, 1).
const (
	emaAlpha = 0.3
	emaMin   = -1.0
	emaMax   = 1.0
)

// UnprocessedAuditSessions returns session_audit rows still awaiting
// evaluation, in insertion order, capped at limit. Mirrors
// get_unprocessed_audit_sessions implied by evaluator.py's run_pending_evaluations.
func (s *Store) UnprocessedAuditSessions(ctx context.Context, limit int) ([]store.SessionAudit, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, repo, env_tags, shown_engram_ids, transcript_path,
		 status, retry_count, created_at
		 FROM session_audit WHERE status != 'completed' AND retry_count < 3
		 ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.SessionAudit
	for rows.Next() {
		var a store.SessionAudit
		var repo, transcriptPath, createdAt sql.NullString
		var envTagsJSON, shownJSON string
		if err := rows.Scan(&a.SessionID, &repo, &envTagsJSON, &shownJSON,
			&transcriptPath, &a.Status, &a.RetryCount, &createdAt); err != nil {
			return nil, err
		}
		a.Repo = repo.String
		a.TranscriptPath = transcriptPath.String
		_ = json.Unmarshal([]byte(envTagsJSON), &a.EnvTags)
		_ = json.Unmarshal([]byte(shownJSON), &a.ShownEngramIDs)
		if t, perr := time.Parse(time.RFC3339, createdAt.String); perr == nil {
			a.CreatedAt = t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkSessionStatus updates a session_audit row's status, incrementing
// retry_count when the new status is "failed".
func (s *Store) MarkSessionStatus(ctx context.Context, sessionID, status string) error {
	if status == "failed" {
		_, err := s.db.ExecContext(ctx,
			`UPDATE session_audit SET status = ?, retry_count = retry_count + 1 WHERE session_id = ?`,
			status, sessionID)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE session_audit SET status = ? WHERE session_id = ?`, status, sessionID)
	return err
}

// UpdateTagRelevance folds raw per-tag scores into the EMA table (creating
// rows on first write with old=0) and returns the engram's resulting
// pin-relevant state so callers (the auto-pin engine) don't need a second
// round trip. The analogous Python update_tag_relevance referenced by
// evaluator.py was not present in this snapshot of db.py, so the EMA
// formula above is this package's own derivation.
func (s *Store) UpdateTagRelevance(ctx context.Context, engramID int64, tagScores map[string]float64, weight float64) (store.EngramAfterUpdate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.EngramAfterUpdate{}, err
	}
	defer tx.Rollback()

	for tag, raw := range tagScores {
		var old float64
		var positive, negative int
		err := tx.QueryRowContext(ctx,
			`SELECT ema, positive_evals, negative_evals FROM engram_tag_relevance
			 WHERE engram_id = ? AND tag = ?`, engramID, tag).Scan(&old, &positive, &negative)
		if err != nil && err != sql.ErrNoRows {
			return store.EngramAfterUpdate{}, err
		}

		next := clamp(old*(1-emaAlpha)+raw*emaAlpha*weight, emaMin, emaMax)
		if raw > 0 {
			positive++
		} else if raw < 0 {
			negative++
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO engram_tag_relevance (engram_id, tag, ema, positive_evals, negative_evals)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(engram_id, tag) DO UPDATE SET
			 ema = excluded.ema, positive_evals = excluded.positive_evals,
			 negative_evals = excluded.negative_evals`,
			engramID, tag, next, positive, negative); err != nil {
			return store.EngramAfterUpdate{}, err
		}
	}

	var result store.EngramAfterUpdate
	result.ID = engramID
	var pinned, autoPinned int
	var prereqRaw sql.NullString
	if err := tx.QueryRowContext(ctx,
		`SELECT pinned, auto_pinned, prerequisites FROM engrams WHERE id = ?`, engramID,
	).Scan(&pinned, &autoPinned, &prereqRaw); err != nil {
		return store.EngramAfterUpdate{}, err
	}
	result.Pinned = pinned != 0
	result.AutoPinned = autoPinned != 0
	if prereqRaw.Valid && prereqRaw.String != "" {
		result.Prereqs = engram.ParsePrerequisites(prereqRaw.String)
	}

	if err := tx.Commit(); err != nil {
		return store.EngramAfterUpdate{}, err
	}
	return result, nil
}

// TagRelevanceForEngram returns every (engram, tag) EMA row, sorted by tag,
// for the auto-pin engine's average-EMA-across-participating-tags check.
func (s *Store) TagRelevanceForEngram(ctx context.Context, engramID int64) ([]store.TagRelevance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, ema, positive_evals, negative_evals FROM engram_tag_relevance
		 WHERE engram_id = ? ORDER BY tag`, engramID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TagRelevance
	for rows.Next() {
		var tr store.TagRelevance
		if err := rows.Scan(&tr.Tag, &tr.EMA, &tr.PositiveEvals, &tr.NegativeEvals); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, rows.Err()
}

// AuditForSession returns the session_audit row for sessionID, used by the
// extractor to enrich a freshly extracted lesson's prerequisites with the
// environment tags recorded when that session was shown engrams.
func (s *Store) AuditForSession(ctx context.Context, sessionID string) (store.SessionAudit, bool, error) {
	var a store.SessionAudit
	var repo, transcriptPath, createdAt sql.NullString
	var envTagsJSON, shownJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, repo, env_tags, shown_engram_ids, transcript_path,
		 status, retry_count, created_at FROM session_audit WHERE session_id = ?`, sessionID,
	).Scan(&a.SessionID, &repo, &envTagsJSON, &shownJSON, &transcriptPath, &a.Status, &a.RetryCount, &createdAt)
	if err == sql.ErrNoRows {
		return store.SessionAudit{}, false, nil
	}
	if err != nil {
		return store.SessionAudit{}, false, err
	}
	a.Repo = repo.String
	a.TranscriptPath = transcriptPath.String
	_ = json.Unmarshal([]byte(envTagsJSON), &a.EnvTags)
	_ = json.Unmarshal([]byte(shownJSON), &a.ShownEngramIDs)
	if t, perr := time.Parse(time.RFC3339, createdAt.String); perr == nil {
		a.CreatedAt = t
	}
	return a, true, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
