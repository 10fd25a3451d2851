package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rocodesign/engrammar/internal/store"
	"github.com/rocodesign/engrammar/pkg/engram"
)

// Add inserts a new engram and its primary (plus any additional) category
// paths. Ported from original_source/src/db.py: add_lesson + _ensure_category.
func (s *Store) Add(ctx context.Context, e *engram.Engram) (int64, error) {
	if e == nil || strings.TrimSpace(e.Text) == "" {
		return 0, fmt.Errorf("%w: engram text is required", store.ErrInvalidInput)
	}

	category := e.Category
	if category == "" {
		category = "general"
	}
	level1, level2, level3 := engram.ParseCategoryLevels(category)

	now := time.Now().UTC().Format(time.RFC3339)
	sessionsJSON, err := json.Marshal(e.SourceSessions)
	if err != nil {
		return 0, err
	}

	occurrence := e.OccurrenceCount
	if occurrence == 0 {
		occurrence = 1
	}
	source := e.Source
	if source == "" {
		source = engram.SourceManual
	}

	prereqJSON, err := nullablePrereqJSON(e.Prerequisites)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO engrams (text, category, level1, level2, level3, source,
		 source_sessions, occurrence_count, created_at, updated_at, prerequisites, pinned)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Text, category, level1, level2, level3, string(source),
		string(sessionsJSON), occurrence, now, now, prereqJSON, boolToInt(e.Pinned),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err := ensureCategory(ctx, tx, category); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO engram_categories (engram_id, category_path) VALUES (?, ?)`,
		id, category); err != nil {
		return 0, err
	}

	for _, cat := range e.AdditionalCategories {
		if err := ensureCategory(ctx, tx, cat); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO engram_categories (engram_id, category_path) VALUES (?, ?)`,
			id, cat); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func ensureCategory(ctx context.Context, tx *sql.Tx, category string) error {
	parts := strings.Split(strings.Trim(category, "/"), "/")
	for i := range parts {
		path := strings.Join(parts[:i+1], "/")
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO categories (path) VALUES (?)`, path); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a single engram by id.
func (s *Store) Get(ctx context.Context, id int64) (*engram.Engram, error) {
	row := s.db.QueryRowContext(ctx, engramSelectColumns+` FROM engrams WHERE id = ?`, id)
	e, err := scanEngram(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return e, err
}

// ListActive returns every non-deprecated engram, ordered by id.
func (s *Store) ListActive(ctx context.Context) ([]*engram.Engram, error) {
	rows, err := s.db.QueryContext(ctx, engramSelectColumns+` FROM engrams WHERE deprecated = 0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEngrams(rows)
}

// ListByCategory filters active engrams by category levels. Empty level2/3
// are treated as "not a filter", matching original's optional-level
// semantics in get_lessons_by_category.
func (s *Store) ListByCategory(ctx context.Context, level1, level2, level3 string) ([]*engram.Engram, error) {
	query := engramSelectColumns + ` FROM engrams WHERE deprecated = 0 AND level1 = ?`
	args := []any{level1}
	if level2 != "" {
		query += " AND level2 = ?"
		args = append(args, level2)
	}
	if level3 != "" {
		query += " AND level3 = ?"
		args = append(args, level3)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEngrams(rows)
}

// ListPinned returns every active, pinned engram.
func (s *Store) ListPinned(ctx context.Context) ([]*engram.Engram, error) {
	rows, err := s.db.QueryContext(ctx,
		engramSelectColumns+` FROM engrams WHERE deprecated = 0 AND pinned = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEngrams(rows)
}

// Deprecate soft-deletes an engram.
func (s *Store) Deprecate(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`UPDATE engrams SET deprecated = 1, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// SetPinned toggles pin state and, when pinning, persists the prerequisites
// that justify the pin (manual pins may pass an empty Prerequisites).
func (s *Store) SetPinned(ctx context.Context, id int64, pinned bool, autoPinned bool, prereqs engram.Prerequisites) error {
	now := time.Now().UTC().Format(time.RFC3339)
	prereqJSON, err := nullablePrereqJSON(prereqs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE engrams SET pinned = ?, auto_pinned = ?, prerequisites = ?, updated_at = ? WHERE id = ?`,
		boolToInt(pinned), boolToInt(autoPinned), prereqJSON, now, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// SetPrerequisites overwrites an engram's prerequisite predicate without
// touching its pinned/auto-pinned state, used by the extractor to backfill
// prerequisites onto an existing engram a freshly extracted lesson merged
// into.
func (s *Store) SetPrerequisites(ctx context.Context, id int64, prereqs engram.Prerequisites) error {
	now := time.Now().UTC().Format(time.RFC3339)
	prereqJSON, err := nullablePrereqJSON(prereqs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE engrams SET prerequisites = ?, updated_at = ? WHERE id = ?`,
		prereqJSON, now, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// AddCategory attaches an additional category path to an existing engram.
func (s *Store) AddCategory(ctx context.Context, id int64, categoryPath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := ensureCategory(ctx, tx, categoryPath); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO engram_categories (engram_id, category_path) VALUES (?, ?)`,
		id, categoryPath); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveCategory detaches a category path from an engram.
func (s *Store) RemoveCategory(ctx context.Context, id int64, categoryPath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM engram_categories WHERE engram_id = ? AND category_path = ?`, id, categoryPath)
	return err
}

// Categories returns every category path attached to an engram.
func (s *Store) Categories(ctx context.Context, id int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category_path FROM engram_categories WHERE engram_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// IncrementOccurrence merges new source sessions into an engram and bumps
// its occurrence count to the resulting session count. Ported from
// increment_lesson_occurrence.
func (s *Store) IncrementOccurrence(ctx context.Context, id int64, newSessions []string) error {
	var sessionsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT source_sessions FROM engrams WHERE id = ?`, id).Scan(&sessionsJSON)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}

	var existing []string
	if sessionsJSON != "" {
		if err := json.Unmarshal([]byte(sessionsJSON), &existing); err != nil {
			existing = nil
		}
	}
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range newSessions {
		if !seen[s] {
			existing = append(existing, s)
			seen[s] = true
		}
	}

	merged, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx,
		`UPDATE engrams SET source_sessions = ?, occurrence_count = ?, updated_at = ? WHERE id = ?`,
		string(merged), len(existing), now, id)
	return err
}

// FindSimilarEngram returns an active engram whose text shares more than
// half of its (smaller) word set with text, or nil if none qualifies.
// Ported from original_source/src/db.py: find_similar_lesson.
func (s *Store) FindSimilarEngram(ctx context.Context, text string) (*engram.Engram, error) {
	words := wordSet(text)
	if len(words) == 0 {
		return nil, nil
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range active {
		otherWords := wordSet(e.Text)
		if len(otherWords) == 0 {
			continue
		}
		overlap := 0
		for w := range words {
			if otherWords[w] {
				overlap++
			}
		}
		smaller := len(words)
		if len(otherWords) < smaller {
			smaller = len(otherWords)
		}
		if smaller > 0 && float64(overlap)/float64(smaller) > 0.5 {
			return e, nil
		}
	}
	return nil, nil
}

// CategoryStats returns engram counts grouped by top-level category,
// descending by count.
func (s *Store) CategoryStats(ctx context.Context) ([]store.CategoryCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT level1, COUNT(*) AS count FROM engrams WHERE deprecated = 0
		 GROUP BY level1 ORDER BY count DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.CategoryCount
	for rows.Next() {
		var cc store.CategoryCount
		var level1 sql.NullString
		if err := rows.Scan(&level1, &cc.Count); err != nil {
			return nil, err
		}
		cc.Level1 = level1.String
		out = append(out, cc)
	}
	return out, rows.Err()
}

// Count returns the number of active (non-deprecated) engrams.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM engrams WHERE deprecated = 0`).Scan(&n)
	return n, err
}

func wordSet(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		out[w] = true
	}
	return out
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullablePrereqJSON(p engram.Prerequisites) (any, error) {
	if p.IsEmpty() {
		return nil, nil
	}
	j, err := p.Serialize()
	if err != nil {
		return nil, err
	}
	return j, nil
}

const engramSelectColumns = `SELECT id, text, category, level1, level2, level3, source,
	source_sessions, occurrence_count, times_matched, last_matched, created_at,
	updated_at, deprecated, prerequisites, pinned, auto_pinned, dedup_verified,
	merged_into, merge_run_id, merge_reason, merge_confidence, dedup_errors`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEngram(row rowScanner) (*engram.Engram, error) {
	var e engram.Engram
	var level1, level2, level3, lastMatched, createdAt, updatedAt, prereqRaw sql.NullString
	var sessionsJSON, dedupErrorsJSON string
	var source string
	var deprecated, pinned, autoPinned, dedupVerified int
	var mergedInto sql.NullInt64
	var mergeRunID, mergeReason sql.NullString
	var mergeConfidence sql.NullFloat64

	if err := row.Scan(&e.ID, &e.Text, &e.Category, &level1, &level2, &level3, &source,
		&sessionsJSON, &e.OccurrenceCount, &e.TimesMatched, &lastMatched, &createdAt,
		&updatedAt, &deprecated, &prereqRaw, &pinned, &autoPinned, &dedupVerified,
		&mergedInto, &mergeRunID, &mergeReason, &mergeConfidence, &dedupErrorsJSON,
	); err != nil {
		return nil, err
	}

	e.Level1, e.Level2, e.Level3 = level1.String, level2.String, level3.String
	e.Source = engram.Source(source)
	e.Deprecated = deprecated != 0
	e.Pinned = pinned != 0
	e.DedupVerified = dedupVerified != 0
	_ = autoPinned // exposed via Prerequisites.AutoPinned below

	if sessionsJSON != "" {
		_ = json.Unmarshal([]byte(sessionsJSON), &e.SourceSessions)
	}
	if dedupErrorsJSON != "" {
		_ = json.Unmarshal([]byte(dedupErrorsJSON), &e.DedupErrors)
	}
	if prereqRaw.Valid && prereqRaw.String != "" {
		e.Prerequisites = engram.ParsePrerequisites(prereqRaw.String)
	}
	e.Prerequisites.AutoPinned = autoPinned != 0

	if mergedInto.Valid {
		id := mergedInto.Int64
		e.MergedInto = &id
	}
	e.MergeRunID = mergeRunID.String
	e.MergeReason = mergeReason.String
	e.MergeConfidence = mergeConfidence.Float64

	if t, err := time.Parse(time.RFC3339, createdAt.String); err == nil {
		e.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt.String); err == nil {
		e.UpdatedAt = t
	}
	if lastMatched.Valid && lastMatched.String != "" {
		if t, err := time.Parse(time.RFC3339, lastMatched.String); err == nil {
			e.LastMatched = &t
		}
	}

	return &e, nil
}

func scanEngrams(rows *sql.Rows) ([]*engram.Engram, error) {
	var out []*engram.Engram
	for rows.Next() {
		e, err := scanEngram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
