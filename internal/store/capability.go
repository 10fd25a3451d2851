// Package store defines the persistence capability interfaces consumed by
// the retriever, auto-pin engine, dedup engine, and relevance evaluator.
// Each interface is deliberately narrow (Interface Segregation Principle):
// callers depend only on the slice of behaviour they need, which keeps unit
// tests for those packages free of a real database.
package store

import (
	"context"
	"time"

	"github.com/rocodesign/engrammar/pkg/engram"
)

// TagStat is one (engram, tag_set) match counter row.
type TagStat struct {
	TagSet       []string
	TimesMatched int
	LastMatched  *time.Time
}

// RepoStat is one (engram, repo) match counter row.
type RepoStat struct {
	Repo         string
	TimesMatched int
	LastMatched  *time.Time
}

// CategoryCount is one row of the category distribution report.
type CategoryCount struct {
	Level1 string
	Count  int
}

// SessionAudit records which engrams were shown during one session, for
// later relevance evaluation.
type SessionAudit struct {
	SessionID       string
	Repo            string
	EnvTags         []string
	ShownEngramIDs  []int64
	TranscriptPath  string
	Status          string // "pending" | "completed" | "failed"
	RetryCount      int
	CreatedAt       time.Time
}

// TagRelevance is one (engram, tag) EMA row.
type TagRelevance struct {
	Tag            string
	EMA            float64
	PositiveEvals  int
	NegativeEvals  int
}

// EngramStore is the core read/write surface over the engrams table and its
// satellite counters. The retriever, extractor, and CLI depend on this.
type EngramStore interface {
	Add(ctx context.Context, e *engram.Engram) (int64, error)
	Get(ctx context.Context, id int64) (*engram.Engram, error)
	ListActive(ctx context.Context) ([]*engram.Engram, error)
	ListByCategory(ctx context.Context, level1, level2, level3 string) ([]*engram.Engram, error)
	ListPinned(ctx context.Context) ([]*engram.Engram, error)
	Deprecate(ctx context.Context, id int64) error
	SetPinned(ctx context.Context, id int64, pinned bool, autoPinned bool, prereqs engram.Prerequisites) error
	SetPrerequisites(ctx context.Context, id int64, prereqs engram.Prerequisites) error
	AddCategory(ctx context.Context, id int64, categoryPath string) error
	RemoveCategory(ctx context.Context, id int64, categoryPath string) error
	Categories(ctx context.Context, id int64) ([]string, error)
	UpdateMatchStats(ctx context.Context, id int64, repo string, tags []string) error
	// RecordShown accrues (session, engram) shown-lesson log rows during a
	// live session. Idempotent per (sessionID, engramID) pair — a lesson
	// shown twice in one session is logged once. This is the live-session
	// bookkeeping half of the spec's two distinct operations; the
	// write-once audit row is WriteSessionAudit below.
	RecordShown(ctx context.Context, sessionID string, engramIDs []int64, hookEvent string) error
	// ShownEngramIDs returns every engram id accrued by RecordShown for
	// sessionID so far, for the session-end hook path to fold into the
	// audit row.
	ShownEngramIDs(ctx context.Context, sessionID string) ([]int64, error)
	// ClearShown deletes sessionID's shown-lesson log rows, called once the
	// session-end audit row has been written.
	ClearShown(ctx context.Context, sessionID string) error
	// WriteSessionAudit writes the write-once session_audit ledger row for
	// a completed session. A second call for the same SessionID is a no-op
	// (spec.md §8 invariant 9).
	WriteSessionAudit(ctx context.Context, audit SessionAudit) error
	IncrementOccurrence(ctx context.Context, id int64, newSessions []string) error
	FindSimilarEngram(ctx context.Context, text string) (*engram.Engram, error)
	CategoryStats(ctx context.Context) ([]CategoryCount, error)
	Count(ctx context.Context) (int, error)
	TagStatsForEngram(ctx context.Context, id int64) ([]TagStat, error)
	RepoStatsForEngram(ctx context.Context, id int64, repo string) (RepoStat, bool, error)
	Close() error
}

// DedupStore is the narrow surface the dedup engine needs.
type DedupStore interface {
	UnverifiedEngrams(ctx context.Context) ([]*engram.Engram, error)
	VerifiedEngrams(ctx context.Context) ([]*engram.Engram, error)
	MarkDedupVerified(ctx context.Context, ids []int64) error
	MergeEngramGroup(ctx context.Context, survivorID int64, mergedIDs []int64, canonicalText, runID, reason string, confidence float64) error
	RecordDedupError(ctx context.Context, id int64, message string) error
}

// RelevanceStore is the narrow surface the relevance evaluator and auto-pin
// engine need.
type RelevanceStore interface {
	UnprocessedAuditSessions(ctx context.Context, limit int) ([]SessionAudit, error)
	MarkSessionStatus(ctx context.Context, sessionID, status string) error
	UpdateTagRelevance(ctx context.Context, engramID int64, tagScores map[string]float64, weight float64) (EngramAfterUpdate, error)
	TagRelevanceForEngram(ctx context.Context, engramID int64) ([]TagRelevance, error)
	AuditForSession(ctx context.Context, sessionID string) (SessionAudit, bool, error)
}

// ExtractionStore is the narrow surface the extractor needs for its own
// processed-session tracking, separate from the relevance evaluator's
// session_audit bookkeeping.
type ExtractionStore interface {
	IsSessionProcessed(ctx context.Context, sessionID string) (bool, error)
	MarkSessionProcessed(ctx context.Context, sessionID string, hadFriction bool, lessonsExtracted int) error
}

// EngramAfterUpdate is the minimal post-update snapshot the auto-pin engine
// needs without issuing a second query.
type EngramAfterUpdate struct {
	ID         int64
	Pinned     bool
	AutoPinned bool
	Prereqs    engram.Prerequisites
}

// LegacyImporter migrates a prior flat-file export into the category tree.
type LegacyImporter interface {
	ImportLegacyState(ctx context.Context, path string) (int, error)
}
