// Package engram defines the core value types of the lesson-memory engine:
// the Engram itself, its prerequisite predicate, and the provenance/source
// enumeration. These types have no storage or retrieval behavior attached —
// that lives in internal/store, internal/retriever and friends — so that the
// capability interfaces in internal/store can depend on a stable, storage-
// agnostic shape.
package engram

import "time"

// Source records how an engram entered the store.
type Source string

const (
	SourceManual        Source = "manual"
	SourceAutoExtracted  Source = "auto-extracted"
	SourceFeedback       Source = "feedback"
)

// Prerequisites is the structured predicate gating whether an engram may be
// surfaced in a given environment. An empty Prerequisites matches any
// environment. Evaluation across keys is a strict AND (see Matches).
type Prerequisites struct {
	OS         []string `json:"os,omitempty"`
	Repos      []string `json:"repos,omitempty"`
	Paths      []string `json:"paths,omitempty"`
	MCPServers []string `json:"mcp_servers,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	AutoPinned bool     `json:"auto_pinned,omitempty"`
}

// IsEmpty reports whether no prerequisite keys constrain the environment.
func (p Prerequisites) IsEmpty() bool {
	return len(p.OS) == 0 && len(p.Repos) == 0 && len(p.Paths) == 0 &&
		len(p.MCPServers) == 0 && len(p.Tags) == 0
}

// Engram is the central entity of the system: one short, reusable lesson
// with provenance, prerequisites, and statistics.
type Engram struct {
	ID       int64
	Text     string
	Category string
	Level1   string
	Level2   string
	Level3   string
	// AdditionalCategories holds any extra category paths beyond the
	// primary Category, recorded in the engram_categories junction table.
	AdditionalCategories []string

	Source          Source
	SourceSessions  []string
	OccurrenceCount int

	Deprecated    bool
	Pinned        bool
	DedupVerified bool

	MergedInto      *int64
	MergeRunID      string
	MergeReason     string
	MergeConfidence float64
	DedupErrors     []string

	Prerequisites Prerequisites

	TimesMatched int
	LastMatched  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AllCategories returns the primary category followed by any additional
// category paths, the set used by category-prefix filtering: an engram
// matches a filter if its primary category or any additional category
// starts with the filter string.
func (e *Engram) AllCategories() []string {
	out := make([]string, 0, 1+len(e.AdditionalCategories))
	out = append(out, e.Category)
	out = append(out, e.AdditionalCategories...)
	return out
}
