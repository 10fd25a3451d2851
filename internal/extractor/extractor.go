// Package extractor turns Claude Code session transcripts and session
// facets into engrams: it asks the external LLM to surface concrete,
// reusable lessons, folds near-duplicates into existing engrams, and marks
// the source session processed so it is never analyzed twice. Ported from
// original_source/src/extractor.py's extract_from_transcripts/
// extract_from_sessions, unified behind one per-session entry point.
package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rocodesign/engrammar/internal/llmclient"
	"github.com/rocodesign/engrammar/internal/store"
	"github.com/rocodesign/engrammar/internal/transcript"
	"github.com/rocodesign/engrammar/internal/vectorindex"
	"github.com/rocodesign/engrammar/pkg/engram"
)

// transcriptMaxChars matches extractor.py's _read_transcript_messages
// default of max_chars=8000 — deliberately larger than
// internal/transcript.DefaultMaxChars (4000), which is the relevance
// evaluator's budget for a much shorter recap prompt.
const transcriptMaxChars = 8000

// minTranscriptChars matches extract_from_transcripts's "too short to be
// worth analyzing" skip threshold.
const minTranscriptChars = 100

// maxLessonsPerBatch bounds how many session facets one facet-extraction
// call should cover, matching extractor.py: MAX_LESSONS_PER_BATCH.
const maxLessonsPerBatch = 30

// Kind distinguishes the two shapes of input Extract accepts.
type Kind string

const (
	// KindTranscript extracts from a single raw conversation transcript.
	KindTranscript Kind = "transcript"
	// KindFacet extracts from one or more session usage-data facets.
	KindFacet Kind = "facet"
)

// SessionFacet mirrors one ~/.claude/usage-data/facets/*.json record.
type SessionFacet struct {
	SessionID      string
	BriefSummary   string
	FrictionDetail string
	FrictionCounts map[string]int
	Outcome        string
}

// TranscriptSource is the unit of work handed to Extract: either a single
// transcript file, or a batch of session facets that Extract splits into
// chunks of maxLessonsPerBatch, one extraction prompt per chunk.
type TranscriptSource struct {
	Kind Kind

	// TranscriptPath is read via internal/transcript.ReadFile when Kind is
	// KindTranscript.
	TranscriptPath string

	// Facets carries the batch of session facets to format into one prompt
	// when Kind is KindFacet.
	Facets []SessionFacet
}

// ExtractedLesson describes the effect extracting one LLM-reported lesson
// had on the store: either a new engram was added, or an existing
// near-duplicate absorbed it.
type ExtractedLesson struct {
	EngramID int64
	Text     string
	Category string
	Merged   bool
}

// Extractor runs extraction passes over transcripts or facets.
type Extractor struct {
	Store    store.EngramStore
	Audits   store.RelevanceStore
	Sessions store.ExtractionStore
	Index    *vectorindex.Index
	Client   *llmclient.Client
}

// Extract reads sessionID's transcript or facet batch, asks the LLM for
// lessons, folds each into the store (near-duplicate merge or fresh
// insert), and marks every covered session processed. Ported from
// original_source/src/extractor.py's extract_from_transcripts (KindTranscript)
// and extract_from_sessions (KindFacet).
func (x *Extractor) Extract(ctx context.Context, sessionID string, source TranscriptSource) ([]ExtractedLesson, error) {
	switch source.Kind {
	case KindTranscript:
		return x.extractTranscript(ctx, sessionID, source.TranscriptPath)
	case KindFacet:
		return x.extractFacets(ctx, source.Facets)
	default:
		return nil, fmt.Errorf("extractor: unknown source kind %q", source.Kind)
	}
}

func (x *Extractor) extractTranscript(ctx context.Context, sessionID, path string) ([]ExtractedLesson, error) {
	text := transcript.ReadFile(path, transcriptMaxChars)
	if len(text) < minTranscriptChars {
		_ = x.Sessions.MarkSessionProcessed(ctx, sessionID, false, 0)
		return nil, nil
	}

	prompt := strings.NewReplacer(
		"{{transcript}}", text,
		"{{session_id}}", sessionID,
	).Replace(transcriptExtractionPrompt)

	output, err := x.Client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("extractor: llm call failed: %w", err)
	}

	items, err := parseLessons(output)
	if err != nil {
		return nil, err
	}

	results, added, err := x.applyLessons(ctx, items, []string{sessionID})
	if err != nil {
		return results, err
	}

	hadFriction := len(items) > 0
	lessonsExtracted := 0
	if hadFriction {
		lessonsExtracted = len(results)
	}
	if err := x.Sessions.MarkSessionProcessed(ctx, sessionID, hadFriction, lessonsExtracted); err != nil {
		return results, err
	}

	if added > 0 {
		if err := x.rebuildIndex(ctx); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (x *Extractor) extractFacets(ctx context.Context, facets []SessionFacet) ([]ExtractedLesson, error) {
	if len(facets) == 0 {
		return nil, nil
	}

	var all []ExtractedLesson
	totalAdded := 0
	for i := 0; i < len(facets); i += maxLessonsPerBatch {
		end := i + maxLessonsPerBatch
		if end > len(facets) {
			end = len(facets)
		}
		batch := facets[i:end]

		friction := filterFriction(batch)
		if len(friction) == 0 {
			if err := markFacetsProcessed(ctx, x.Sessions, batch, nil); err != nil {
				return all, err
			}
			continue
		}

		prompt := strings.NewReplacer("{{sessions}}", formatFacetsForPrompt(friction)).Replace(facetExtractionPrompt)
		output, err := x.Client.Complete(ctx, prompt)
		if err != nil {
			return all, fmt.Errorf("extractor: llm call failed: %w", err)
		}

		items, err := parseLessons(output)
		if err != nil {
			return all, err
		}

		sourceIDs := make([]string, len(friction))
		for j, f := range friction {
			sourceIDs[j] = f.SessionID
		}
		results, added, err := x.applyLessons(ctx, items, sourceIDs)
		if err != nil {
			return all, err
		}
		all = append(all, results...)
		totalAdded += added

		extractedBySession := make(map[string]int, len(friction))
		for _, item := range items {
			for _, sid := range item.SourceSessions {
				extractedBySession[sid]++
			}
		}
		if err := markFacetsProcessed(ctx, x.Sessions, batch, extractedBySession); err != nil {
			return all, err
		}
	}

	if totalAdded > 0 {
		if err := x.rebuildIndex(ctx); err != nil {
			return all, err
		}
	}
	return all, nil
}

// applyLessons folds each LLM-reported lesson into the store: a near
// duplicate (store.FindSimilarEngram) absorbs it via IncrementOccurrence and
// an optional prerequisite backfill; otherwise a fresh engram is added.
// Returns the applied lessons and a count of freshly inserted (non-merged)
// engrams, so callers know whether the index needs rebuilding.
func (x *Extractor) applyLessons(ctx context.Context, items []lessonItem, defaultSourceSessions []string) ([]ExtractedLesson, int, error) {
	var results []ExtractedLesson
	added := 0

	for _, item := range items {
		text := strings.TrimSpace(item.Lesson)
		if text == "" {
			continue
		}

		sourceSessions := item.SourceSessions
		if len(sourceSessions) == 0 {
			sourceSessions = defaultSourceSessions
		}

		prereqs := inferPrerequisites(text, item.ProjectSignals)

		existing, err := x.Store.FindSimilarEngram(ctx, text)
		if err != nil {
			return results, added, fmt.Errorf("extractor: find similar engram: %w", err)
		}
		if existing != nil {
			if err := x.Store.IncrementOccurrence(ctx, existing.ID, sourceSessions); err != nil {
				return results, added, fmt.Errorf("extractor: increment occurrence: %w", err)
			}
			if err := x.backfillPrerequisites(ctx, existing, prereqs, sourceSessions); err != nil {
				return results, added, err
			}
			results = append(results, ExtractedLesson{EngramID: existing.ID, Text: text, Category: existing.Category, Merged: true})
			continue
		}

		category := engram.CategoryForTopic(item.Topic)
		occurrence := len(sourceSessions)
		if occurrence == 0 {
			occurrence = 1
		}
		id, err := x.Store.Add(ctx, &engram.Engram{
			Text:            text,
			Category:        category,
			Source:          engram.SourceAutoExtracted,
			SourceSessions:  sourceSessions,
			OccurrenceCount: occurrence,
			Prerequisites:   prereqs,
		})
		if err != nil {
			return results, added, fmt.Errorf("extractor: add engram: %w", err)
		}
		added++
		results = append(results, ExtractedLesson{EngramID: id, Text: text, Category: category})
	}

	return results, added, nil
}

// backfillPrerequisites sets an existing engram's prerequisites only when
// it currently has none, preferring the freshly inferred prerequisites and
// falling back to the originating session's recorded environment tags.
// Ported from original_source/src/extractor.py: _maybe_backfill_prerequisites,
// enriched to also backfill prerequisites from session-audit tags.
func (x *Extractor) backfillPrerequisites(ctx context.Context, existing *engram.Engram, inferred engram.Prerequisites, sourceSessions []string) error {
	if !existing.Prerequisites.IsEmpty() {
		return nil
	}

	prereqs := inferred
	if prereqs.IsEmpty() && x.Audits != nil {
		for _, sid := range sourceSessions {
			audit, ok, err := x.Audits.AuditForSession(ctx, sid)
			if err != nil {
				return fmt.Errorf("extractor: audit lookup: %w", err)
			}
			if ok && len(audit.EnvTags) > 0 {
				prereqs.Tags = audit.EnvTags
				break
			}
		}
	}
	if prereqs.IsEmpty() {
		return nil
	}

	return x.Store.SetPrerequisites(ctx, existing.ID, prereqs)
}

func (x *Extractor) rebuildIndex(ctx context.Context) error {
	if x.Index == nil {
		return nil
	}
	active, err := x.Store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("extractor: list active for rebuild: %w", err)
	}
	items := make([]vectorindex.EmbeddingInput, len(active))
	for i, e := range active {
		items[i] = vectorindex.EmbeddingInput{ID: e.ID, Text: e.Text}
	}
	return x.Index.Build(items)
}

func filterFriction(facets []SessionFacet) []SessionFacet {
	var out []SessionFacet
	for _, f := range facets {
		if f.FrictionDetail != "" {
			out = append(out, f)
		}
	}
	return out
}

func formatFacetsForPrompt(facets []SessionFacet) string {
	parts := make([]string, 0, len(facets))
	for _, f := range facets {
		id := f.SessionID
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, fmt.Sprintf(
			"Session %s:\n  Summary: %s\n  Friction: %s\n  Outcome: %s",
			id, orNA(f.BriefSummary), orNA(f.FrictionDetail), orNA(f.Outcome)))
	}
	return strings.Join(parts, "\n\n")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func markFacetsProcessed(ctx context.Context, sessions store.ExtractionStore, facets []SessionFacet, extractedBySession map[string]int) error {
	for _, f := range facets {
		hadFriction := f.FrictionDetail != ""
		lessons := 0
		if extractedBySession != nil {
			lessons = extractedBySession[f.SessionID]
		} else if hadFriction {
			lessons = 1
		}
		if err := sessions.MarkSessionProcessed(ctx, f.SessionID, hadFriction, lessons); err != nil {
			return fmt.Errorf("extractor: mark session processed: %w", err)
		}
	}
	return nil
}
