// Package evaluator runs the session-audit evaluation loop (component 4.F):
// for each unprocessed session_audit row, it resolves a transcript excerpt,
// asks an LLM to score each shown engram's relevance per environment tag,
// and folds the result into the engram_tag_relevance EMA table. Ported from
// original_source/src/evaluator.py's run_evaluation_for_session /
// run_pending_evaluations.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rocodesign/engrammar/internal/autopin"
	"github.com/rocodesign/engrammar/internal/llmclient"
	"github.com/rocodesign/engrammar/internal/store"
	"github.com/rocodesign/engrammar/internal/transcript"
	"github.com/rocodesign/engrammar/pkg/engram"
)

// prompt is the evaluation prompt template, ported verbatim (structure and
// wording) from original_source/src/evaluator.py:EVALUATION_PROMPT.
const prompt = `You are evaluating which engrams were relevant during a Claude Code session.

Each engram was shown to the assistant during the session. Based on the transcript,
determine how relevant each engram was to the actual work done, broken down by
environment tag.

Session info:
- Repository: %s
- Environment tags: %s

Engrams shown (ID and text):
%s

Session transcript excerpt:
%s

For each engram, output a JSON object with:
- "engram_id": the engram ID number
- "tag_scores": dict mapping each relevant env tag to a score from -1.0 to 1.0
  (-1.0 = actively wrong/misleading in this context, 0 = irrelevant, 1.0 = very helpful)
- "reason": optional brief explanation (only for negative scores)

Output ONLY a valid JSON array. No markdown fences, no explanation.

Example output:
[{"engram_id": 42, "tag_scores": {"typescript": 0.9, "frontend": 0.6}},
 {"engram_id": 17, "tag_scores": {"typescript": -0.5}, "reason": "wrong context"}]`

// Response is one per-engram evaluation returned by the LLM. It is a
// validated projection of the JSON array element, not a raw unmarshal
// target — ParseResponses rejects entries missing an engram_id.
type Response struct {
	EngramID  int64
	TagScores map[string]float64
	Reason    string
}

// Summary tallies one RunPending batch, mirroring run_pending_evaluations's
// returned dict.
type Summary struct {
	Completed int
	Failed    int
	Skipped   int
	Total     int
}

// engramTextSource is the narrow read surface the evaluator needs beyond
// RelevanceStore: looking up the text of each shown engram.
type engramTextSource interface {
	Get(ctx context.Context, id int64) (*engram.Engram, error)
}

// Evaluator runs the relevance-scoring loop against a store, an LLM client,
// and (optionally) the auto-pin engine.
type Evaluator struct {
	Store       store.RelevanceStore
	Engrams     engramTextSource
	Client      *llmclient.Client
	AutoPin     *autopin.Engine
	ProjectsDir string
}

// RunPending processes up to limit unprocessed sessions.
func (e *Evaluator) RunPending(ctx context.Context, limit int) (Summary, error) {
	sessions, err := e.Store.UnprocessedAuditSessions(ctx, limit)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Total: len(sessions)}
	for _, audit := range sessions {
		ok, err := e.runForAudit(ctx, audit)
		if err != nil {
			return summary, err
		}
		if ok {
			summary.Completed++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}

func (e *Evaluator) runForAudit(ctx context.Context, audit store.SessionAudit) (bool, error) {
	if len(audit.ShownEngramIDs) == 0 {
		return true, e.Store.MarkSessionStatus(ctx, audit.SessionID, "completed")
	}

	type shown struct {
		ID   int64
		Text string
	}
	var texts []shown
	for _, id := range audit.ShownEngramIDs {
		eng, err := e.Engrams.Get(ctx, id)
		if err != nil {
			continue // deleted since being shown
		}
		texts = append(texts, shown{ID: eng.ID, Text: eng.Text})
	}
	if len(texts) == 0 {
		return true, e.Store.MarkSessionStatus(ctx, audit.SessionID, "completed")
	}

	excerpt := transcript.Resolve(audit.TranscriptPath, audit.SessionID, e.ProjectsDir)

	var engramsBlock strings.Builder
	for _, s := range texts {
		fmt.Fprintf(&engramsBlock, "- ID %d: %s\n", s.ID, s.Text)
	}

	envTagsJSON, _ := json.Marshal(audit.EnvTags)
	repo := audit.Repo
	if repo == "" {
		repo = "unknown"
	}
	transcriptText := excerpt
	if transcriptText == "" {
		transcriptText = "(transcript not available)"
	}

	fullPrompt := fmt.Sprintf(prompt, repo, string(envTagsJSON), strings.TrimRight(engramsBlock.String(), "\n"), transcriptText)

	out, err := e.Client.Complete(ctx, fullPrompt)
	if err != nil {
		return false, e.Store.MarkSessionStatus(ctx, audit.SessionID, "failed")
	}

	responses, err := ParseResponses(out)
	if err != nil || len(responses) == 0 {
		return false, e.Store.MarkSessionStatus(ctx, audit.SessionID, "failed")
	}

	for _, r := range responses {
		if len(r.TagScores) == 0 {
			continue
		}
		after, err := e.Store.UpdateTagRelevance(ctx, r.EngramID, r.TagScores, 1.0)
		if err != nil {
			return false, err
		}
		if e.AutoPin != nil {
			if err := e.AutoPin.AfterRelevanceUpdate(ctx, after); err != nil {
				return false, err
			}
		}
	}

	return true, e.Store.MarkSessionStatus(ctx, audit.SessionID, "completed")
}

// rawResponse is the wire shape of one array element before validation;
// engram_id may arrive as a JSON number or numeric string depending on the
// model's formatting, so it's decoded permissively then re-validated.
type rawResponse struct {
	EngramID  json.Number        `json:"engram_id"`
	TagScores map[string]float64 `json:"tag_scores"`
	Reason    string             `json:"reason"`
}

// ParseResponses decodes and validates the LLM's JSON array output,
// dropping (not failing on) any entry missing a usable engram_id — matching
// the original's permissive `ev.get("engram_id")` pattern, which silently
// skips malformed entries rather than aborting the whole batch.
func ParseResponses(output string) ([]Response, error) {
	dec := json.NewDecoder(strings.NewReader(output))
	dec.UseNumber()

	var raw []rawResponse
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	out := make([]Response, 0, len(raw))
	for _, r := range raw {
		id, err := strconv.ParseInt(r.EngramID.String(), 10, 64)
		if err != nil || id == 0 {
			continue
		}
		out = append(out, Response{EngramID: id, TagScores: r.TagScores, Reason: r.Reason})
	}
	return out, nil
}
