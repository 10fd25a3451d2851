package dedup

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxReasonChars is the maximum stored length of a group's reason string,
// ported from dedup.py's validate_dedup_response reason truncation.
const MaxReasonChars = 200

// Group is one validated duplicate group ready to merge.
type Group struct {
	IDs           []int64
	CanonicalText string
	Confidence    float64
	Reason        string
}

// ParsedResponse is the raw shape decoded from the LLM's JSON output, before
// schema/accounting validation.
type ParsedResponse struct {
	Groups     []Group
	NoMatchIDs []int64
}

type rawGroup struct {
	IDs           []json.Number `json:"ids"`
	CanonicalText string        `json:"canonical_text"`
	Confidence    json.Number   `json:"confidence"`
	Reason        string        `json:"reason"`
}

type rawResponse struct {
	Groups     []rawGroup    `json:"groups"`
	NoMatchIDs []json.Number `json:"no_match_ids"`
	Notes      []string      `json:"notes"`
}

// ParseResponse decodes the LLM's raw JSON output. It does not enforce
// accounting rules; call ValidateResponse against the batch that produced
// the prompt for that.
func ParseResponse(output string) (ParsedResponse, error) {
	dec := json.NewDecoder(strings.NewReader(output))
	dec.UseNumber()
	var raw rawResponse
	if err := dec.Decode(&raw); err != nil {
		return ParsedResponse{}, fmt.Errorf("dedup: decode response: %w", err)
	}

	out := ParsedResponse{NoMatchIDs: make([]int64, 0, len(raw.NoMatchIDs))}
	for _, n := range raw.NoMatchIDs {
		id, err := n.Int64()
		if err != nil {
			continue
		}
		out.NoMatchIDs = append(out.NoMatchIDs, id)
	}
	for _, g := range raw.Groups {
		ids := make([]int64, 0, len(g.IDs))
		for _, n := range g.IDs {
			id, err := n.Int64()
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		confidence := 0.0
		if g.Confidence != "" {
			if f, err := g.Confidence.Float64(); err == nil {
				confidence = f
			}
		}
		out.Groups = append(out.Groups, Group{
			IDs:           ids,
			CanonicalText: g.CanonicalText,
			Confidence:    confidence,
			Reason:        g.Reason,
		})
	}
	return out, nil
}

// ValidationError collects every schema/accounting violation found in one
// batch's response. Valid groups in the same response are still applied —
// ValidationError reports the rejected portion, it doesn't invalidate the
// whole batch.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dedup: %d response validation error(s): %s", len(e.Messages), strings.Join(e.Messages, "; "))
}

// ValidationResult is the outcome of checking a ParsedResponse's schema and
// id-accounting against the batch that produced it.
type ValidationResult struct {
	Groups         []Group
	Errors         []string
	UnaccountedIDs []int64
}

// Err returns a *ValidationError wrapping Errors, or nil if there were none.
func (r ValidationResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &ValidationError{Messages: r.Errors}
}

// ValidateResponse enforces validate_dedup_response's rules: every group has
// at least two members, every referenced id belongs to the batch, no id is
// claimed by more than one group or by both a group and no_match_ids,
// confidence is in [0,1], canonical_text is non-empty, reason is truncated
// to MaxReasonChars, and (incremental mode only) every group includes at
// least one unverified id while verified-only ids never appear in
// no_match_ids. Any batch id left unaccounted for — neither grouped nor in
// no_match_ids — is reported so the caller can retry or log it via
// RecordDedupError.
func ValidateResponse(resp ParsedResponse, batch Batch) ValidationResult {
	idSet := make(map[int64]bool, len(batch.Engrams))
	for _, p := range batch.Engrams {
		idSet[p.ID] = true
	}

	result := ValidationResult{}
	seen := make(map[int64]bool, len(batch.Engrams))

	for _, g := range resp.Groups {
		if ok, reason := validateGroup(g, batch, idSet, seen); ok {
			if len(g.Reason) > MaxReasonChars {
				g.Reason = g.Reason[:MaxReasonChars]
			}
			result.Groups = append(result.Groups, g)
			for _, id := range g.IDs {
				seen[id] = true
			}
		} else {
			result.Errors = append(result.Errors, reason)
		}
	}

	for _, id := range resp.NoMatchIDs {
		if !idSet[id] {
			result.Errors = append(result.Errors, fmt.Sprintf("no_match_ids contains unknown id %d", id))
			continue
		}
		if seen[id] {
			result.Errors = append(result.Errors, fmt.Sprintf("id %d appears in both a group and no_match_ids", id))
			continue
		}
		if batch.Mode == "incremental" && !batch.UnverifiedIDs[id] {
			result.Errors = append(result.Errors, fmt.Sprintf("verified-only id %d must not appear in no_match_ids", id))
			continue
		}
		seen[id] = true
	}

	for id := range idSet {
		if batch.Mode == "incremental" && !batch.UnverifiedIDs[id] {
			continue // verified-only ids need not be accounted for
		}
		if !seen[id] {
			result.UnaccountedIDs = append(result.UnaccountedIDs, id)
		}
	}

	return result
}

func validateGroup(g Group, batch Batch, idSet map[int64]bool, seen map[int64]bool) (bool, string) {
	if len(g.IDs) < 2 {
		return false, fmt.Sprintf("group %v has fewer than two members", g.IDs)
	}
	if g.CanonicalText == "" {
		return false, fmt.Sprintf("group %v has empty canonical_text", g.IDs)
	}
	if g.Confidence < 0 || g.Confidence > 1 {
		return false, fmt.Sprintf("group %v has out-of-range confidence %v", g.IDs, g.Confidence)
	}

	hasUnverified := false
	for _, id := range g.IDs {
		if !idSet[id] {
			return false, fmt.Sprintf("group references unknown id %d", id)
		}
		if seen[id] {
			return false, fmt.Sprintf("id %d claimed by more than one group", id)
		}
		if batch.UnverifiedIDs[id] {
			hasUnverified = true
		}
	}
	if batch.Mode == "incremental" && !hasUnverified {
		return false, fmt.Sprintf("group %v has no unverified member", g.IDs)
	}

	dup := map[int64]bool{}
	for _, id := range g.IDs {
		if dup[id] {
			return false, fmt.Sprintf("group %v repeats id %d", g.IDs, id)
		}
		dup[id] = true
	}

	return true, ""
}
