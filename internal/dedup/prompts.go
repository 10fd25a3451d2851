package dedup

// systemPrompt is DEDUP_SYSTEM_PROMPT ported verbatim from
// original_source/src/dedup.py.
const systemPrompt = `You are deduplicating "engrams" — short actionable lessons extracted from coding sessions.

Your job:
1) Identify true duplicate groups.
2) Propose one canonical text per duplicate group.
3) Report unmatched IDs according to mode-specific accounting rules.

High precision is required. If uncertain, do NOT merge.

Merge only when ALL are true:
- Same core action/recommendation
- Same expected outcome or rationale
- Context constraints are compatible (same or overlapping domains)

Do NOT merge when ANY are true:
- They are topically related but prescribe different actions
- One is broader/umbrella guidance and another is a specific sub-rule
- Details conflict (commands, flags, file paths, versions, APIs)

IMPORTANT: If two engrams express the same lesson but were learned in different
project contexts (e.g., one from "toptal" and one from "engrammar"), MERGE them
and GENERALIZE the canonical text to be context-independent. The tag/prerequisite
system handles context filtering separately — your job is to produce the best
universal phrasing of the lesson.

Canonical text rules:
- 1-2 sentences, concrete and actionable
- Generalize across contexts when the core lesson is the same
- Preserve important specifics from source items (commands, flags, paths, code spans)
  but drop project-specific details that don't affect the lesson
- Do not invent new facts not present in the input
- Keep wording concise and implementation-neutral

Output must be strict JSON matching the required schema. No markdown fences.
If uncertain, return fewer groups and place IDs in no_match_ids.`

const incrementalModeSnippet = `You are in INCREMENTAL mode.

Input contains:
- UNVERIFIED engrams that must be decided this pass
- VERIFIED candidate engrams that may be merge targets/bridges

Decision rules:
1) For each unverified engram, decide if it duplicates any verified candidate.
2) If a verified candidate bridges multiple unverified engrams, you may form one multi-ID group.
3) Every unverified ID must appear exactly once: either in one group or in no_match_ids.
4) Verified-only IDs must not appear in no_match_ids.
5) Every group must include at least one unverified ID.`

const bootstrapModeSnippet = `You are in BOOTSTRAP mode.

Input may contain only unverified engrams (or mostly unverified).
There is no stable verified pool yet.

Decision rules:
1) Use candidate_edges to reason globally and form duplicate groups.
2) Every input ID must appear exactly once: either in one group or in no_match_ids.
3) Groups may be formed from any IDs in the batch (no verified/unverified restriction).`

// BootstrapVerifiedThreshold is BOOTSTRAP_VERIFIED_THRESHOLD: below this
// verified-pool size, dedup runs in bootstrap mode.
const BootstrapVerifiedThreshold = 3

const responseSchemaHint = `Return strict JSON with this schema:
{
  "groups": [
    {
      "ids": [int, ...],
      "canonical_text": "string",
      "confidence": float,
      "reason": "string (max 160 chars)"
    }
  ],
  "no_match_ids": [int, ...],
  "notes": []
}`
