package extractor

// transcriptExtractionPrompt asks the LLM to extract lessons from a single
// conversation transcript. Ported verbatim (format verbs translated from
// Python %-style to Go's strings.NewReplacer placeholders) from
// original_source/src/extractor.py: TRANSCRIPT_EXTRACTION_PROMPT.
const transcriptExtractionPrompt = `You are analyzing a Claude Code conversation transcript to extract SPECIFIC, ACTIONABLE lessons.

Look for these signals in the conversation:
- **User corrections**: The user steered the assistant away from an approach, tool, or pattern. Capture what was wrong AND the preferred alternative.
- **Significant effort**: The assistant spent multiple turns debugging, investigating, or iterating. Capture the root cause and fix so future sessions skip the struggle.
- **Discovered conventions**: A project-specific pattern, naming convention, architecture rule, or workflow preference was established. Capture it as a reusable rule.
- **Environment/tooling quirks**: A tool, API, or library behaved unexpectedly. Capture the gotcha and workaround.

DO NOT produce generic advice like "investigate methodically" or "ask for clarification."
DO produce concrete, reusable knowledge like:
- "Use mcp__plugin_playwright_playwright__browser_navigate to open URLs in the browser, not Bash commands"
- "Branch naming convention: taps-NUMBER (lowercase), not TEAM-NUMBER or feature/taps-NUMBER"
- "PR descriptions: max 50 words, no co-authored-by lines, no file-by-file changelog"

Each lesson should be something that saves time if known in advance.

Session transcript:
{{transcript}}

Output a JSON array of objects, each with:
- "topic": short category (e.g. "browser-testing", "git-workflow", "styling", "project-structure", "tool-usage", "pr-creation")
- "lesson": the specific, concrete lesson (1-2 sentences max)
- "source_sessions": ["{{session_id}}"]
- "scope": "general" if the lesson applies broadly, or "project-specific" if it only applies to a particular project/tool
- "project_signals": list of project/tool names when scope is "project-specific". Empty list when scope is "general".

If no lessons are worth extracting, output an empty array: []

Output ONLY valid JSON, no markdown fences, no explanation.`

// facetExtractionPrompt asks the LLM to extract lessons from a batch of
// session facet summaries. Ported verbatim from
// original_source/src/extractor.py: EXTRACTION_PROMPT.
const facetExtractionPrompt = `You are analyzing Claude Code session data to extract SPECIFIC, ACTIONABLE lessons.

DO NOT produce generic advice like "investigate methodically" or "ask for clarification."
DO produce concrete, reusable knowledge like:
- "Use mcp__plugin_playwright_playwright__browser_navigate to open URLs in the browser, not Bash commands"
- "Figma MCP server must be connected before starting UI implementation — test with a simple figma tool call first"
- "Branch naming convention: taps-NUMBER (lowercase), not TEAM-NUMBER or feature/taps-NUMBER"
- "Never use inline styles in this codebase — use CSS classes or Tailwind component props"
- "PR descriptions: max 50 words, no co-authored-by lines, no file-by-file changelog"

Each lesson should be something that saves time if known in advance. Think: "what specific thing did Claude waste time on that could be avoided with this one piece of knowledge?"

Here are the session summaries and friction details:

{{sessions}}

Output a JSON array of objects, each with:
- "topic": short category (e.g. "browser-testing", "figma", "git-workflow", "styling", "project-structure", "tool-usage", "pr-creation")
- "lesson": the specific, concrete lesson (1-2 sentences max)
- "source_sessions": list of session IDs this was derived from
- "scope": "general" if the lesson applies to any project, or "project-specific" if it only applies to a particular project/tool/framework
- "project_signals": list of project/tool names when scope is "project-specific" (e.g. ["Acme", "TEAM", "Tailwind", "Figma MCP", "Playwright"]). Empty list when scope is "general".

Output ONLY valid JSON, no markdown fences, no explanation.`
