package retriever

import "strings"

// wellKnownToolFields are the tool-input keys search_for_tool_context pulls
// string values from. Ported from original_source/src/search.py:
// search_for_tool_context.
var wellKnownToolFields = []string{"file_path", "path", "pattern", "command"}

// BuildToolQuery concatenates a tool name with the string values of its
// well-known input fields, plus (for Bash) the first token of the command,
// producing the query string fed to Search for the PreToolUse hook.
func BuildToolQuery(toolName string, toolInput map[string]any) string {
	parts := []string{toolName}

	for _, key := range wellKnownToolFields {
		val, ok := toolInput[key]
		if !ok {
			continue
		}
		if s, ok := val.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}

	if toolName == "Bash" {
		if cmd, ok := toolInput["command"].(string); ok {
			fields := strings.Fields(cmd)
			if len(fields) > 0 {
				parts = append(parts, fields[0])
			}
		}
	}

	return strings.Join(parts, " ")
}
