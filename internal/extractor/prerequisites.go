package extractor

import (
	"sort"
	"strings"

	"github.com/rocodesign/engrammar/pkg/engram"
)

// keywordPrerequisites maps a keyword found in lesson text or an LLM-reported
// project signal to the structural prerequisites it implies. Only structural
// prerequisites (mcp_servers, os, paths) belong here — tag prerequisites are
// handled dynamically by the tag relevance scoring system. Ported verbatim
// from original_source/src/extractor.py: KEYWORD_PREREQUISITES.
var keywordPrerequisites = map[string]engram.Prerequisites{
	"figma mcp":    {MCPServers: []string{"figma"}},
	"figma server": {MCPServers: []string{"figma"}},
}

// inferPrerequisites infers structural prerequisites from lesson text and
// optional LLM-reported project signals, merging every keyword match it
// finds. Ported from original_source/src/extractor.py: _infer_prerequisites.
func inferPrerequisites(text string, projectSignals []string) engram.Prerequisites {
	merged := engram.Prerequisites{}
	textLower := strings.ToLower(text)

	for keyword, prereqs := range keywordPrerequisites {
		if strings.Contains(textLower, keyword) {
			merged = mergePrerequisites(merged, prereqs)
		}
	}

	for _, signal := range projectSignals {
		signalLower := strings.ToLower(signal)
		for keyword, prereqs := range keywordPrerequisites {
			if strings.Contains(signalLower, keyword) || strings.Contains(keyword, signalLower) {
				merged = mergePrerequisites(merged, prereqs)
			}
		}
	}

	return merged
}

func mergePrerequisites(a, b engram.Prerequisites) engram.Prerequisites {
	a.OS = mergeSorted(a.OS, b.OS)
	a.Repos = mergeSorted(a.Repos, b.Repos)
	a.Paths = mergeSorted(a.Paths, b.Paths)
	a.MCPServers = mergeSorted(a.MCPServers, b.MCPServers)
	a.Tags = mergeSorted(a.Tags, b.Tags)
	return a
}

func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range append(append([]string{}, a...), b...) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
