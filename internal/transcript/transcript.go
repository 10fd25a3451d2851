// Package transcript resolves the excerpt of a Claude Code session
// transcript used by the relevance evaluator's prompt. Ported from
// original_source/src/evaluator.py's _read_transcript_file and
// _find_transcript_excerpt.
package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultMaxChars matches the original's max_chars=4000 default.
const DefaultMaxChars = 4000

// maxLineContentChars truncates each message's content before joining,
// matching `content[:500]` in the original.
const maxLineContentChars = 500

// maxScanFiles bounds the fallback glob-and-scan search, matching the
// original's `all_jsonls[:20]`.
const maxScanFiles = 20

type transcriptEntry struct {
	Type    string `json:"type"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Resolve returns the transcript excerpt for a session, preferring a known
// file path (storedPath, from the session_audit row) and falling back to a
// glob/scan search under projectsDir (typically ~/.claude/projects).
func Resolve(storedPath, sessionID, projectsDir string) string {
	if storedPath != "" {
		if info, err := os.Stat(storedPath); err == nil && !info.IsDir() {
			if excerpt := ReadFile(storedPath, DefaultMaxChars); excerpt != "" {
				return excerpt
			}
		}
	}
	return FindExcerpt(sessionID, projectsDir, DefaultMaxChars)
}

// ReadFile extracts the tail excerpt of a single transcript JSONL file.
func ReadFile(path string, maxChars int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	return extractTail(f, maxChars)
}

// FindExcerpt searches projectsDir for a JSONL transcript for sessionID:
// first an exact "<projectsDir>/*/<sessionID>.jsonl" filename match, then —
// if none found — the maxScanFiles most recently modified JSONL files,
// checked for sessionID appearing on their first line.
func FindExcerpt(sessionID, projectsDir string, maxChars int) string {
	if projectsDir == "" {
		return ""
	}
	if info, err := os.Stat(projectsDir); err != nil || !info.IsDir() {
		return ""
	}

	pattern := filepath.Join(projectsDir, "*", sessionID+".jsonl")
	matches, _ := filepath.Glob(pattern)

	if len(matches) == 0 {
		matches = scanForSessionID(projectsDir, sessionID)
	}
	if len(matches) == 0 {
		return ""
	}

	return ReadFile(matches[0], maxChars)
}

func scanForSessionID(projectsDir, sessionID string) []string {
	all, _ := filepath.Glob(filepath.Join(projectsDir, "*", "*.jsonl"))
	sort.Slice(all, func(i, j int) bool {
		ti := modTime(all[i])
		tj := modTime(all[j])
		return ti.After(tj)
	})
	if len(all) > maxScanFiles {
		all = all[:maxScanFiles]
	}

	for _, path := range all {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var firstLine string
		if scanner.Scan() {
			firstLine = scanner.Text()
		}
		f.Close()
		if strings.Contains(firstLine, sessionID) {
			return []string{path}
		}
	}
	return nil
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func extractTail(f *os.File, maxChars int) string {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var messages []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry transcriptEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.Type != "user" && entry.Type != "assistant" {
			continue
		}

		content := decodeContent(entry.Message.Content)
		if content == "" {
			continue
		}
		if len(content) > maxLineContentChars {
			content = content[:maxLineContentChars]
		}

		role := entry.Message.Role
		if role == "" {
			role = entry.Type
		}
		messages = append(messages, role+": "+content)
	}

	result := strings.Join(messages, "\n")
	if len(result) > maxChars {
		result = result[len(result)-maxChars:]
	}
	return result
}

// decodeContent handles both a plain string message.content and the
// structured [{"type":"text","text":"..."}] list form Claude Code
// transcripts use.
func decodeContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Type == "text" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, " ")
	}

	return ""
}
