package extractor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocodesign/engrammar/internal/extractor"
	"github.com/rocodesign/engrammar/internal/llmclient"
	"github.com/rocodesign/engrammar/internal/store/sqlite"
	"github.com/rocodesign/engrammar/internal/vectorindex"
	"github.com/rocodesign/engrammar/pkg/engram"
)

const longFiller = "The user repeatedly asked to rebase the feature branch before opening the pull request so history stays linear and bisectable for the whole team and every reviewer agreed it was the right call"

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "engrammar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fakeExtractionClient(t *testing.T, stdout string) *llmclient.Client {
	t.Helper()
	c := llmclient.NewClient("haiku")
	c.Limiter = nil
	c.Breaker = nil
	c.LookPath = func(string) (string, error) { return "/usr/bin/claude", nil }
	c.RunCommand = func(ctx context.Context, name string, args []string, env []string) (string, string, error) {
		return stdout, "", nil
	}
	return c
}

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sess.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExtractTranscriptAddsNewEngram(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	idx, err := vectorindex.Open(filepath.Join(t.TempDir(), "index.gob"), vectorindex.NewHashEmbedder(32))
	require.NoError(t, err)

	path := writeTranscript(t, `{"type":"user","message":{"role":"user","content":"`+
		`Please use the figma mcp server to pull design tokens from the file and generate tailwind classes automatically for every component on this page`+
		`"}}`)

	client := fakeExtractionClient(t, `[{"topic":"styling","lesson":"Connect the figma mcp server before starting UI work.","source_sessions":["sess-1"],"scope":"general","project_signals":[]}]`)

	x := &extractor.Extractor{Store: s, Audits: s, Sessions: s, Index: idx, Client: client}
	results, err := x.Extract(ctx, "sess-1", extractor.TranscriptSource{Kind: extractor.KindTranscript, TranscriptPath: path})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Merged)
	assert.Equal(t, "development/frontend/styling", results[0].Category)

	processed, err := s.IsSessionProcessed(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, processed)

	added, err := s.Get(ctx, results[0].EngramID)
	require.NoError(t, err)
	assert.Equal(t, []string{"figma"}, added.Prerequisites.MCPServers)
	assert.Equal(t, 1, idx.Len())
}

func TestExtractTranscriptTooShortSkipsWithoutCallingLLM(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	path := writeTranscript(t, `{"type":"user","message":{"role":"user","content":"hi"}}`)

	calls := 0
	client := fakeExtractionClient(t, "[]")
	client.RunCommand = func(ctx context.Context, name string, args []string, env []string) (string, string, error) {
		calls++
		return "[]", "", nil
	}

	x := &extractor.Extractor{Store: s, Audits: s, Sessions: s, Client: client}
	results, err := x.Extract(ctx, "sess-short", extractor.TranscriptSource{Kind: extractor.KindTranscript, TranscriptPath: path})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, calls)

	processed, err := s.IsSessionProcessed(ctx, "sess-short")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestExtractMergesIntoNearDuplicateEngram(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	existingID, err := s.Add(ctx, &engram.Engram{
		Text:     "Rebase the feature branch before opening a pull request to keep history clean.",
		Category: "development/git",
		Source:   engram.SourceAutoExtracted,
	})
	require.NoError(t, err)

	client := fakeExtractionClient(t, `[{"topic":"git-workflow","lesson":"Rebase before opening a pull request to keep history clean.","source_sessions":["sess-2"],"scope":"general","project_signals":[]}]`)
	x := &extractor.Extractor{Store: s, Audits: s, Sessions: s, Client: client}

	path := writeTranscript(t, `{"type":"user","message":{"role":"user","content":"`+longFiller+`"}}`)
	results, err := x.Extract(ctx, "sess-2", extractor.TranscriptSource{Kind: extractor.KindTranscript, TranscriptPath: path})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Merged)
	assert.Equal(t, existingID, results[0].EngramID)

	merged, err := s.Get(ctx, existingID)
	require.NoError(t, err)
	assert.Contains(t, merged.SourceSessions, "sess-2")
}

func TestExtractFacetBatchSkipsSessionsWithoutFriction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	calls := 0
	client := fakeExtractionClient(t, "[]")
	client.RunCommand = func(ctx context.Context, name string, args []string, env []string) (string, string, error) {
		calls++
		return "[]", "", nil
	}

	x := &extractor.Extractor{Store: s, Audits: s, Sessions: s, Client: client}
	results, err := x.Extract(ctx, "sess-3", extractor.TranscriptSource{
		Kind: extractor.KindFacet,
		Facets: []extractor.SessionFacet{
			{SessionID: "sess-3", BriefSummary: "routine task", FrictionDetail: ""},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, calls)

	processed, err := s.IsSessionProcessed(ctx, "sess-3")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestExtractFacetBatchExtractsFromFrictionSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	client := fakeExtractionClient(t, `[{"topic":"debugging","lesson":"Check the retry queue depth before assuming the worker is stuck.","source_sessions":["sess-4","sess-5"],"scope":"general","project_signals":[]}]`)
	x := &extractor.Extractor{Store: s, Audits: s, Sessions: s, Client: client}

	results, err := x.Extract(ctx, "", extractor.TranscriptSource{
		Kind: extractor.KindFacet,
		Facets: []extractor.SessionFacet{
			{SessionID: "sess-4", BriefSummary: "investigated stuck worker", FrictionDetail: "worker looked hung"},
			{SessionID: "sess-5", BriefSummary: "same worker issue", FrictionDetail: "same investigation"},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "development/debugging", results[0].Category)

	for _, sid := range []string{"sess-4", "sess-5"} {
		processed, err := s.IsSessionProcessed(ctx, sid)
		require.NoError(t, err)
		assert.True(t, processed, sid)
	}
}

func TestInferPrerequisitesFromProjectSignal(t *testing.T) {
	prereqs := extractorInferPrerequisites(t, "Always verify the connection before using any tool.", []string{"Figma Server"})
	assert.Equal(t, []string{"figma"}, prereqs.MCPServers)
}

// extractorInferPrerequisites reaches the unexported inferPrerequisites via
// a thin exported test seam isn't available, so this test instead drives it
// indirectly through Extract's prerequisite-inference path on a fresh
// engram, confirming project_signals merge the same way keyword text does.
func extractorInferPrerequisites(t *testing.T, text string, signals []string) engram.Prerequisites {
	t.Helper()
	ctx := context.Background()
	s := newTestStore(t)

	payload := `[{"topic":"tool-usage","lesson":"` + text + `","source_sessions":["sess-6"],"scope":"project-specific","project_signals":["Figma Server"]}]`
	client := fakeExtractionClient(t, payload)
	x := &extractor.Extractor{Store: s, Audits: s, Sessions: s, Client: client}

	path := writeTranscript(t, `{"type":"user","message":{"role":"user","content":"`+longFiller+`"}}`)
	results, err := x.Extract(ctx, "sess-6", extractor.TranscriptSource{Kind: extractor.KindTranscript, TranscriptPath: path})
	require.NoError(t, err)
	require.Len(t, results, 1)

	added, err := s.Get(ctx, results[0].EngramID)
	require.NoError(t, err)
	return added.Prerequisites
}
