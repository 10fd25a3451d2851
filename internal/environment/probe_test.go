package environment_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocodesign/engrammar/internal/environment"
	"github.com/rocodesign/engrammar/pkg/engram"
)

func TestCheckPrerequisitesEmptyMatchesAnything(t *testing.T) {
	assert.True(t, environment.CheckPrerequisites(engram.Prerequisites{}, environment.Environment{}))
}

func TestCheckPrerequisitesRepoFailsClosedOnNullRepo(t *testing.T) {
	p := engram.Prerequisites{Repos: []string{"app-repo"}}

	assert.False(t, environment.CheckPrerequisites(p, environment.Environment{Repo: ""}))
	assert.False(t, environment.CheckPrerequisites(p, environment.Environment{Repo: "other"}))
	assert.True(t, environment.CheckPrerequisites(p, environment.Environment{Repo: "app-repo"}))
}

func TestCheckPrerequisitesTagsRequiresAll(t *testing.T) {
	p := engram.Prerequisites{Tags: []string{"frontend", "react"}}

	assert.False(t, environment.CheckPrerequisites(p, environment.Environment{Tags: []string{"frontend"}}))
	assert.True(t, environment.CheckPrerequisites(p, environment.Environment{Tags: []string{"frontend", "react", "acme"}}))
}

func TestCheckPrerequisitesPathsRequiresPrefix(t *testing.T) {
	p := engram.Prerequisites{Paths: []string{"/work/acme"}}

	assert.False(t, environment.CheckPrerequisites(p, environment.Environment{CWD: "/work/personal/app"}))
	assert.True(t, environment.CheckPrerequisites(p, environment.Environment{CWD: "/work/acme/service"}))
}

func TestCheckPrerequisitesMCPServersRequiresAll(t *testing.T) {
	p := engram.Prerequisites{MCPServers: []string{"figma", "jira"}}

	assert.False(t, environment.CheckPrerequisites(p, environment.Environment{MCPServers: []string{"figma"}}))
	assert.True(t, environment.CheckPrerequisites(p, environment.Environment{MCPServers: []string{"figma", "jira"}}))
}

func TestDetectTagsFileMarkers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tsconfig.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "packages"), 0o755))

	p := environment.NewProbe()
	tags := p.DetectTags(t.Context(), dir)

	assert.Contains(t, tags, "typescript")
	assert.Contains(t, tags, "golang")
	assert.Contains(t, tags, "monorepo")
}

func TestDetectTagsIsDeterministicOnUnchangedDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"dependencies":{"react":"18.0.0","next":"14.0.0"}}`), 0o644))

	p := environment.NewProbe()
	first := p.DetectTags(t.Context(), dir)
	second := p.DetectTags(t.Context(), dir)

	assert.Equal(t, first, second)
	assert.Contains(t, first, "react")
	assert.Contains(t, first, "nextjs")
}

func TestDetectMCPServersFromSettingsFile(t *testing.T) {
	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(settingsPath, []byte(`{"mcpServers":{"figma":{},"jira":{}}}`), 0o644))

	p := &environment.Probe{ClaudeSettingsPath: settingsPath}
	env := p.Detect(t.Context())

	assert.ElementsMatch(t, []string{"figma", "jira"}, env.MCPServers)
}
