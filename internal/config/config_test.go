package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocodesign/engrammar/internal/config"
)

func TestLoadConfig_DefaultsWhenHomeHasNoConfigFile(t *testing.T) {
	t.Setenv("ENGRAMMAR_HOME", t.TempDir())

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Search.TopK)
	assert.True(t, cfg.Hooks.PromptEnabled)
	assert.True(t, cfg.Hooks.ToolUseEnabled)
	assert.Equal(t, []string{"Read", "Glob", "Grep", "WebFetch", "WebSearch"}, cfg.Hooks.SkipTools)
	assert.Equal(t, 3, cfg.Display.MaxEngramsPerPrompt)
	assert.Equal(t, 2, cfg.Display.MaxEngramsPerTool)
	assert.False(t, cfg.Display.ShowScores)
	assert.True(t, cfg.Display.ShowCategories)
}

func TestLoadConfig_HomeDefaultsToDotEngrammar(t *testing.T) {
	_ = os.Unsetenv("ENGRAMMAR_HOME")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	userHome, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(userHome, ".engrammar"), cfg.Home)
}

func TestLoadConfig_MergesPartialConfigFileOverDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ENGRAMMAR_HOME", home)

	writeConfigFile(t, home, `{
		"search": {"top_k": 7},
		"display": {"show_scores": true}
	}`)

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Search.TopK, "file value must override default")
	assert.True(t, cfg.Display.ShowScores, "file value must override default")
	assert.Equal(t, 2, cfg.Display.MaxEngramsPerTool, "unset field must keep its default")
	assert.True(t, cfg.Hooks.PromptEnabled, "unset section must keep its defaults")
}

func TestLoadConfig_EnvVarOverridesFileAndDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ENGRAMMAR_HOME", home)
	writeConfigFile(t, home, `{"search": {"top_k": 7}}`)

	t.Setenv("ENGRAMMAR_SEARCH_TOP_K", "10")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Search.TopK, "env var must take precedence over config.json")
}

func TestLoadConfig_MalformedJSONReturnsError(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ENGRAMMAR_HOME", home)
	writeConfigFile(t, home, `{not valid json`)

	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_CustomSkipToolsReplacesDefaultList(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ENGRAMMAR_HOME", home)
	writeConfigFile(t, home, `{"hooks": {"skip_tools": ["Read"]}}`)

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"Read"}, cfg.Hooks.SkipTools)
}

func TestPathsFor_JoinsExpectedFilenames(t *testing.T) {
	paths := config.PathsFor("/home/user/.engrammar")

	assert.Equal(t, "/home/user/.engrammar/engrams.db", paths.DBPath)
	assert.Equal(t, "/home/user/.engrammar/embeddings.npy", paths.IndexPath)
	assert.Equal(t, "/home/user/.engrammar/embedding_ids.npy", paths.IDsPath)
	assert.Equal(t, "/home/user/.engrammar/tag_embeddings.npy", paths.TagIndexPath)
	assert.Equal(t, "/home/user/.engrammar/tag_embedding_ids.npy", paths.TagIDsPath)
	assert.Equal(t, "/home/user/.engrammar/config.json", paths.ConfigPath)
	assert.Equal(t, "/home/user/.engrammar/.last-search.json", paths.LastSearchPath)
	assert.Equal(t, "/home/user/.engrammar/daemon.sock", paths.SocketPath)
}

func writeConfigFile(t *testing.T, home, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.json"), []byte(contents), 0o644))
}
