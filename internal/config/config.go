// Package config loads Engrammar's on-disk configuration. Settings live in
// a JSON file under the Engrammar home directory (~/.engrammar/config.json
// by default, overridable via ENGRAMMAR_HOME) and are layered with
// ENGRAMMAR_-prefixed environment variable overrides applied on top of
// whatever the file provides, falling back to hardcoded defaults when
// neither is set.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all configuration settings for Engrammar.
type Config struct {
	Home    string
	Search  SearchConfig
	Hooks   HooksConfig
	Display DisplayConfig
	Backup  BackupConfig
}

// BackupConfig controls the daemon's periodic engrams.db snapshots.
type BackupConfig struct {
	Enabled         bool // Run a periodic backup loop alongside the daemon (default: true)
	IntervalMinutes int  // Minutes between snapshots (default: 60)
}

// SearchConfig controls retrieval defaults.
type SearchConfig struct {
	TopK int // Engrams returned per retrieval call (default: 3)
}

// HooksConfig controls which Claude Code hook events Engrammar reacts to.
type HooksConfig struct {
	PromptEnabled  bool     // React to UserPromptSubmit (default: true)
	ToolUseEnabled bool     // React to PreToolUse (default: true)
	SkipTools      []string // Tool names that never trigger a relevance lookup
}

// DisplayConfig controls how injected engrams are rendered back to the
// assistant.
type DisplayConfig struct {
	MaxEngramsPerPrompt int  // Engrams injected per prompt turn (default: 3)
	MaxEngramsPerTool   int  // Engrams injected per tool-use turn (default: 2)
	ShowScores          bool // Include relevance scores in the injected block
	ShowCategories      bool // Include category tags in the injected block (default: true)
}

// Paths collects the on-disk locations derived from Home, mirroring
// original_source/src/config.py's module-level *_PATH constants.
type Paths struct {
	Home           string
	DBPath         string
	IndexPath      string
	IDsPath        string
	TagIndexPath   string
	TagIDsPath     string
	ConfigPath     string
	LastSearchPath string
	SocketPath     string
	BackupDir      string
}

// PathsFor derives Paths from home, joining in the same filenames the
// original's config module used for its embedding/index/state files.
func PathsFor(home string) Paths {
	return Paths{
		Home:           home,
		DBPath:         filepath.Join(home, "engrams.db"),
		IndexPath:      filepath.Join(home, "embeddings.npy"),
		IDsPath:        filepath.Join(home, "embedding_ids.npy"),
		TagIndexPath:   filepath.Join(home, "tag_embeddings.npy"),
		TagIDsPath:     filepath.Join(home, "tag_embedding_ids.npy"),
		ConfigPath:     filepath.Join(home, "config.json"),
		LastSearchPath: filepath.Join(home, ".last-search.json"),
		SocketPath:     filepath.Join(home, "daemon.sock"),
		BackupDir:      filepath.Join(home, "backups"),
	}
}

// defaultSkipTools matches the original's hooks.skip_tools default: tools
// that read rather than act rarely benefit from a relevance interruption.
var defaultSkipTools = []string{"Read", "Glob", "Grep", "WebFetch", "WebSearch"}

// fileConfig is the JSON-serializable shape of config.json. Fields are
// pointers so an absent key in the file leaves the default untouched,
// matching the original's section-by-section dict merge.
type fileConfig struct {
	Search *struct {
		TopK *int `json:"top_k"`
	} `json:"search"`
	Hooks *struct {
		PromptEnabled  *bool    `json:"prompt_enabled"`
		ToolUseEnabled *bool    `json:"tool_use_enabled"`
		SkipTools      []string `json:"skip_tools"`
	} `json:"hooks"`
	Display *struct {
		MaxEngramsPerPrompt *int  `json:"max_engrams_per_prompt"`
		MaxEngramsPerTool   *int  `json:"max_engrams_per_tool"`
		ShowScores          *bool `json:"show_scores"`
		ShowCategories      *bool `json:"show_categories"`
	} `json:"display"`
	Backup *struct {
		Enabled         *bool `json:"enabled"`
		IntervalMinutes *int  `json:"interval_minutes"`
	} `json:"backup"`
}

// defaultConfig returns the built-in defaults, ported from
// original_source/src/config.py: load_config's `defaults` dict.
func defaultConfig(home string) *Config {
	return &Config{
		Home: home,
		Search: SearchConfig{
			TopK: 3,
		},
		Hooks: HooksConfig{
			PromptEnabled:  true,
			ToolUseEnabled: true,
			SkipTools:      append([]string(nil), defaultSkipTools...),
		},
		Display: DisplayConfig{
			MaxEngramsPerPrompt: 3,
			MaxEngramsPerTool:   2,
			ShowScores:          false,
			ShowCategories:      true,
		},
		Backup: BackupConfig{
			Enabled:         true,
			IntervalMinutes: 60,
		},
	}
}

// LoadConfig resolves the Engrammar home directory, reads config.json from
// it if present, merges that over the defaults, then applies
// ENGRAMMAR_-prefixed environment variable overrides on top. A missing
// config.json is not an error; a malformed one is.
func LoadConfig() (*Config, error) {
	home := homeDir()
	cfg := defaultConfig(home)

	configPath := PathsFor(home).ConfigPath
	if data, err := os.ReadFile(configPath); err == nil {
		if err := mergeFile(cfg, data); err != nil {
			return nil, fmt.Errorf("config: malformed %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// homeDir resolves the Engrammar home directory: ENGRAMMAR_HOME if set,
// otherwise ~/.engrammar.
func homeDir() string {
	if home := os.Getenv("ENGRAMMAR_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		userHome = "."
	}
	return filepath.Join(userHome, ".engrammar")
}

// mergeFile layers the parsed JSON file's present fields over cfg's
// defaults, leaving any field the file omits untouched.
func mergeFile(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.Search != nil {
		if fc.Search.TopK != nil {
			cfg.Search.TopK = *fc.Search.TopK
		}
	}
	if fc.Hooks != nil {
		if fc.Hooks.PromptEnabled != nil {
			cfg.Hooks.PromptEnabled = *fc.Hooks.PromptEnabled
		}
		if fc.Hooks.ToolUseEnabled != nil {
			cfg.Hooks.ToolUseEnabled = *fc.Hooks.ToolUseEnabled
		}
		if fc.Hooks.SkipTools != nil {
			cfg.Hooks.SkipTools = fc.Hooks.SkipTools
		}
	}
	if fc.Display != nil {
		if fc.Display.MaxEngramsPerPrompt != nil {
			cfg.Display.MaxEngramsPerPrompt = *fc.Display.MaxEngramsPerPrompt
		}
		if fc.Display.MaxEngramsPerTool != nil {
			cfg.Display.MaxEngramsPerTool = *fc.Display.MaxEngramsPerTool
		}
		if fc.Display.ShowScores != nil {
			cfg.Display.ShowScores = *fc.Display.ShowScores
		}
		if fc.Display.ShowCategories != nil {
			cfg.Display.ShowCategories = *fc.Display.ShowCategories
		}
	}
	if fc.Backup != nil {
		if fc.Backup.Enabled != nil {
			cfg.Backup.Enabled = *fc.Backup.Enabled
		}
		if fc.Backup.IntervalMinutes != nil {
			cfg.Backup.IntervalMinutes = *fc.Backup.IntervalMinutes
		}
	}
	return nil
}

// applyEnvOverrides layers ENGRAMMAR_-prefixed environment variables over
// cfg, taking precedence over both the defaults and config.json.
func applyEnvOverrides(cfg *Config) {
	cfg.Search.TopK = getEnvInt("ENGRAMMAR_SEARCH_TOP_K", cfg.Search.TopK)
	cfg.Hooks.PromptEnabled = getEnvBool("ENGRAMMAR_HOOKS_PROMPT_ENABLED", cfg.Hooks.PromptEnabled)
	cfg.Hooks.ToolUseEnabled = getEnvBool("ENGRAMMAR_HOOKS_TOOL_USE_ENABLED", cfg.Hooks.ToolUseEnabled)
	cfg.Display.MaxEngramsPerPrompt = getEnvInt("ENGRAMMAR_DISPLAY_MAX_ENGRAMS_PER_PROMPT", cfg.Display.MaxEngramsPerPrompt)
	cfg.Display.MaxEngramsPerTool = getEnvInt("ENGRAMMAR_DISPLAY_MAX_ENGRAMS_PER_TOOL", cfg.Display.MaxEngramsPerTool)
	cfg.Display.ShowScores = getEnvBool("ENGRAMMAR_DISPLAY_SHOW_SCORES", cfg.Display.ShowScores)
	cfg.Display.ShowCategories = getEnvBool("ENGRAMMAR_DISPLAY_SHOW_CATEGORIES", cfg.Display.ShowCategories)
	cfg.Backup.Enabled = getEnvBool("ENGRAMMAR_BACKUP_ENABLED", cfg.Backup.Enabled)
	cfg.Backup.IntervalMinutes = getEnvInt("ENGRAMMAR_BACKUP_INTERVAL_MINUTES", cfg.Backup.IntervalMinutes)
}

// Paths returns the on-disk locations derived from this config's Home.
func (c *Config) Paths() Paths {
	return PathsFor(c.Home)
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the environment variable exists but cannot be parsed as an
// integer, it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" as true and "false", "0", "no" as
// false (case-insensitive). If the environment variable exists but cannot
// be parsed as a boolean, it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
