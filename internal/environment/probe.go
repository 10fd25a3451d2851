// Package environment detects the current OS, repository, working
// directory, available host plug-ins, and a set of environment tags, and
// evaluates engram prerequisites against that detection. Grounded on
// original_source/src/environment.py (detect_environment, check_prerequisites)
// and original_source/src/tag_detectors.py (detect_tags).
package environment

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rocodesign/engrammar/pkg/engram"
)

// Environment is the detection result consumed by prerequisite checks and
// by tag-stats writes.
type Environment struct {
	OS         string
	Repo       string // empty means undetected/null
	CWD        string
	MCPServers []string
	Tags       []string
}

// Probe detects the current environment. It is deliberately best-effort:
// any failing detector contributes nothing rather than aborting detection,
// mirroring the original's broad try/except around each sub-detector.
type Probe struct {
	// ClaudeSettingsPath overrides the default ~/.claude/settings.json
	// location used to discover configured MCP server names. Exposed for
	// tests.
	ClaudeSettingsPath string
	// WorkDir overrides os.Getwd for tests.
	WorkDir string
}

// NewProbe returns a Probe configured with production defaults.
func NewProbe() *Probe {
	return &Probe{}
}

// Detect runs every sub-detector and assembles the Environment dict.
func (p *Probe) Detect(ctx context.Context) Environment {
	cwd := p.WorkDir
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}

	env := Environment{
		OS:         strings.ToLower(runtime.GOOS),
		Repo:       p.detectRepo(ctx),
		CWD:        cwd,
		MCPServers: p.detectMCPServers(),
	}
	env.Tags = p.DetectTags(ctx, cwd)
	return env
}

// detectRepo extracts the repository name from the git remote origin URL,
// stripping any .git suffix. Returns "" (null) on any failure — prerequisite
// checks must fail closed on a null repo.
func (p *Probe) detectRepo(ctx context.Context) string {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(cctx, "git", "remote", "get-url", "origin").Output()
	if err != nil {
		return ""
	}
	url := strings.TrimSpace(string(out))
	if url == "" {
		return ""
	}
	url = strings.TrimRight(url, "/")
	segments := strings.Split(url, "/")
	name := segments[len(segments)-1]
	name = strings.TrimSuffix(name, ".git")
	return name
}

// detectMCPServers reads the names of configured plug-ins from the host
// assistant's settings file.
func (p *Probe) detectMCPServers() []string {
	path := p.ClaudeSettingsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = home + "/.claude/settings.json"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var settings struct {
		MCPServers map[string]json.RawMessage `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil
	}

	names := make([]string, 0, len(settings.MCPServers))
	for name := range settings.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckPrerequisites reports whether env meets the given prerequisite
// predicate. Evaluation is a strict AND across recognised keys. An empty
// prerequisite set matches everything.
func CheckPrerequisites(p engram.Prerequisites, env Environment) bool {
	if p.IsEmpty() {
		return true
	}

	if len(p.OS) > 0 && !contains(p.OS, env.OS) {
		return false
	}

	if len(p.Repos) > 0 {
		// Fail closed: a null repo never matches a repos prerequisite.
		if env.Repo == "" || !contains(p.Repos, env.Repo) {
			return false
		}
	}

	if len(p.MCPServers) > 0 {
		available := make(map[string]bool, len(env.MCPServers))
		for _, s := range env.MCPServers {
			available[s] = true
		}
		for _, s := range p.MCPServers {
			if !available[s] {
				return false
			}
		}
	}

	if len(p.Paths) > 0 {
		matched := false
		for _, prefix := range p.Paths {
			if strings.HasPrefix(env.CWD, prefix) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(p.Tags) > 0 {
		available := make(map[string]bool, len(env.Tags))
		for _, t := range env.Tags {
			available[t] = true
		}
		for _, t := range p.Tags {
			if !available[t] {
				return false
			}
		}
	}

	return true
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
