package environment

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DetectTags runs every tag sub-detector against dir and returns the sorted,
// deduplicated union. Ported from original_source/src/tag_detectors.py:
// detect_tags.
func (p *Probe) DetectTags(ctx context.Context, dir string) []string {
	if dir == "" {
		dir = "."
	}

	set := map[string]struct{}{}
	add := func(tags []string) {
		for _, t := range tags {
			set[t] = struct{}{}
		}
	}

	add(detectFromGit(ctx))
	add(detectFromFiles(dir))
	add(detectFromPackageJSON(dir))
	add(detectFromGemfile(dir))
	add(detectFromStructure(dir))

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func detectFromGit(ctx context.Context) []string {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var tags []string
	out, err := gitRemoteURL(cctx)
	if err != nil || out == "" {
		return tags
	}
	for _, p := range gitRemotePatterns {
		if p.pattern.MatchString(out) {
			tags = append(tags, p.tag)
		}
	}
	return tags
}

// gitRemoteURL is a seam so tests can stub out the subprocess call.
var gitRemoteURL = func(ctx context.Context) (string, error) {
	out, err := execGitRemote(ctx)
	return out, err
}

func detectFromFiles(dir string) []string {
	var tags []string
	for filename, fileTags := range fileMarkers {
		if _, err := os.Stat(filepath.Join(dir, filename)); err == nil {
			tags = append(tags, fileTags...)
		}
	}
	return tags
}

func detectFromStructure(dir string) []string {
	var tags []string
	for name, dirTags := range dirStructurePatterns {
		info, err := os.Stat(filepath.Join(dir, name))
		if err == nil && info.IsDir() {
			tags = append(tags, dirTags...)
		}
	}
	return tags
}

func detectFromPackageJSON(dir string) []string {
	var tags []string
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return tags
	}

	var pkg struct {
		Dependencies      map[string]string `json:"dependencies"`
		DevDependencies   map[string]string `json:"devDependencies"`
		PeerDependencies  map[string]string `json:"peerDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return tags
	}

	allDeps := map[string]struct{}{}
	for name := range pkg.Dependencies {
		allDeps[name] = struct{}{}
	}
	for name := range pkg.DevDependencies {
		allDeps[name] = struct{}{}
	}
	for name := range pkg.PeerDependencies {
		allDeps[name] = struct{}{}
	}

	for depName := range allDeps {
		for pattern, depTags := range packageDependencyTags {
			if depName == pattern || strings.HasPrefix(depName, pattern) {
				tags = append(tags, depTags...)
			}
		}
	}
	return tags
}

var gemDeclRe = func(name string) *regexp.Regexp {
	return regexp.MustCompile(`gem\s+['"](` + regexp.QuoteMeta(name) + `)['"]`)
}

func detectFromGemfile(dir string) []string {
	var tags []string
	data, err := os.ReadFile(filepath.Join(dir, "Gemfile"))
	if err != nil {
		return tags
	}
	content := string(data)
	for gemName, gemTags := range gemfileDependencyTags {
		if gemDeclRe(gemName).MatchString(content) {
			tags = append(tags, gemTags...)
		}
	}
	return tags
}
