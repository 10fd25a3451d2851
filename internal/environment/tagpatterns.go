package environment

import "regexp"

// gitRemotePattern associates a regexp matched against the origin remote URL
// with the tag it contributes. Ported from original_source/src/tag_patterns.py:
// GIT_REMOTE_PATTERNS.
type gitRemotePattern struct {
	pattern *regexp.Regexp
	tag     string
}

var gitRemotePatterns = []gitRemotePattern{
	{regexp.MustCompile(`github\.com`), "github"},
	{regexp.MustCompile(`bitbucket\.org`), "bitbucket"},
	{regexp.MustCompile(`gitlab\.com`), "gitlab"},
}

// fileMarkers maps a marker filename present in cwd to the tags it implies.
// Ported from original_source/src/tag_patterns.py: FILE_MARKERS, extended
// with the full marker table.
var fileMarkers = map[string][]string{
	"tsconfig.json":          {"typescript"},
	"package.json":           {"nodejs"},
	"Gemfile":                {"ruby"},
	"requirements.txt":       {"python"},
	"Cargo.toml":             {"rust"},
	"go.mod":                 {"golang"},
	"pom.xml":                {"java"},
	"build.gradle":           {"java"},
	"Dockerfile":             {"docker"},
	"docker-compose.yml":     {"docker"},
	".rubocop.yml":           {"ruby"},
	"jest.config.js":         {"jest"},
	"jest.config.ts":         {"jest"},
	"playwright.config.ts":   {"playwright"},
	"vite.config.ts":         {"vite"},
	"next.config.js":         {"nextjs"},
	"nuxt.config.ts":         {"nuxtjs"},
}

// dirStructurePatterns maps a directory name present in cwd to the tags it
// implies. Ported from original_source/src/tag_patterns.py:
// DIR_STRUCTURE_PATTERNS (engines/ implies both monorepo and rails-engines).
var dirStructurePatterns = map[string][]string{
	"engines":    {"monorepo", "rails-engines"},
	"apps":       {"monorepo"},
	"packages":   {"monorepo"},
	"libs":       {"monorepo"},
	"frontend":   {"frontend"},
	"backend":    {"backend"},
	"src":        {"source"},
	"components": {"frontend", "react"},
	"pages":      {"frontend"},
}

// packageDependencyTags maps a package.json dependency name (exact or
// scoped-prefix match) to the tags it implies. Ported from
// original_source/src/tag_patterns.py: PACKAGE_DEPENDENCY_TAGS.
var packageDependencyTags = map[string][]string{
	"react":         {"react", "frontend"},
	"next":          {"nextjs", "react", "frontend"},
	"nuxt":          {"nuxtjs", "vue", "frontend"},
	"vue":           {"vue", "frontend"},
	"svelte":        {"svelte", "frontend"},
	"angular":       {"angular", "frontend"},
	"@angular/core": {"angular", "frontend"},
	"express":       {"nodejs", "backend"},
	"fastify":       {"nodejs", "backend"},
	"nest":          {"nestjs", "nodejs", "backend"},
	"@nestjs/core":  {"nestjs", "nodejs", "backend"},
	"typescript":    {"typescript"},
	"jest":          {"jest", "testing"},
	"vitest":        {"vitest", "testing"},
	"playwright":    {"playwright", "testing"},
	"cypress":       {"cypress", "testing"},
}

// gemfileDependencyTags maps a Gemfile gem name to the tags it implies.
// Ported from original_source/src/tag_patterns.py: GEMFILE_DEPENDENCY_TAGS.
var gemfileDependencyTags = map[string][]string{
	"rails":   {"rails", "backend"},
	"rspec":   {"rspec", "testing"},
	"rubocop": {"ruby"},
}
