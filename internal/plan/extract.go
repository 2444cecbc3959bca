package plan

import (
	"regexp"
	"strings"
)

// Known source/asset extensions recognized by the path heuristics. Paths
// without one of these extensions are ignored to keep prose out of the
// dependency graph.
var knownExtensions = []string{
	"ts", "tsx", "js", "jsx", "mjs", "cjs",
	"go", "py", "rb", "rs", "java", "kt", "c", "cc", "cpp", "h", "hpp",
	"css", "scss", "html", "vue", "svelte",
	"json", "yaml", "yml", "toml", "md", "sql", "sh", "proto",
}

var (
	extAlt = strings.Join(knownExtensions, "|")

	// `src/auth/login.ts` style inline code spans.
	backtickPathRe = regexp.MustCompile("`([^`\\s]+\\.(?:" + extAlt + "))`")

	// "Create src/auth/login.ts", "Update the file config/app.yaml", etc.
	actionPathRe = regexp.MustCompile(`(?i)\b(?:create|update|modify|edit|add|delete|remove)\b[^\n.]*?([A-Za-z0-9_./-]+\.(?:` + extAlt + `))`)

	// Bare slash-delimited paths: src/components/Button.tsx
	barePathRe = regexp.MustCompile(`(?:^|[\s(])([A-Za-z0-9_.-]+(?:/[A-Za-z0-9_.-]+)+\.(?:` + extAlt + `))`)

	// "depends on US-001", "after US-2", "requires TASK-10"
	dependencyRe = regexp.MustCompile(`(?i)\b(?:depends\s+on|after|requires)\s+([A-Za-z][A-Za-z0-9]*-\d+)`)
)

// ExtractFilePaths mines file path references from free-form story text
// using three heuristics: inline code spans, action-verb phrases, and bare
// slash-delimited paths. The result is deduplicated in first-seen order.
func ExtractFilePaths(text string) []string {
	var paths []string
	seen := make(map[string]bool)

	add := func(p string) {
		p = strings.TrimPrefix(p, "./")
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	for _, m := range backtickPathRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range actionPathRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range barePathRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	return paths
}

// DetectDependencies returns story IDs referenced by explicit dependency
// markers ("depends on", "after", "requires"), case-insensitive,
// deduplicated in first-seen order.
func DetectDependencies(text string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, m := range dependencyRe.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
