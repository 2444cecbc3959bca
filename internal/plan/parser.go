package plan

import (
	"fmt"
	"regexp"
	"strings"
)

// headingRe matches story headings: "### [ ] US-001: Add login form".
// The checkbox is optional; a heading without one is a pending story. The
// checkbox group is blank, x, or X. The ID is letters/digits with an
// optional dash-separated numeric suffix.
var headingRe = regexp.MustCompile(`^###\s+(?:\[([ xX]?)\]\s+)?([A-Za-z][A-Za-z0-9]*-?\d*):\s*(.+?)\s*$`)

// ParseDocument scans the planning document for story headings and collects
// each story's body text, referenced file paths, and explicit dependency
// markers. Returns a ParseError if no stories are found.
func ParseDocument(doc string) ([]*Story, error) {
	lines := strings.Split(doc, "\n")

	var stories []*Story
	var current *Story
	var body []string

	flush := func() {
		if current == nil {
			return
		}
		current.Content = strings.TrimRight(strings.Join(body, "\n"), "\n")
		current.ReferencedFiles = ExtractFilePaths(current.Content)
		current.ExplicitDeps = DetectDependencies(current.Content)
		stories = append(stories, current)
		body = nil
	}

	for _, line := range lines {
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			if current != nil {
				body = append(body, line)
			}
			continue
		}

		flush()

		status := StoryPending
		if m[1] == "x" || m[1] == "X" {
			status = StoryDone
		}

		current = &Story{
			ID:     m[2],
			Title:  m[3],
			Status: status,
		}
	}
	flush()

	if len(stories) == 0 {
		return nil, &ParseError{Reason: "no story headings found (expected \"### [ ] <ID>: <title>\")"}
	}

	seen := make(map[string]bool, len(stories))
	for _, s := range stories {
		if seen[s.ID] {
			return nil, &ParseError{Reason: fmt.Sprintf("duplicate story ID %s", s.ID)}
		}
		seen[s.ID] = true
	}

	return stories, nil
}

// MarkStoryDone flips the checkbox of the given story heading in the
// document text. Returns the updated document and whether the heading was
// found. Idempotent: an already-checked box stays checked.
func MarkStoryDone(doc, storyID string) (string, bool) {
	lines := strings.Split(doc, "\n")
	found := false
	for i, line := range lines {
		m := headingRe.FindStringSubmatch(line)
		if m == nil || m[2] != storyID {
			continue
		}
		rest := strings.TrimLeft(strings.TrimPrefix(line, "###"), " \t")
		if strings.HasPrefix(rest, "[") {
			lines[i] = strings.Replace(line, "["+m[1]+"]", "[x]", 1)
		} else {
			// Checkbox-less heading: insert one before the ID.
			lines[i] = strings.Replace(line, m[2]+":", "[x] "+m[2]+":", 1)
		}
		found = true
		break
	}
	return strings.Join(lines, "\n"), found
}

// criterionRe matches acceptance-criteria list items: "- [ ] some text".
var criterionRe = regexp.MustCompile(`^(\s*-\s+)\[ \](\s+.+?)\s*$`)

// MarkCriteriaDone flips unchecked acceptance-criteria items inside the
// given story's section when done returns true for the item's text.
// Returns the updated document and the number of items flipped.
func MarkCriteriaDone(doc, storyID string, done func(text string) bool) (string, int) {
	lines := strings.Split(doc, "\n")
	inSection := false
	flipped := 0

	for i, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			inSection = m[2] == storyID
			continue
		}
		if !inSection {
			continue
		}
		cm := criterionRe.FindStringSubmatch(line)
		if cm == nil {
			continue
		}
		if done(strings.TrimSpace(cm[2])) {
			lines[i] = cm[1] + "[x]" + cm[2]
			flipped++
		}
	}
	return strings.Join(lines, "\n"), flipped
}
