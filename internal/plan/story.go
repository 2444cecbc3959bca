package plan

import (
	"fmt"
	"strconv"
	"strings"
)

// StoryStatus represents the completion state of a story in the planning document.
type StoryStatus int

const (
	StoryPending StoryStatus = iota // Checkbox blank
	StoryDone                       // Checkbox checked, excluded from batching
)

// Story is one unit of work parsed from the planning document.
// Immutable for the duration of a run except Status, which only flips to
// done after a successful commit.
type Story struct {
	ID              string   // e.g. "US-001"
	Title           string   // Heading title after the colon
	Status          StoryStatus
	Content         string   // Body text between this heading and the next
	ReferencedFiles []string // Paths mined from Content
	ExplicitDeps    []string // IDs named by dependency markers in Content
}

// NumericSuffix returns the trailing number of the story ID, used for
// deterministic commit ordering. Stories without a numeric suffix sort last.
func (s *Story) NumericSuffix() int {
	id := s.ID
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) {
		return int(^uint(0) >> 1)
	}
	n, err := strconv.Atoi(id[i:])
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

// Node is one vertex of the dependency graph.
type Node struct {
	ID    string
	Files []string // Referenced file paths
	Edges []string // Story IDs this story depends on
}

// Graph holds the dependency graph keyed by story ID, preserving the
// document declaration order of the stories.
type Graph struct {
	Nodes map[string]*Node
	Order []string // Story IDs in document order
}

// ParseError reports a malformed planning document. Fatal to the run.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("planning document line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("planning document: %s", e.Reason)
}

// CycleError reports a circular dependency between stories. Fatal to the
// run; no batches are produced for cycle members.
type CycleError struct {
	StoryIDs []string // Stories that could not be scheduled
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving stories: %s", strings.Join(e.StoryIDs, ", "))
}
