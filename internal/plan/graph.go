package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"
)

// BuildGraph builds the dependency graph for the given stories.
//
// Edges come from two sources: explicit markers in the story body, and
// implicit document ordering. If story B is declared after story A and both
// reference at least one common file path, B depends on A. Implicit edges
// therefore only ever point to earlier-declared stories, which keeps the
// implicit rule from manufacturing cycles.
//
// Explicit markers naming IDs that do not appear in the document are
// dropped: a typo in free-form prose should not constrain scheduling.
func BuildGraph(stories []*Story) *Graph {
	g := &Graph{Nodes: make(map[string]*Node, len(stories))}

	known := make(map[string]bool, len(stories))
	for _, s := range stories {
		known[s.ID] = true
	}

	for i, s := range stories {
		node := &Node{ID: s.ID, Files: append([]string(nil), s.ReferencedFiles...)}
		edges := make(map[string]bool)

		for _, dep := range s.ExplicitDeps {
			if dep != s.ID && known[dep] {
				edges[dep] = true
			}
		}

		// Implicit ordering: depend on every earlier story sharing a file.
		for _, earlier := range stories[:i] {
			if edges[earlier.ID] {
				continue
			}
			if sharesFile(s.ReferencedFiles, earlier.ReferencedFiles) {
				edges[earlier.ID] = true
			}
		}

		for dep := range edges {
			node.Edges = append(node.Edges, dep)
		}
		sort.Strings(node.Edges)

		g.Nodes[s.ID] = node
		g.Order = append(g.Order, s.ID)
	}

	return g
}

func sharesFile(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, f := range a {
		set[f] = true
	}
	for _, f := range b {
		if set[f] {
			return true
		}
	}
	return false
}

// Validate runs a whole-graph topological sort and returns the ordered
// story IDs, or an error naming the cycle if one exists.
func (g *Graph) Validate() ([]string, error) {
	var edges []toposort.Edge
	for _, id := range g.Order {
		node := g.Nodes[id]
		if len(node.Edges) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, dep := range node.Edges {
			edges = append(edges, toposort.Edge{dep, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(g.Order) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, id := range g.Order {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d stories: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// Batches partitions the incomplete stories into dependency-respecting
// frontiers using Kahn's algorithm. Every story in batch k has all of its
// incomplete dependencies in batches < k; dependencies on already-done
// stories are treated as satisfied. Returns a CycleError naming the
// unschedulable stories if the incomplete subgraph contains a cycle.
func Batches(g *Graph, stories []*Story) ([][]string, error) {
	byID := make(map[string]*Story, len(stories))
	for _, s := range stories {
		byID[s.ID] = s
	}

	incomplete := make(map[string]bool)
	for _, s := range stories {
		if s.Status != StoryDone {
			incomplete[s.ID] = true
		}
	}
	if len(incomplete) == 0 {
		return nil, nil
	}

	// In-degree restricted to edges between incomplete stories.
	inDegree := make(map[string]int, len(incomplete))
	for id := range incomplete {
		degree := 0
		for _, dep := range g.Nodes[id].Edges {
			if incomplete[dep] {
				degree++
			}
		}
		inDegree[id] = degree
	}

	var batches [][]string
	placed := make(map[string]bool, len(incomplete))

	for len(placed) < len(incomplete) {
		var frontier []string
		for id := range incomplete {
			if !placed[id] && inDegree[id] == 0 {
				frontier = append(frontier, id)
			}
		}
		if len(frontier) == 0 {
			break // Remaining stories form a cycle.
		}

		sortByStoryID(frontier, byID)
		batches = append(batches, frontier)

		for _, id := range frontier {
			placed[id] = true
			for other := range incomplete {
				if placed[other] {
					continue
				}
				for _, dep := range g.Nodes[other].Edges {
					if dep == id {
						inDegree[other]--
					}
				}
			}
		}
	}

	if len(placed) < len(incomplete) {
		var stuck []string
		for id := range incomplete {
			if !placed[id] {
				stuck = append(stuck, id)
			}
		}
		sortByStoryID(stuck, byID)
		return nil, &CycleError{StoryIDs: stuck}
	}

	return batches, nil
}

// sortByStoryID orders IDs by ascending numeric suffix, breaking ties
// lexicographically, so batch contents are deterministic across runs.
func sortByStoryID(ids []string, byID map[string]*Story) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := byID[ids[i]], byID[ids[j]]
		if a != nil && b != nil && a.NumericSuffix() != b.NumericSuffix() {
			return a.NumericSuffix() < b.NumericSuffix()
		}
		return ids[i] < ids[j]
	})
}
