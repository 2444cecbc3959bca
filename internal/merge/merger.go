// Package merge detects file-level overlap among a batch's successful
// results and drives a secondary worker process to reconcile each
// conflicting file.
package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aristath/storyflow/internal/events"
	"github.com/aristath/storyflow/internal/gitx"
	"github.com/aristath/storyflow/internal/worker"
)

// Conflict is a file path touched by two or more stories' successful
// results within one batch.
type Conflict struct {
	File     string
	StoryIDs []string // Contributing stories, sorted
}

// Outcome is the result of one merge attempt.
type Outcome struct {
	Conflict  Conflict
	Resolved  bool
	Reasoning string // Merge worker's explanation, if any
	Err       string // Failure reason when not resolved
}

// DetectConflicts returns the files listed by at least two successful
// results, in sorted file order.
func DetectConflicts(results []worker.Result) []Conflict {
	byFile := make(map[string][]string)
	for _, res := range results {
		if !res.Succeeded() {
			continue
		}
		for _, f := range res.FilesModified {
			byFile[f] = append(byFile[f], res.StoryID)
		}
	}

	var conflicts []Conflict
	for file, ids := range byFile {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		conflicts = append(conflicts, Conflict{File: file, StoryIDs: ids})
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].File < conflicts[j].File })
	return conflicts
}

// DefaultTimeout is the merge worker deadline. Merges get one attempt, no
// retry; failure falls back to sequential re-execution upstream.
const DefaultTimeout = 5 * time.Minute

// Resolver invokes the merge worker for each conflict.
type Resolver struct {
	Command worker.CommandSpec
	Repo    *gitx.Repo
	Timeout time.Duration
	Grace   time.Duration
	PM      *worker.ProcessManager
	Bus     *events.Bus
}

// mergeResult mirrors the merge worker wire protocol.
type mergeResult struct {
	Status        string `json:"status"`
	MergedContent string `json:"mergedContent"`
	Error         string `json:"error"`
	Reasoning     string `json:"reasoning"`
}

var mergeBlockRe = regexp.MustCompile(`(?s)<merge_result>\s*(\{.*?\})\s*</merge_result>`)

// Resolve attempts each conflict in order and partitions the outcomes.
// A resolved conflict has its merged content written to disk; a failed one
// carries the reason and the contributing story IDs for the fallback path.
func (r *Resolver) Resolve(ctx context.Context, conflicts []Conflict) (resolved, failed []Outcome) {
	for _, c := range conflicts {
		out := r.resolveOne(ctx, c)
		r.Bus.Publish(events.MergeFinished{
			File:      c.File,
			Resolved:  out.Resolved,
			Reason:    out.Err,
			Timestamp: time.Now(),
		})
		if out.Resolved {
			resolved = append(resolved, out)
		} else {
			failed = append(failed, out)
		}
	}
	return resolved, failed
}

func (r *Resolver) resolveOne(ctx context.Context, c Conflict) Outcome {
	out := Outcome{Conflict: c}

	base, err := r.Repo.ShowFile("HEAD", c.File)
	if err != nil {
		out.Err = fmt.Sprintf("reading merge base: %v", err)
		return out
	}

	currentBytes, err := os.ReadFile(filepath.Join(r.Repo.Root, c.File))
	if err != nil {
		out.Err = fmt.Sprintf("reading current version: %v", err)
		return out
	}

	prompt := buildMergePrompt(c, base, string(currentBytes))

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	spec, cleanup, err := r.Command.Build(prompt, r.Repo.Root, timeout, r.Grace)
	if err != nil {
		out.Err = fmt.Sprintf("preparing merge worker: %v", err)
		return out
	}
	defer cleanup()

	procOut, err := worker.Supervise(ctx, spec, r.PM)
	if err != nil {
		out.Err = fmt.Sprintf("merge worker: %v", err)
		return out
	}

	m := mergeBlockRe.FindSubmatch(procOut.Stdout)
	if m == nil {
		out.Err = "merge worker output missing <merge_result> block"
		return out
	}

	var mr mergeResult
	if err := json.Unmarshal(m[1], &mr); err != nil {
		out.Err = fmt.Sprintf("parsing merge result: %v", err)
		return out
	}
	out.Reasoning = mr.Reasoning

	if mr.Status != "success" || mr.MergedContent == "" {
		if mr.Error != "" {
			out.Err = mr.Error
		} else {
			out.Err = fmt.Sprintf("merge worker returned status %q with no content", mr.Status)
		}
		return out
	}

	if err := os.WriteFile(filepath.Join(r.Repo.Root, c.File), []byte(mr.MergedContent), 0644); err != nil {
		out.Err = fmt.Sprintf("writing merged file: %v", err)
		return out
	}

	log.Printf("merged %s across stories %s", c.File, strings.Join(c.StoryIDs, ", "))
	out.Resolved = true
	return out
}

func buildMergePrompt(c Conflict, base, current string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Two or more concurrently executed stories modified %s.\n", c.File)
	fmt.Fprintf(&b, "Contributing stories: %s\n\n", strings.Join(c.StoryIDs, ", "))
	b.WriteString("Reconcile the changes into one coherent file version.\n\n")
	fmt.Fprintf(&b, "=== BASE (version before this batch) ===\n%s\n\n", base)
	fmt.Fprintf(&b, "=== CURRENT (on-disk version after concurrent edits) ===\n%s\n\n", current)
	b.WriteString(`Respond with a result block:
<merge_result>{"status":"success|failed","mergedContent":"...","error":"","reasoning":"..."}</merge_result>`)
	return b.String()
}
