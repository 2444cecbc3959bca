// Package commit stages and commits each successful story's files one at a
// time, in deterministic story-ID order, and keeps the planning document
// and progress log in step with version control.
package commit

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aristath/storyflow/internal/events"
	"github.com/aristath/storyflow/internal/gitx"
	"github.com/aristath/storyflow/internal/plan"
	"github.com/aristath/storyflow/internal/worker"
)

// DryRunHash is the placeholder hash recorded when NoCommit is set.
const DryRunHash = "dry-run"

// errNothingToCommit signals that staging the story's files produced no
// change against HEAD.
var errNothingToCommit = errors.New("no staged changes")

// Record describes one created commit (or dry-run placeholder).
type Record struct {
	StoryID       string
	Hash          string
	Subject       string
	FilesModified []string
}

// Failure describes one story whose staging or commit failed. It never
// blocks subsequent stories.
type Failure struct {
	StoryID string
	Err     string
}

// Outcome aggregates the commit phase for one batch.
type Outcome struct {
	Committed []Record
	Failed    []Failure
	Skipped   []string // Stories with empty FilesModified -- benign, not failures
}

// Options configures the committer.
type Options struct {
	SpecPath string // Planning document path, updated after each commit
	Repo     *gitx.Repo
	Progress *ProgressLog // Optional append-only progress log
	NoCommit bool         // Dry run: update the document, skip version control
	Bus      *events.Bus
}

// CommitStories commits the successful results in ascending numeric
// story-ID order, guaranteeing reproducible history regardless of
// execution race order. stories maps ID to the parsed story.
func CommitStories(results []worker.Result, stories map[string]*plan.Story, opts Options) Outcome {
	var successes []worker.Result
	for _, res := range results {
		if res.Succeeded() {
			successes = append(successes, res)
		}
	}

	sort.Slice(successes, func(i, j int) bool {
		a, b := stories[successes[i].StoryID], stories[successes[j].StoryID]
		if a != nil && b != nil && a.NumericSuffix() != b.NumericSuffix() {
			return a.NumericSuffix() < b.NumericSuffix()
		}
		return successes[i].StoryID < successes[j].StoryID
	})

	var out Outcome
	for _, res := range successes {
		story := stories[res.StoryID]
		if story == nil {
			out.Failed = append(out.Failed, Failure{StoryID: res.StoryID, Err: "result references unknown story"})
			continue
		}

		if len(res.FilesModified) == 0 {
			log.Printf("story %s modified no files, skipping commit", res.StoryID)
			out.Skipped = append(out.Skipped, res.StoryID)
			continue
		}

		rec, err := commitOne(res, story, opts)
		if errors.Is(err, errNothingToCommit) {
			// An earlier sibling's commit (or a resolved merge) already
			// carried this story's changes.
			log.Printf("story %s left no staged changes, skipping commit", res.StoryID)
			out.Skipped = append(out.Skipped, res.StoryID)
			continue
		}
		if err != nil {
			log.Printf("ERROR: commit failed for %s: %v", res.StoryID, err)
			out.Failed = append(out.Failed, Failure{StoryID: res.StoryID, Err: err.Error()})
			continue
		}

		story.Status = plan.StoryDone
		out.Committed = append(out.Committed, rec)
		opts.Bus.Publish(events.CommitCreated{
			StoryID:   rec.StoryID,
			Hash:      rec.Hash,
			Subject:   rec.Subject,
			Timestamp: time.Now(),
		})
	}

	return out
}

func commitOne(res worker.Result, story *plan.Story, opts Options) (Record, error) {
	subject := fmt.Sprintf("feat(%s): %s", story.ID, story.Title)
	rec := Record{
		StoryID:       story.ID,
		Subject:       subject,
		FilesModified: append([]string(nil), res.FilesModified...),
	}

	if opts.NoCommit {
		rec.Hash = DryRunHash
	} else {
		if err := opts.Repo.StageFiles(res.FilesModified); err != nil {
			return Record{}, fmt.Errorf("staging files: %w", err)
		}
		staged, err := opts.Repo.StagedFiles()
		if err != nil {
			return Record{}, fmt.Errorf("inspecting staged changes: %w", err)
		}
		if len(staged) == 0 {
			return Record{}, errNothingToCommit
		}
		hash, err := opts.Repo.Commit(subject)
		if err != nil {
			return Record{}, fmt.Errorf("creating commit: %w", err)
		}
		rec.Hash = hash
	}

	if err := updateDocument(opts.SpecPath, story.ID, res.RawOutput); err != nil {
		// The commit exists; a document update failure is logged but does
		// not undo it.
		log.Printf("WARNING: failed to update planning document for %s: %v", story.ID, err)
	}

	if err := opts.Progress.Append(Entry{
		Timestamp: time.Now().UTC(),
		StoryID:   story.ID,
		Title:     story.Title,
		Hash:      rec.Hash,
		Subject:   subject,
		Files:     rec.FilesModified,
	}); err != nil {
		log.Printf("WARNING: failed to append progress log for %s: %v", story.ID, err)
	}

	return rec, nil
}

// updateDocument flips the story's checkbox and any acceptance criteria
// whose text appears literally in the worker output.
func updateDocument(specPath, storyID, rawOutput string) error {
	data, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("reading planning document: %w", err)
	}

	doc, found := plan.MarkStoryDone(string(data), storyID)
	if !found {
		return fmt.Errorf("story heading %s not found in %s", storyID, specPath)
	}

	doc, _ = plan.MarkCriteriaDone(doc, storyID, func(text string) bool {
		return rawOutput != "" && strings.Contains(rawOutput, text)
	})

	if err := os.WriteFile(specPath, []byte(doc), 0644); err != nil {
		return fmt.Errorf("writing planning document: %w", err)
	}
	return nil
}
