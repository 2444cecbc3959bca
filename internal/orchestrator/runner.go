// Package orchestrator composes the pipeline analyze -> batch -> execute ->
// detect-conflicts -> merge-or-fallback -> commit across all batches of a
// planning document.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/storyflow/internal/commit"
	"github.com/aristath/storyflow/internal/config"
	"github.com/aristath/storyflow/internal/events"
	"github.com/aristath/storyflow/internal/gitx"
	"github.com/aristath/storyflow/internal/history"
	"github.com/aristath/storyflow/internal/merge"
	"github.com/aristath/storyflow/internal/plan"
	"github.com/aristath/storyflow/internal/worker"
)

// FailureKind distinguishes where in the pipeline a story was lost.
type FailureKind string

const (
	FailureExecution FailureKind = "execution"
	FailureMerge     FailureKind = "merge"
	FailureCommit    FailureKind = "commit"
)

// Failure is one story-level failure surfaced in the run report.
type Failure struct {
	StoryID           string
	Kind              FailureKind
	Err               string
	FallbackAttempted bool
}

// BatchReport summarizes one executed batch.
type BatchReport struct {
	Index       int
	StoryIDs    []string
	Conflicts   []merge.Conflict
	FallbackIDs []string // Stories re-executed sequentially after merge failure
	Duration    time.Duration
}

// RunStatus is the aggregate outcome of a run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// RunReport aggregates everything a run produced.
type RunReport struct {
	RunID      string
	SpecPath   string
	Status     RunStatus
	Batches    []BatchReport
	Commits    []commit.Record
	Failures   []Failure
	Skipped    []string
	Truncated  bool // Max-iteration cap stopped the run early
	StartedAt  time.Time
	FinishedAt time.Time
}

// executor runs one batch of stories. Production uses *worker.Pool; tests
// substitute a fake.
type executor interface {
	ExecuteParallel(ctx context.Context, stories []*plan.Story) []worker.Result
}

// resolver reconciles a batch's conflicts. Production uses *merge.Resolver.
type resolver interface {
	Resolve(ctx context.Context, conflicts []merge.Conflict) (resolved, failed []merge.Outcome)
}

// Runner drives a full orchestration run.
type Runner struct {
	cfg      *config.Config
	specPath string
	repo     *gitx.Repo
	pm       *worker.ProcessManager
	bus      *events.Bus
	store    *history.Store // nil disables run history
	noCommit bool

	// Injection points for tests.
	newExecutor func(opts worker.Options) executor
	resolver    resolver
	commitFn    func([]worker.Result, map[string]*plan.Story, commit.Options) commit.Outcome
}

// New creates a Runner. bus and store may be nil.
func New(cfg *config.Config, specPath, repoRoot string, pm *worker.ProcessManager, bus *events.Bus, store *history.Store, noCommit bool) *Runner {
	repo := gitx.New(repoRoot)
	errLog := worker.NewErrorLog(cfg.ErrorLogPath)

	r := &Runner{
		cfg:      cfg,
		specPath: specPath,
		repo:     repo,
		pm:       pm,
		bus:      bus,
		store:    store,
		noCommit: noCommit,
		commitFn: commit.CommitStories,
	}
	r.newExecutor = func(opts worker.Options) executor {
		return worker.NewPool(opts, pm, errLog, bus)
	}
	return r
}

// Run executes the whole pipeline. Structural errors (ParseError,
// CycleError) abort the run; story-level failures are aggregated in the
// report.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.NewString(),
		SpecPath:  r.specPath,
		StartedAt: time.Now(),
	}

	if r.store != nil {
		if err := r.store.CreateRun(ctx, report.RunID, r.specPath, report.StartedAt); err != nil {
			log.Printf("WARNING: failed to record run in history: %v", err)
		}
	}

	// Analyzing
	data, err := os.ReadFile(r.specPath)
	if err != nil {
		return nil, fmt.Errorf("reading planning document: %w", err)
	}
	stories, err := plan.ParseDocument(string(data))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*plan.Story, len(stories))
	for _, s := range stories {
		byID[s.ID] = s
	}

	// Batching
	graph := plan.BuildGraph(stories)
	batches, err := plan.Batches(graph, stories)
	if err != nil {
		return nil, err
	}
	log.Printf("planned %d batch(es) across %d stories", len(batches), len(stories))

	remaining := r.cfg.MaxIterations
	capped := remaining > 0

	for i, batchIDs := range batches {
		if err := ctx.Err(); err != nil {
			r.finish(ctx, report)
			return report, err
		}

		if capped {
			if remaining <= 0 {
				report.Truncated = true
				break
			}
			if len(batchIDs) > remaining {
				batchIDs = batchIDs[:remaining]
				report.Truncated = true
			}
			remaining -= len(batchIDs)
		}

		br := r.runBatch(ctx, i, batchIDs, byID, report)
		report.Batches = append(report.Batches, br)

		if report.Truncated {
			log.Printf("max-iteration cap reached, stopping after batch %d", i+1)
			break
		}
	}

	r.finish(ctx, report)
	return report, nil
}

// runBatch executes one batch end to end: execute, detect conflicts, merge
// or fall back, then commit.
func (r *Runner) runBatch(ctx context.Context, index int, batchIDs []string, byID map[string]*plan.Story, report *RunReport) BatchReport {
	started := time.Now()
	br := BatchReport{Index: index, StoryIDs: batchIDs}

	batchStories := make([]*plan.Story, 0, len(batchIDs))
	for _, id := range batchIDs {
		batchStories = append(batchStories, byID[id])
	}

	r.bus.Publish(events.BatchStarted{Index: index, StoryIDs: batchIDs, Timestamp: time.Now()})

	// Executing
	results := r.newExecutor(r.workerOptions(r.cfg.MaxConcurrency, uint64(r.cfg.MaxRetries))).
		ExecuteParallel(ctx, batchStories)

	// ConflictChecking
	conflicts := merge.DetectConflicts(results)
	br.Conflicts = conflicts
	for _, c := range conflicts {
		log.Printf("WARNING: conflict on %s between %v", c.File, c.StoryIDs)
		r.bus.Publish(events.ConflictDetected{File: c.File, StoryIDs: c.StoryIDs, Timestamp: time.Now()})
	}

	// Merging, with sequential fallback for unresolved conflicts
	mergeErrs := make(map[string]string) // storyID -> merge failure reason
	if len(conflicts) > 0 {
		_, failed := r.mergeResolver().Resolve(ctx, conflicts)
		if len(failed) > 0 {
			fallbackIDs := fallbackStories(failed)
			br.FallbackIDs = fallbackIDs
			for _, out := range failed {
				for _, id := range out.Conflict.StoryIDs {
					if _, ok := mergeErrs[id]; !ok {
						mergeErrs[id] = out.Err
					}
				}
			}

			log.Printf("WARNING: %d conflict(s) unresolved, re-executing %v sequentially", len(failed), fallbackIDs)
			fallback := make([]*plan.Story, 0, len(fallbackIDs))
			for _, id := range fallbackIDs {
				fallback = append(fallback, byID[id])
			}
			// Ordered single-worker execution cannot race on the same file.
			requeued := r.newExecutor(r.workerOptions(1, 0)).ExecuteParallel(ctx, fallback)
			results = spliceResults(results, requeued)
		}
	}

	r.persistResults(ctx, report.RunID, index, results)

	// Committing
	outcome := r.commitFn(results, byID, commit.Options{
		SpecPath: r.specPath,
		Repo:     r.repo,
		Progress: commit.NewProgressLog(r.cfg.ProgressLogPath),
		NoCommit: r.noCommit,
		Bus:      r.bus,
	})

	report.Commits = append(report.Commits, outcome.Committed...)
	report.Skipped = append(report.Skipped, outcome.Skipped...)
	r.persistCommits(ctx, report.RunID, outcome.Committed)

	for _, f := range outcome.Failed {
		report.Failures = append(report.Failures, Failure{StoryID: f.StoryID, Kind: FailureCommit, Err: f.Err})
	}
	for _, res := range results {
		if res.Succeeded() {
			continue
		}
		if reason, wasMerge := mergeErrs[res.StoryID]; wasMerge {
			report.Failures = append(report.Failures, Failure{
				StoryID:           res.StoryID,
				Kind:              FailureMerge,
				Err:               fmt.Sprintf("merge failed (%s); sequential re-execution failed: %s", reason, res.Err),
				FallbackAttempted: true,
			})
			continue
		}
		report.Failures = append(report.Failures, Failure{StoryID: res.StoryID, Kind: FailureExecution, Err: res.Err})
	}

	br.Duration = time.Since(started)
	r.bus.Publish(events.BatchFinished{Index: index, Duration: br.Duration, Timestamp: time.Now()})
	return br
}

func (r *Runner) workerOptions(concurrency int, retries uint64) worker.Options {
	spec, _ := r.cfg.Worker.CommandSpec() // Validated at config load
	return worker.Options{
		Command:        spec,
		WorkDir:        r.repo.Root,
		MaxConcurrency: concurrency,
		Timeout:        time.Duration(r.cfg.TimeoutMinutes) * time.Minute,
		MaxRetries:     retries,
		RetryDelay:     time.Duration(r.cfg.RetryDelaySeconds) * time.Second,
		PromptTemplate: r.cfg.PromptTemplate,
		ContextPaths:   r.cfg.ContextPaths,
	}
}

func (r *Runner) mergeResolver() resolver {
	if r.resolver != nil {
		return r.resolver
	}
	spec, _ := r.cfg.MergeWorker.CommandSpec()
	return &merge.Resolver{
		Command: spec,
		Repo:    r.repo,
		Timeout: time.Duration(r.cfg.MergeTimeoutMinutes) * time.Minute,
		PM:      r.pm,
		Bus:     r.bus,
	}
}

// finish computes the aggregate status and closes out the run record.
func (r *Runner) finish(ctx context.Context, report *RunReport) {
	report.FinishedAt = time.Now()
	switch {
	case len(report.Failures) == 0:
		report.Status = RunSuccess
	case len(report.Commits) > 0:
		report.Status = RunPartial
	default:
		report.Status = RunFailed
	}

	r.bus.Publish(events.RunFinished{
		Status:    string(report.Status),
		Commits:   len(report.Commits),
		Failures:  len(report.Failures),
		Timestamp: time.Now(),
	})

	if r.store != nil {
		if err := r.store.FinishRun(ctx, report.RunID, string(report.Status), report.FinishedAt); err != nil {
			log.Printf("WARNING: failed to finalize run history: %v", err)
		}
	}
}

func (r *Runner) persistResults(ctx context.Context, runID string, batchIndex int, results []worker.Result) {
	if r.store == nil {
		return
	}
	for _, res := range results {
		rec := history.ResultRecord{
			RunID:      runID,
			BatchIndex: batchIndex,
			StoryID:    res.StoryID,
			Status:     string(res.Status),
			Files:      res.FilesModified,
			Error:      res.Err,
			DurationMS: res.Duration.Milliseconds(),
			Attempts:   res.Attempts,
		}
		if err := r.store.SaveResult(ctx, rec); err != nil {
			log.Printf("WARNING: failed to persist result for %s: %v", res.StoryID, err)
		}
	}
}

func (r *Runner) persistCommits(ctx context.Context, runID string, records []commit.Record) {
	if r.store == nil {
		return
	}
	for _, rec := range records {
		c := history.CommitRecord{
			RunID:   runID,
			StoryID: rec.StoryID,
			Hash:    rec.Hash,
			Subject: rec.Subject,
			Files:   rec.FilesModified,
		}
		if err := r.store.SaveCommit(ctx, c); err != nil {
			log.Printf("WARNING: failed to persist commit for %s: %v", rec.StoryID, err)
		}
	}
}

// fallbackStories collects the union of contributing story IDs across the
// failed merge outcomes, preserving first-seen order.
func fallbackStories(failed []merge.Outcome) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, out := range failed {
		for _, id := range out.Conflict.StoryIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// spliceResults replaces original results with their re-executed
// counterparts, matching by story ID.
func spliceResults(original, requeued []worker.Result) []worker.Result {
	replacement := make(map[string]worker.Result, len(requeued))
	for _, res := range requeued {
		replacement[res.StoryID] = res
	}
	out := make([]worker.Result, len(original))
	for i, res := range original {
		if repl, ok := replacement[res.StoryID]; ok {
			out[i] = repl
		} else {
			out[i] = res
		}
	}
	return out
}
