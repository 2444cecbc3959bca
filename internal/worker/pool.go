package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/storyflow/internal/events"
	"github.com/aristath/storyflow/internal/plan"
)

// Pool executes stories concurrently as isolated worker processes under a
// concurrency cap. Scheduling is a sliding window: as soon as one worker
// exits, the next queued story starts.
type Pool struct {
	opts     Options
	pm       *ProcessManager
	breakers *BreakerRegistry
	errLog   *ErrorLog
	bus      *events.Bus
}

// NewPool creates a pool. errLog and bus may be nil.
func NewPool(opts Options, pm *ProcessManager, errLog *ErrorLog, bus *events.Bus) *Pool {
	return &Pool{
		opts:     opts.withDefaults(),
		pm:       pm,
		breakers: NewBreakerRegistry(),
		errLog:   errLog,
		bus:      bus,
	}
}

// ExecuteParallel runs all stories and returns one Result per story, in
// input order. Per-story failures are recorded in the results, never
// returned as an error; only full-run cancellation surfaces through ctx.
func (p *Pool) ExecuteParallel(ctx context.Context, stories []*plan.Story) []Result {
	results := make([]Result, len(stories))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxConcurrency)

	for i, story := range stories {
		g.Go(func() error {
			results[i] = p.executeStory(gctx, story)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// executeStory runs one story with the configured retry policy and records
// exhausted failures in the error log.
func (p *Pool) executeStory(ctx context.Context, story *plan.Story) Result {
	prompt := RenderPrompt(p.opts.PromptTemplate, story.ID, story.Title, story.Content, p.opts.ContextPaths)
	cb := p.breakers.Get(p.opts.Command.Command)

	var last Result
	attempt := 0

	op := func() error {
		attempt++
		p.bus.Publish(events.StoryStarted{StoryID: story.ID, Attempt: attempt, Timestamp: time.Now()})

		res, err := p.runAttempt(ctx, story.ID, prompt, cb)
		res.Attempts = attempt
		last = res

		if err != nil {
			log.Printf("WARNING: story %s attempt %d failed: %v", story.ID, attempt, err)
		}
		return err
	}

	if err := retryAttempts(ctx, p.opts.MaxRetries, p.opts.RetryDelay, op); err != nil {
		last.StoryID = story.ID
		last.Status = StatusFailed
		if last.Err == "" {
			last.Err = err.Error()
		}
		retries := attempt - 1
		if retries < 0 {
			retries = 0
		}
		if logErr := p.errLog.Append(story.ID, last.Err, retries); logErr != nil {
			log.Printf("ERROR: failed to append error log for %s: %v", story.ID, logErr)
		}
		log.Printf("ERROR: story %s failed after %d attempt(s): %s", story.ID, attempt, last.Err)
	}

	p.bus.Publish(events.StoryFinished{
		StoryID:   story.ID,
		Success:   last.Succeeded(),
		Files:     last.FilesModified,
		Duration:  last.Duration,
		Err:       last.Err,
		Timestamp: time.Now(),
	})
	return last
}

// runAttempt performs a single supervised execution and result parse.
func (p *Pool) runAttempt(ctx context.Context, storyID, prompt string, cb breaker) (Result, error) {
	spec, cleanup, err := p.opts.Command.Build(prompt, p.opts.WorkDir, p.opts.Timeout, p.opts.Grace)
	if err != nil {
		return Result{StoryID: storyID, Status: StatusFailed, Err: err.Error()}, err
	}
	defer cleanup()

	outAny, err := cb.Execute(func() (interface{}, error) {
		return Supervise(ctx, spec, p.pm)
	})

	var out Output
	if o, ok := outAny.(Output); ok {
		out = o
	}

	if err != nil {
		return Result{
			StoryID:   storyID,
			Status:    StatusFailed,
			Err:       err.Error(),
			Duration:  out.Duration,
			RawOutput: string(out.Stdout),
		}, err
	}

	res := ParseResult(storyID, out.Stdout)
	if res.Duration == 0 {
		res.Duration = out.Duration
	}
	if res.Status == StatusFailed {
		return res, &Error{Kind: KindResult, StoryID: storyID, Err: errors.New(res.Err)}
	}
	return res, nil
}

// breaker is the subset of gobreaker.CircuitBreaker the pool uses; tests
// substitute a pass-through implementation.
type breaker interface {
	Execute(req func() (interface{}, error)) (interface{}, error)
}
