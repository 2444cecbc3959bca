package worker

import (
	"fmt"
	"time"
)

// Status is the outcome a worker reports for a story.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result is the outcome of one story's execution. Produced once per
// attempt; a retry or sequential-fallback re-execution supersedes the
// previous result for the same story.
type Result struct {
	StoryID            string
	Status             Status
	FilesModified      []string
	PotentialConflicts []string
	Err                string        // Failure reason, empty on success
	Duration           time.Duration // Wall time of the final attempt
	RawOutput          string        // Full stdout of the final attempt
	Attempts           int           // Total attempts made (1 = no retry)
}

// Succeeded reports whether the result's final attempt succeeded.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// ErrKind classifies worker failures. A timed-out attempt is a distinct
// failure kind from a non-zero exit.
type ErrKind int

const (
	KindSpawn   ErrKind = iota // Process could not be started
	KindExit                   // Process exited non-zero
	KindTimeout                // Process exceeded its deadline and was killed
	KindResult                 // Process exited zero but reported status "failed"
)

func (k ErrKind) String() string {
	switch k {
	case KindSpawn:
		return "spawn"
	case KindExit:
		return "exit"
	case KindTimeout:
		return "timeout"
	case KindResult:
		return "result"
	default:
		return "unknown"
	}
}

// Error is a classified worker failure.
type Error struct {
	Kind    ErrKind
	StoryID string
	Err     error
}

func (e *Error) Error() string {
	if e.StoryID != "" {
		return fmt.Sprintf("worker %s failure for %s: %v", e.Kind, e.StoryID, e.Err)
	}
	return fmt.Sprintf("worker %s failure: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures a worker pool.
type Options struct {
	Command        CommandSpec   // How to invoke the worker process
	WorkDir        string        // Working directory for worker processes
	MaxConcurrency int           // Sliding-window size (default 4)
	Timeout        time.Duration // Per-attempt deadline (default 30m)
	Grace          time.Duration // SIGTERM-to-SIGKILL window (default 10s)
	MaxRetries     uint64        // Retries after the first attempt (0 = single attempt)
	RetryDelay     time.Duration // Fixed delay between attempts (default 2s)
	PromptTemplate string        // Rendered per story, see RenderPrompt
	ContextPaths   []string      // Shared paths substituted into the prompt
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 4
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Minute
	}
	if o.Grace <= 0 {
		o.Grace = 10 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.PromptTemplate == "" {
		o.PromptTemplate = DefaultPromptTemplate
	}
	return o
}
