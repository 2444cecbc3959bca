package events

import (
	"time"
)

// Topic constants. Every event belongs to exactly one topic.
const (
	TopicStory  = "story"
	TopicBatch  = "batch"
	TopicMerge  = "merge"
	TopicCommit = "commit"
	TopicRun    = "run"
)

// Event is the base interface for all events published on the bus.
type Event interface {
	Topic() string
}

// StoryStarted is published when a worker process begins an attempt.
type StoryStarted struct {
	StoryID   string
	Attempt   int // 1-based
	Timestamp time.Time
}

func (StoryStarted) Topic() string { return TopicStory }

// StoryFinished is published when a story's final attempt completes.
type StoryFinished struct {
	StoryID   string
	Success   bool
	Files     []string
	Duration  time.Duration
	Err       string
	Timestamp time.Time
}

func (StoryFinished) Topic() string { return TopicStory }

// BatchStarted is published when the orchestrator begins executing a batch.
type BatchStarted struct {
	Index     int // 0-based batch index
	StoryIDs  []string
	Timestamp time.Time
}

func (BatchStarted) Topic() string { return TopicBatch }

// BatchFinished is published after a batch's commit phase completes.
type BatchFinished struct {
	Index     int
	Duration  time.Duration
	Timestamp time.Time
}

func (BatchFinished) Topic() string { return TopicBatch }

// ConflictDetected is published for each file touched by two or more
// successful results within one batch.
type ConflictDetected struct {
	File      string
	StoryIDs  []string
	Timestamp time.Time
}

func (ConflictDetected) Topic() string { return TopicMerge }

// MergeFinished is published after the merge worker runs for one conflict.
type MergeFinished struct {
	File      string
	Resolved  bool
	Reason    string
	Timestamp time.Time
}

func (MergeFinished) Topic() string { return TopicMerge }

// CommitCreated is published after a story's commit (or dry-run record).
type CommitCreated struct {
	StoryID   string
	Hash      string
	Subject   string
	Timestamp time.Time
}

func (CommitCreated) Topic() string { return TopicCommit }

// RunFinished is published once at the end of a run.
type RunFinished struct {
	Status    string // "success", "partial", or "failed"
	Commits   int
	Failures  int
	Timestamp time.Time
}

func (RunFinished) Topic() string { return TopicRun }
