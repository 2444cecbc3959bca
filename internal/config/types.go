package config

import (
	"fmt"

	"github.com/aristath/storyflow/internal/worker"
)

// WorkerConfig defines how a worker process is invoked. The invocation
// style is an explicit closed choice, never inferred from the command
// string.
type WorkerConfig struct {
	Command    string   `json:"command"`              // CLI binary name
	Args       []string `json:"args,omitempty"`       // Args prepended to every invocation
	Invocation string   `json:"invocation,omitempty"` // "arg" (default), "stdin", or "file"
}

// CommandSpec converts the config entry to a worker.CommandSpec.
func (w WorkerConfig) CommandSpec() (worker.CommandSpec, error) {
	inv, err := worker.ParseInvocation(w.Invocation)
	if err != nil {
		return worker.CommandSpec{}, err
	}
	if w.Command == "" {
		return worker.CommandSpec{}, fmt.Errorf("worker command must not be empty")
	}
	return worker.CommandSpec{
		Command:    w.Command,
		Args:       append([]string(nil), w.Args...),
		Invocation: inv,
	}, nil
}

// Config is the top-level configuration.
type Config struct {
	Worker      WorkerConfig `json:"worker"`
	MergeWorker WorkerConfig `json:"merge_worker"`

	MaxConcurrency      int `json:"max_concurrency"`
	TimeoutMinutes      int `json:"timeout_minutes"`
	MaxRetries          int `json:"max_retries"`
	RetryDelaySeconds   int `json:"retry_delay_seconds"`
	MergeTimeoutMinutes int `json:"merge_timeout_minutes"`
	MaxIterations       int `json:"max_iterations"` // 0 = no cap

	PromptTemplate string   `json:"prompt_template,omitempty"`
	ContextPaths   []string `json:"context_paths,omitempty"`

	ProgressLogPath string `json:"progress_log_path"`
	ErrorLogPath    string `json:"error_log_path"`
	HistoryDBPath   string `json:"history_db_path"`
}

// Validate checks the config for values the pipeline cannot work with.
func (c *Config) Validate() error {
	if _, err := c.Worker.CommandSpec(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	if _, err := c.MergeWorker.CommandSpec(); err != nil {
		return fmt.Errorf("merge_worker: %w", err)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}
