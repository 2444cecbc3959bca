package config

// Default returns the default configuration. The defaults assume a Claude
// Code style worker CLI, but any command honoring the result protocol
// works.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Command:    "claude",
			Args:       []string{"-p"},
			Invocation: "arg",
		},
		MergeWorker: WorkerConfig{
			Command:    "claude",
			Args:       []string{"-p"},
			Invocation: "arg",
		},
		MaxConcurrency:      4,
		TimeoutMinutes:      30,
		MaxRetries:          1,
		RetryDelaySeconds:   2,
		MergeTimeoutMinutes: 5,
		MaxIterations:       0,
		ProgressLogPath:     "PROGRESS.md",
		ErrorLogPath:        ".storyflow/errors.ndjson",
		HistoryDBPath:       ".storyflow/history.db",
	}
}
