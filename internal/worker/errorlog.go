package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorLog is an append-only JSON-lines log of exhausted-retry failures.
type ErrorLog struct {
	mu   sync.Mutex
	path string
}

// errorLogEntry is one line of the error log.
type errorLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	StoryID    string    `json:"storyId"`
	Message    string    `json:"message"`
	RetryCount int       `json:"retryCount"`
}

// NewErrorLog creates an error log writing to the given path. Parent
// directories are created on first append.
func NewErrorLog(path string) *ErrorLog {
	return &ErrorLog{path: path}
}

// Append records one exhausted failure. Safe to call on a nil log and from
// concurrent workers.
func (l *ErrorLog) Append(storyID, message string, retryCount int) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating error log directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening error log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(errorLogEntry{
		Timestamp:  time.Now().UTC(),
		StoryID:    storyID,
		Message:    message,
		RetryCount: retryCount,
	})
	if err != nil {
		return fmt.Errorf("encoding error log entry: %w", err)
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing error log: %w", err)
	}
	return nil
}
