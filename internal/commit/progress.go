package commit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ProgressLog is the append-only record of completed stories.
type ProgressLog struct {
	mu   sync.Mutex
	path string
}

// Entry is one progress-log record.
type Entry struct {
	Timestamp time.Time
	StoryID   string
	Title     string
	Hash      string
	Subject   string
	Files     []string
}

// NewProgressLog creates a progress log writing to the given path.
func NewProgressLog(path string) *ProgressLog {
	return &ProgressLog{path: path}
}

// Append writes one entry. Safe to call on a nil log.
func (l *ProgressLog) Append(e Entry) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating progress log directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening progress log: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "## %s %s: %s\n", e.Timestamp.Format(time.RFC3339), e.StoryID, e.Title)
	fmt.Fprintf(&b, "- Commit: %s %s\n", shortHash(e.Hash), e.Subject)
	fmt.Fprintf(&b, "- Files: %s\n\n", strings.Join(e.Files, ", "))

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("writing progress log: %w", err)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 7 && h != DryRunHash {
		return h[:7]
	}
	return h
}
