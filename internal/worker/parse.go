package worker

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/aristath/storyflow/internal/plan"
)

// resultBlockRe matches the delimited structured result block in worker
// stdout, ignoring any narrative text around it.
var resultBlockRe = regexp.MustCompile(`(?s)<result>\s*(\{.*?\})\s*</result>`)

// filePhraseRe matches heuristic fallback phrases like
// "Created file: src/auth.ts" or "Modified file src/db.go".
var filePhraseRe = regexp.MustCompile(`(?i)\b(?:created|modified|updated)\s+file:?\s+([A-Za-z0-9_./-]+\.[A-Za-z0-9]+)`)

// structuredResult mirrors the worker result protocol wire format.
type structuredResult struct {
	StoryID            string   `json:"storyId"`
	Status             string   `json:"status"`
	FilesModified      []string `json:"filesModified"`
	PotentialConflicts []string `json:"potentialConflicts"`
	Error              string   `json:"error"`
	Duration           float64  `json:"duration"` // Seconds, worker-reported
}

// ParseResult extracts a Result from worker stdout. It prefers the
// delimited JSON block; if that is absent or malformed it falls back to
// heuristic extraction of file phrases and path references, defaulting the
// status to success since the process exited zero.
func ParseResult(storyID string, stdout []byte) Result {
	raw := string(stdout)

	if m := resultBlockRe.FindSubmatch(stdout); m != nil {
		var sr structuredResult
		if err := json.Unmarshal(m[1], &sr); err == nil {
			res := Result{
				StoryID:            storyID,
				Status:             StatusSuccess,
				FilesModified:      sr.FilesModified,
				PotentialConflicts: sr.PotentialConflicts,
				Err:                sr.Error,
				Duration:           time.Duration(sr.Duration * float64(time.Second)),
				RawOutput:          raw,
			}
			if sr.Status == string(StatusFailed) {
				res.Status = StatusFailed
				if res.Err == "" {
					res.Err = fmt.Sprintf("worker reported status %q", sr.Status)
				}
			}
			return res
		}
	}

	// Fallback: mine the narrative output for file references.
	var files []string
	seen := make(map[string]bool)
	for _, m := range filePhraseRe.FindAllStringSubmatch(raw, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			files = append(files, m[1])
		}
	}
	for _, p := range plan.ExtractFilePaths(raw) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	return Result{
		StoryID:       storyID,
		Status:        StatusSuccess,
		FilesModified: files,
		RawOutput:     raw,
	}
}
