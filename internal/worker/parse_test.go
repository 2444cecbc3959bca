package worker

import (
	"reflect"
	"testing"
	"time"
)

func TestParseResultStructured(t *testing.T) {
	stdout := []byte(`I analyzed the story and made the changes.

Along the way I also looked at src/unrelated/noise.ts but left it alone.

<result>{"storyId":"US-001","status":"success","filesModified":["src/auth/login.ts","src/auth/session.ts"],"potentialConflicts":["src/auth/session.ts"],"error":"","duration":12.5}</result>

Done.`)

	res := ParseResult("US-001", stdout)

	if res.Status != StatusSuccess {
		t.Fatalf("got status %s, want success", res.Status)
	}
	wantFiles := []string{"src/auth/login.ts", "src/auth/session.ts"}
	if !reflect.DeepEqual(res.FilesModified, wantFiles) {
		t.Errorf("files = %v, want %v (narrative paths must be ignored)", res.FilesModified, wantFiles)
	}
	if !reflect.DeepEqual(res.PotentialConflicts, []string{"src/auth/session.ts"}) {
		t.Errorf("conflicts = %v", res.PotentialConflicts)
	}
	if res.Duration != 12500*time.Millisecond {
		t.Errorf("duration = %s, want 12.5s", res.Duration)
	}
}

func TestParseResultStructuredFailure(t *testing.T) {
	stdout := []byte(`<result>{"storyId":"US-002","status":"failed","filesModified":[],"error":"could not satisfy acceptance criteria"}</result>`)

	res := ParseResult("US-002", stdout)

	if res.Status != StatusFailed {
		t.Fatalf("got status %s, want failed", res.Status)
	}
	if res.Err != "could not satisfy acceptance criteria" {
		t.Errorf("err = %q", res.Err)
	}
}

func TestParseResultFallback(t *testing.T) {
	tests := []struct {
		name      string
		stdout    string
		wantFiles []string
	}{
		{
			name:      "file phrases",
			stdout:    "Created file: src/auth/login.ts\nModified file src/db.go\n",
			wantFiles: []string{"src/auth/login.ts", "src/db.go"},
		},
		{
			name:      "bare paths",
			stdout:    "All changes are in src/components/Button.tsx now.",
			wantFiles: []string{"src/components/Button.tsx"},
		},
		{
			name:      "no recognizable paths",
			stdout:    "Everything went fine.",
			wantFiles: nil,
		},
		{
			name:      "malformed result block falls back",
			stdout:    "<result>{not json}</result>\nUpdated file: src/a.go",
			wantFiles: []string{"src/a.go"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseResult("US-003", []byte(tt.stdout))
			if res.Status != StatusSuccess {
				t.Errorf("fallback status = %s, want success", res.Status)
			}
			if !reflect.DeepEqual(res.FilesModified, tt.wantFiles) {
				t.Errorf("files = %v, want %v", res.FilesModified, tt.wantFiles)
			}
		})
	}
}
