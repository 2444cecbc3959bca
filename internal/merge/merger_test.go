package merge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aristath/storyflow/internal/gitx"
	"github.com/aristath/storyflow/internal/worker"
)

func TestDetectConflicts(t *testing.T) {
	tests := []struct {
		name    string
		results []worker.Result
		want    []Conflict
	}{
		{
			name: "two stories share one file",
			results: []worker.Result{
				{StoryID: "US-002", Status: worker.StatusSuccess, FilesModified: []string{"src/auth.ts", "src/b.ts"}},
				{StoryID: "US-001", Status: worker.StatusSuccess, FilesModified: []string{"src/auth.ts"}},
			},
			want: []Conflict{
				{File: "src/auth.ts", StoryIDs: []string{"US-001", "US-002"}},
			},
		},
		{
			name: "failed results never conflict",
			results: []worker.Result{
				{StoryID: "US-001", Status: worker.StatusSuccess, FilesModified: []string{"src/auth.ts"}},
				{StoryID: "US-002", Status: worker.StatusFailed, FilesModified: []string{"src/auth.ts"}},
			},
			want: nil,
		},
		{
			name: "disjoint files",
			results: []worker.Result{
				{StoryID: "US-001", Status: worker.StatusSuccess, FilesModified: []string{"src/a.ts"}},
				{StoryID: "US-002", Status: worker.StatusSuccess, FilesModified: []string{"src/b.ts"}},
			},
			want: nil,
		},
		{
			name: "multiple conflicts sorted by file",
			results: []worker.Result{
				{StoryID: "US-001", Status: worker.StatusSuccess, FilesModified: []string{"z.go", "a.go"}},
				{StoryID: "US-002", Status: worker.StatusSuccess, FilesModified: []string{"a.go", "z.go"}},
				{StoryID: "US-003", Status: worker.StatusSuccess, FilesModified: []string{"z.go"}},
			},
			want: []Conflict{
				{File: "a.go", StoryIDs: []string{"US-001", "US-002"}},
				{File: "z.go", StoryIDs: []string{"US-001", "US-002", "US-003"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectConflicts(tt.results)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DetectConflicts() = %v, want %v", got, tt.want)
			}
		})
	}
}

// initMergeRepo creates a git repository whose HEAD contains shared.txt so
// the resolver has a merge base to read.
func initMergeRepo(t *testing.T) *gitx.Repo {
	t.Helper()
	dir := t.TempDir()

	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v (%s)", args, err, out)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "shared.txt"), []byte("base\n"), 0644); err != nil {
		t.Fatal(err)
	}
	repo := gitx.New(dir)
	if err := repo.StageFiles([]string{"shared.txt"}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Commit("initial"); err != nil {
		t.Fatal(err)
	}

	// Simulate the concurrent batch edits.
	if err := os.WriteFile(filepath.Join(dir, "shared.txt"), []byte("base\nedit A\nedit B\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return repo
}

func shResolver(repo *gitx.Repo, script string) *Resolver {
	return &Resolver{
		Command: worker.CommandSpec{
			Command:    "/bin/sh",
			Args:       []string{"-c", script},
			Invocation: worker.InvokeStdin,
		},
		Repo:    repo,
		Timeout: 10 * time.Second,
		Grace:   time.Second,
		PM:      worker.NewProcessManager(),
	}
}

func TestResolverSuccess(t *testing.T) {
	repo := initMergeRepo(t)
	script := `printf '%s' '<merge_result>{"status":"success","mergedContent":"base\nmerged A and B\n","reasoning":"combined both edits"}</merge_result>'`
	r := shResolver(repo, script)

	conflicts := []Conflict{{File: "shared.txt", StoryIDs: []string{"US-001", "US-002"}}}
	resolved, failed := r.Resolve(context.Background(), conflicts)

	if len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	if len(resolved) != 1 {
		t.Fatalf("got %d resolved, want 1", len(resolved))
	}
	if resolved[0].Reasoning != "combined both edits" {
		t.Errorf("reasoning = %q", resolved[0].Reasoning)
	}

	data, err := os.ReadFile(filepath.Join(repo.Root, "shared.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "base\nmerged A and B\n" {
		t.Errorf("merged file = %q", data)
	}
}

func TestResolverWorkerReportsFailure(t *testing.T) {
	repo := initMergeRepo(t)
	script := `printf '%s' '<merge_result>{"status":"failed","error":"changes are semantically incompatible"}</merge_result>'`
	r := shResolver(repo, script)

	conflicts := []Conflict{{File: "shared.txt", StoryIDs: []string{"US-001", "US-002"}}}
	resolved, failed := r.Resolve(context.Background(), conflicts)

	if len(resolved) != 0 {
		t.Fatalf("unexpected resolutions: %+v", resolved)
	}
	if len(failed) != 1 {
		t.Fatalf("got %d failed, want 1", len(failed))
	}
	if failed[0].Err != "changes are semantically incompatible" {
		t.Errorf("err = %q", failed[0].Err)
	}

	// The on-disk file is left untouched for the fallback path.
	data, _ := os.ReadFile(filepath.Join(repo.Root, "shared.txt"))
	if string(data) != "base\nedit A\nedit B\n" {
		t.Errorf("file was modified by a failed merge: %q", data)
	}
}

func TestResolverMissingBlock(t *testing.T) {
	repo := initMergeRepo(t)
	r := shResolver(repo, `echo "I tried my best but forgot the protocol"`)

	_, failed := r.Resolve(context.Background(), []Conflict{{File: "shared.txt", StoryIDs: []string{"US-001", "US-002"}}})
	if len(failed) != 1 {
		t.Fatalf("got %d failed, want 1", len(failed))
	}
	if !strings.Contains(failed[0].Err, "merge_result") {
		t.Errorf("err = %q", failed[0].Err)
	}
}

func TestResolverNewFileHasEmptyBase(t *testing.T) {
	repo := initMergeRepo(t)
	// brand-new.txt exists on disk but not at HEAD.
	if err := os.WriteFile(filepath.Join(repo.Root, "brand-new.txt"), []byte("fresh\n"), 0644); err != nil {
		t.Fatal(err)
	}

	script := `cat >/dev/null; printf '%s' '<merge_result>{"status":"success","mergedContent":"fresh merged\n"}</merge_result>'`
	r := shResolver(repo, script)

	resolved, failed := r.Resolve(context.Background(), []Conflict{{File: "brand-new.txt", StoryIDs: []string{"US-001", "US-002"}}})
	if len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	if len(resolved) != 1 {
		t.Fatalf("got %d resolved, want 1", len(resolved))
	}
}
