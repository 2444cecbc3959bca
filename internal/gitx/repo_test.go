package gitx

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// initTestRepo creates a git repository with one initial commit containing
// tracked.txt.
func initTestRepo(t *testing.T) *Repo {
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

	if err := os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("original\n"), 0644); err != nil {
		t.Fatal(err)
	}

	repo := New(dir)
	if err := repo.StageFiles([]string{"tracked.txt"}); err != nil {
		t.Fatalf("staging initial file: %v", err)
	}
	if _, err := repo.Commit("initial"); err != nil {
		t.Fatalf("initial commit: %v", err)
	}
	return repo
}

func TestRepoCommitFlow(t *testing.T) {
	repo := initTestRepo(t)

	if !repo.IsRepo() {
		t.Fatal("IsRepo returned false for a real repository")
	}

	first, err := repo.HeadHash()
	if err != nil {
		t.Fatalf("HeadHash: %v", err)
	}

	if err := os.WriteFile(filepath.Join(repo.Root, "new.txt"), []byte("content\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := repo.StageFiles([]string{"new.txt"}); err != nil {
		t.Fatalf("StageFiles: %v", err)
	}
	second, err := repo.Commit("add new.txt")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if second == first {
		t.Error("commit did not advance HEAD")
	}
}

func TestShowFile(t *testing.T) {
	repo := initTestRepo(t)

	content, err := repo.ShowFile("HEAD", "tracked.txt")
	if err != nil {
		t.Fatalf("ShowFile: %v", err)
	}
	if content != "original\n" {
		t.Errorf("content = %q", content)
	}

	// A file not present at the ref has an empty base, not an error.
	content, err = repo.ShowFile("HEAD", "does-not-exist.txt")
	if err != nil {
		t.Fatalf("ShowFile for missing path: %v", err)
	}
	if content != "" {
		t.Errorf("missing path content = %q, want empty", content)
	}
}

func TestStagedFiles(t *testing.T) {
	repo := initTestRepo(t)

	staged, err := repo.StagedFiles()
	if err != nil {
		t.Fatalf("StagedFiles: %v", err)
	}
	if len(staged) != 0 {
		t.Errorf("clean index reports staged files: %v", staged)
	}

	if err := os.WriteFile(filepath.Join(repo.Root, "tracked.txt"), []byte("changed\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := repo.StageFiles([]string{"tracked.txt"}); err != nil {
		t.Fatal(err)
	}

	staged, err = repo.StagedFiles()
	if err != nil {
		t.Fatalf("StagedFiles: %v", err)
	}
	if len(staged) != 1 || staged[0] != "tracked.txt" {
		t.Errorf("staged = %v, want [tracked.txt]", staged)
	}

	// Restaging an identical file is a no-op against HEAD.
	repo2 := initTestRepo(t)
	if err := repo2.StageFiles([]string{"tracked.txt"}); err != nil {
		t.Fatal(err)
	}
	staged, err = repo2.StagedFiles()
	if err != nil {
		t.Fatalf("StagedFiles: %v", err)
	}
	if len(staged) != 0 {
		t.Errorf("unchanged file reported as staged: %v", staged)
	}
}

func TestStageFilesEmpty(t *testing.T) {
	repo := initTestRepo(t)
	if err := repo.StageFiles(nil); err != nil {
		t.Errorf("StageFiles(nil) = %v, want no-op", err)
	}
}

func TestIsRepoOutsideWorkTree(t *testing.T) {
	dir := t.TempDir()
	if New(dir).IsRepo() {
		t.Skip("temp dir unexpectedly inside a git work tree")
	}
}

func TestCommitEmptyStagingFails(t *testing.T) {
	repo := initTestRepo(t)
	if _, err := repo.Commit("nothing staged"); err == nil {
		t.Error("expected error committing with nothing staged")
	}
	if _, err := repo.HeadHash(); err != nil {
		t.Errorf("HeadHash after failed commit: %v", err)
	}
}
