// Package gitx provides the thin git plumbing the committer and conflict
// merger need: staging, commits, and reading historical file versions.
package gitx

import (
	"fmt"
	"os/exec"
	"strings"
)

// Repo is a handle to a git working tree.
type Repo struct {
	Root string // Absolute path to the repository root
}

// New creates a Repo rooted at the given path.
func New(root string) *Repo {
	return &Repo{Root: root}
}

// run executes a git command in the repository root and returns combined
// output. Errors include the git output for diagnosis.
func (r *Repo) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Root
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s failed: %w (output: %s)", args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// HeadHash returns the current HEAD commit hash.
func (r *Repo) HeadHash() (string, error) {
	out, err := r.run("rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ShowFile returns the content of path at the given ref. A path that does
// not exist at the ref yields an empty string and no error: a file created
// during the current batch has an empty merge base.
func (r *Repo) ShowFile(ref, path string) (string, error) {
	if _, err := r.run("cat-file", "-e", ref+":"+path); err != nil {
		return "", nil
	}
	return r.run("show", ref+":"+path)
}

// StageFiles stages exactly the given paths. The -A flag records both
// additions and deletions.
func (r *Repo) StageFiles(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "-A", "--"}, paths...)
	if _, err := r.run(args...); err != nil {
		return err
	}
	return nil
}

// StagedFiles returns the paths with staged changes, empty when the index
// matches HEAD.
func (r *Repo) StagedFiles() ([]string, error) {
	out, err := r.run("diff", "--cached", "--name-only")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// Commit creates a commit from the staged changes and returns its hash.
func (r *Repo) Commit(message string) (string, error) {
	if _, err := r.run("commit", "-m", message); err != nil {
		return "", err
	}
	return r.HeadHash()
}

// IsRepo reports whether Root is inside a git working tree.
func (r *Repo) IsRepo() bool {
	_, err := r.run("rev-parse", "--is-inside-work-tree")
	return err == nil
}
