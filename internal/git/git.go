// Package git wraps the git operations relay performs around an agent run:
// create the task branch before the agent works, record the base commit, and
// push the branch when the result is approved.
package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// Repo runs git commands against a single working directory.
type Repo struct {
	workDir string
}

// New creates a Repo for the given working directory.
func New(workDir string) *Repo {
	return &Repo{workDir: workDir}
}

// IsGitRepo checks if the working directory is a git repository.
func (r *Repo) IsGitRepo() bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = r.workDir
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// CurrentBranch returns the name of the current git branch.
func (r *Repo) CurrentBranch() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = r.workDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("get current branch: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// HeadCommit returns the full hash of the current HEAD commit.
func (r *Repo) HeadCommit() (string, error) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = r.workDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("get head commit: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// BranchName generates the work branch name for a task.
// Format: relay/{taskID}
func BranchName(taskID string) string {
	return "relay/" + taskID
}

// BranchExists checks if a branch exists.
func (r *Repo) BranchExists(branch string) bool {
	cmd := exec.Command("git", "rev-parse", "--verify", branch)
	cmd.Dir = r.workDir
	return cmd.Run() == nil
}

// CreateBranch creates a new branch from the current HEAD and switches to
// it. If the branch already exists, it just switches to it.
func (r *Repo) CreateBranch(branch string) error {
	if r.BranchExists(branch) {
		return r.Checkout(branch)
	}

	cmd := exec.Command("git", "checkout", "-b", branch)
	cmd.Dir = r.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("create branch %s: %s", branch, strings.TrimSpace(string(out)))
	}
	return nil
}

// Checkout switches to an existing branch.
func (r *Repo) Checkout(branch string) error {
	cmd := exec.Command("git", "checkout", branch)
	cmd.Dir = r.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("checkout %s: %s", branch, strings.TrimSpace(string(out)))
	}
	return nil
}

// CommitAll stages all changes and commits with the given message.
// Returns true if a commit was made, false if there was nothing to commit.
func (r *Repo) CommitAll(message string) (bool, error) {
	addCmd := exec.Command("git", "add", "-A")
	addCmd.Dir = r.workDir
	if out, err := addCmd.CombinedOutput(); err != nil {
		return false, fmt.Errorf("git add: %s", strings.TrimSpace(string(out)))
	}

	// Check if there are staged changes.
	diffCmd := exec.Command("git", "diff", "--cached", "--quiet")
	diffCmd.Dir = r.workDir
	if err := diffCmd.Run(); err == nil {
		return false, nil
	}

	commitCmd := exec.Command("git", "commit", "-m", message)
	commitCmd.Dir = r.workDir
	out, err := commitCmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("git commit: %s", strings.TrimSpace(string(out)))
	}
	return true, nil
}

// Push publishes a branch to the given remote. This is the final step of an
// approved task.
func (r *Repo) Push(remote, branch string) error {
	cmd := exec.Command("git", "push", "-u", remote, branch)
	cmd.Dir = r.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("push %s to %s: %s", branch, remote, strings.TrimSpace(string(out)))
	}
	return nil
}

// DeleteBranch deletes a branch, switching away from it first if needed.
func (r *Repo) DeleteBranch(branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	cmd := exec.Command("git", "branch", flag, branch)
	cmd.Dir = r.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("delete branch %s: %s", branch, strings.TrimSpace(string(out)))
	}
	return nil
}

// Diff returns the diff between the base commit and the current tree,
// used by the approval flow to show what the agent changed.
func (r *Repo) Diff(baseCommit string) (string, error) {
	cmd := exec.Command("git", "diff", baseCommit)
	cmd.Dir = r.workDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git diff: %w", err)
	}
	return string(out), nil
}
