package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// testRepo initializes a throwaway git repository with one commit.
func testRepo(t *testing.T) *Repo {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	run("init", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")

	return New(dir)
}

func TestIsGitRepo(t *testing.T) {
	r := testRepo(t)
	if !r.IsGitRepo() {
		t.Error("expected repo to be detected")
	}

	notRepo := New(t.TempDir())
	if notRepo.IsGitRepo() {
		t.Error("expected non-repo to be rejected")
	}
}

func TestHeadCommit(t *testing.T) {
	r := testRepo(t)

	hash, err := r.HeadCommit()
	if err != nil {
		t.Fatalf("HeadCommit: %v", err)
	}
	if len(hash) != 40 {
		t.Errorf("expected 40-char hash, got %q", hash)
	}
}

func TestBranchName(t *testing.T) {
	if got := BranchName("CU-42"); got != "relay/CU-42" {
		t.Errorf("expected relay/CU-42, got %q", got)
	}
}

func TestCreateBranch(t *testing.T) {
	r := testRepo(t)

	branch := BranchName("CU-1")
	if err := r.CreateBranch(branch); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if !r.BranchExists(branch) {
		t.Error("expected branch to exist")
	}

	cur, err := r.CurrentBranch()
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if cur != branch {
		t.Errorf("expected to be on %s, got %s", branch, cur)
	}

	// Creating again just switches back.
	r.Checkout("main")
	if err := r.CreateBranch(branch); err != nil {
		t.Fatalf("CreateBranch existing: %v", err)
	}
	cur, _ = r.CurrentBranch()
	if cur != branch {
		t.Errorf("expected switch to existing branch, got %s", cur)
	}
}

func TestCommitAll(t *testing.T) {
	r := testRepo(t)

	// Nothing to commit.
	committed, err := r.CommitAll("empty")
	if err != nil {
		t.Fatalf("CommitAll: %v", err)
	}
	if committed {
		t.Error("expected nothing to commit")
	}

	// New file gets committed.
	if err := os.WriteFile(filepath.Join(r.workDir, "new.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	committed, err = r.CommitAll("add new.txt")
	if err != nil {
		t.Fatalf("CommitAll: %v", err)
	}
	if !committed {
		t.Error("expected a commit")
	}
}

func TestDiff(t *testing.T) {
	r := testRepo(t)

	base, _ := r.HeadCommit()
	os.WriteFile(filepath.Join(r.workDir, "README.md"), []byte("changed\n"), 0644)

	diff, err := r.Diff(base)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if diff == "" {
		t.Error("expected non-empty diff")
	}
}

func TestDeleteBranch(t *testing.T) {
	r := testRepo(t)

	branch := BranchName("CU-1")
	r.CreateBranch(branch)
	r.Checkout("main")

	if err := r.DeleteBranch(branch, true); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
	if r.BranchExists(branch) {
		t.Error("expected branch to be gone")
	}
}
