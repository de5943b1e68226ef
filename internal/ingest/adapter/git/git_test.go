package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/recall-tools/recall/internal/ingest"
	"github.com/recall-tools/recall/internal/store"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q")
	run("config", "user.name", "Test")
	run("config", "user.email", "test@example.com")

	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0644); err != nil {
		t.Fatalf("write a.go: %v", err)
	}
	run("add", "a.go")
	run("commit", "-q", "-m", "initial commit")

	run("checkout", "-q", "-b", "feature")
	if err := os.WriteFile(filepath.Join(dir, "b.go"), []byte("package b\n"), 0644); err != nil {
		t.Fatalf("write b.go: %v", err)
	}
	run("add", "b.go")
	run("commit", "-q", "-m", "add feature file")
	run("checkout", "-q", "main")

	return dir
}

func gitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

func TestIngestEmitsCommitAndBranchEvents(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not available")
	}
	dir := initRepo(t)

	a := New("", dir)
	ctx := ingest.NormalizationContext{SourceID: "src-1", DeviceID: "dev-1"}
	since := time.Now().UTC().AddDate(0, -1, 0)
	result, err := a.Ingest(ctx, dir, store.Cursor{SourceID: "src-1", FileMtime: &since})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	var sawCommit, sawBranch bool
	for _, e := range result.Events {
		switch e.EventType {
		case "git_commit":
			sawCommit = true
		case "git_branch":
			sawBranch = true
		}
	}
	if !sawCommit {
		t.Errorf("expected at least one git_commit event, got %+v", result.Events)
	}
	if !sawBranch {
		t.Errorf("expected at least one git_branch event from the checkout, got %+v", result.Events)
	}
	if result.NewCursor.FileMtime == nil {
		t.Errorf("expected NewCursor.FileMtime to be set")
	}
}

func TestIngestMissingRepoReturnsSourceMissing(t *testing.T) {
	dir := t.TempDir() // not a git repo
	a := New("", dir)
	ctx := ingest.NormalizationContext{SourceID: "src-1", DeviceID: "dev-1"}
	_, err := a.Ingest(ctx, dir, store.Cursor{SourceID: "src-1"})
	if err == nil {
		t.Fatalf("expected an error for a non-git directory")
	}
}

func TestDiscoverFindsNestedRepos(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not available")
	}
	root := t.TempDir()
	repoDir := filepath.Join(root, "proj")
	if err := os.MkdirAll(repoDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cmd := exec.Command("git", "init", "-q")
	cmd.Dir = repoDir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git init: %v: %s", err, out)
	}

	a := New("", root)
	candidates, err := a.Discover("dev-1")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Locator != repoDir {
		t.Fatalf("expected one candidate at %s, got %+v", repoDir, candidates)
	}
}
