package hostops

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
)

func initRepoWithUpstream(t *testing.T) (repoDir string) {
	t.Helper()
	upstream := t.TempDir()
	clone := t.TempDir()

	run := func(dir string, args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	run(upstream, "init", "--quiet")
	run(upstream, "config", "user.email", "test@example.com")
	run(upstream, "config", "user.name", "test")
	run(upstream, "commit", "--allow-empty", "-m", "init", "--quiet")

	run(".", "clone", "--quiet", upstream, clone)
	run(clone, "config", "user.email", "test@example.com")
	run(clone, "config", "user.name", "test")
	run(clone, "branch", "--set-upstream-to=origin/master")

	return clone
}

func TestUpdater_NoOpWhenUpToDate(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repo := initRepoWithUpstream(t)
	u := &Updater{RepoDir: repo}

	result, err := u.UpdateProject(context.Background(), "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == "" {
		t.Error("expected a non-empty result summary")
	}
}

func TestUpdater_BuildFailureRollsBack(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repo := initRepoWithUpstream(t)
	before, err := (&Updater{RepoDir: repo}).currentCommit(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	u := &Updater{
		RepoDir:  repo,
		BuildCmd: []string{filepath.Join(repo, "definitely-does-not-exist")},
	}

	if _, err := u.UpdateProject(context.Background(), "main"); err == nil {
		t.Fatal("expected build failure to surface as an error")
	}

	after, err := u.currentCommit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Errorf("expected rollback to %s, got %s", before, after)
	}
}
