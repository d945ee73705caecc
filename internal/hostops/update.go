// Package hostops implements the host-side self-update capability
// triggered by an agent's update_project IPC request: fetch, merge,
// rebuild, and restart the host process, rolling back on failure.
package hostops

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Restarter performs the process restart once a build has succeeded.
// The production implementation re-execs the running binary; tests
// supply a no-op.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Updater runs `git fetch && git merge` followed by a build command in
// repoDir, rolling the working tree back to its pre-update commit if
// either step fails.
type Updater struct {
	RepoDir    string
	BuildCmd   []string // e.g. []string{"go", "build", "-o", "nanoclaw", "./cmd/gateway"}
	Restarter  Restarter
	CmdTimeout time.Duration
}

func (u *Updater) timeout() time.Duration {
	if u.CmdTimeout > 0 {
		return u.CmdTimeout
	}
	return 5 * time.Minute
}

// UpdateProject implements ipc.HostUpdater.
func (u *Updater) UpdateProject(ctx context.Context, requestedBy string) (string, error) {
	slog.Info("hostops: update_project starting", "requested_by", requestedBy)

	head, err := u.currentCommit(ctx)
	if err != nil {
		return "", fmt.Errorf("hostops: read current commit: %w", err)
	}

	if out, err := u.run(ctx, "git", "fetch", "--quiet"); err != nil {
		return "", fmt.Errorf("hostops: git fetch: %w (%s)", err, out)
	}

	if out, err := u.run(ctx, "git", "merge", "--ff-only", "@{upstream}"); err != nil {
		return "", fmt.Errorf("hostops: git merge (working tree unchanged): %w (%s)", err, out)
	}

	if len(u.BuildCmd) > 0 {
		if out, err := u.run(ctx, u.BuildCmd[0], u.BuildCmd[1:]...); err != nil {
			if rbErr := u.rollback(ctx, head); rbErr != nil {
				slog.Error("hostops: rollback after failed build also failed", "error", rbErr)
			}
			return "", fmt.Errorf("hostops: build failed, rolled back to %s: %w (%s)", head, err, out)
		}
	}

	newHead, err := u.currentCommit(ctx)
	if err != nil {
		newHead = "unknown"
	}

	if u.Restarter != nil {
		if err := u.Restarter.Restart(ctx); err != nil {
			return "", fmt.Errorf("hostops: build succeeded at %s but restart failed: %w", newHead, err)
		}
	}

	return fmt.Sprintf("updated %s -> %s", head, newHead), nil
}

func (u *Updater) rollback(ctx context.Context, commit string) error {
	_, err := u.run(ctx, "git", "reset", "--hard", commit)
	return err
}

func (u *Updater) currentCommit(ctx context.Context) (string, error) {
	out, err := u.run(ctx, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (u *Updater) run(ctx context.Context, name string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, u.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = u.RepoDir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return out.String(), err
}
