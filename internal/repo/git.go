package repo

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git runs version-control operations in a local worktree. The monitor's
// rebase coordinator is its only consumer.
type Git struct {
	// Dir is the worktree containing the PR's source branch.
	Dir string
}

// NewGit returns a Git bound to the given worktree directory.
func NewGit(dir string) *Git {
	return &Git{Dir: dir}
}

// HasUncommittedChanges reports whether the worktree has staged or unstaged
// changes that would make an automatic rebase unsafe.
func (g *Git) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// FetchAndRebase brings sourceBranch up to date with origin/targetBranch and
// force-pushes the result. A rebase that hits conflicts is aborted so the
// worktree is left clean, and the error is returned to the caller.
func (g *Git) FetchAndRebase(ctx context.Context, sourceBranch, targetBranch string) error {
	if _, err := g.run(ctx, "fetch", "origin"); err != nil {
		return err
	}

	if _, err := g.run(ctx, "checkout", sourceBranch); err != nil {
		return err
	}

	targetRef := strings.TrimPrefix(targetBranch, "refs/heads/")
	if _, err := g.run(ctx, "rebase", "origin/"+targetRef); err != nil {
		if _, abortErr := g.run(ctx, "rebase", "--abort"); abortErr != nil {
			return fmt.Errorf("rebase failed and abort failed: %w", err)
		}
		return fmt.Errorf("rebase onto origin/%s: %w", targetRef, err)
	}

	shortBranch := strings.TrimPrefix(sourceBranch, "refs/heads/")
	refspec := fmt.Sprintf("HEAD:refs/heads/%s", shortBranch)
	if _, err := g.run(ctx, "push", "--force-with-lease", "origin", refspec); err != nil {
		return err
	}

	return nil
}

// run executes a git subcommand in the worktree and returns combined output.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}
