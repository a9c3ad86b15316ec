package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prwatch/prwatch/internal/forge"
)

// RebaseResult reports one rebase attempt.
type RebaseResult struct {
	Success bool
	Message string
}

// RebaseCoordinator brings a behind branch up to date with its base. It
// refuses to touch a working tree with uncommitted changes: clobbering
// unsaved work is worse than a stale branch.
type RebaseCoordinator struct {
	forge forge.Forge
	git   GitClient
}

// NewRebaseCoordinator returns a coordinator over the given forge and local
// repository.
func NewRebaseCoordinator(f forge.Forge, git GitClient) *RebaseCoordinator {
	return &RebaseCoordinator{forge: f, git: git}
}

// Rebase fetches the PR's branch metadata and rebases its head onto the
// base. A declined rebase (dirty working tree) and a failed rebase both
// come back as Success=false with an explanatory message; only lookup
// errors are returned as errors.
func (rc *RebaseCoordinator) Rebase(ctx context.Context, pr forge.PR) (*RebaseResult, error) {
	dirty, err := rc.git.HasUncommittedChanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking working tree: %w", err)
	}
	if dirty {
		return &RebaseResult{
			Message: "working tree has uncommitted changes, refusing to rebase",
		}, nil
	}

	info, err := rc.forge.GetPR(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("looking up branches for %s: %w", pr.String(), err)
	}

	slog.Info("rebasing branch onto base",
		"pr", pr.String(), "head", info.HeadBranch, "base", info.BaseBranch)

	if err := rc.git.FetchAndRebase(ctx, info.HeadBranch, info.BaseBranch); err != nil {
		return &RebaseResult{
			Message: fmt.Sprintf("rebase of %s onto %s failed: %v", info.HeadBranch, info.BaseBranch, err),
		}, nil
	}

	return &RebaseResult{
		Success: true,
		Message: fmt.Sprintf("rebased %s onto %s", info.HeadBranch, info.BaseBranch),
	}, nil
}
