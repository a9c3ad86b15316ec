package forge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupported is returned when a backend doesn't support a given operation.
var ErrUnsupported = errors.New("operation not supported by this forge")

// Forge is the interface the monitor uses to observe and act on a change
// request. Implementations handle hosting-service API calls; every method
// takes a context and returns an explicit error so callers can distinguish
// transient failures from hard ones.
type Forge interface {
	// Name returns the short identifier for this forge (e.g., "github").
	Name() string

	// GetPR retrieves pull request metadata (title, branches, URL).
	GetPR(ctx context.Context, pr PR) (*PRInfo, error)

	// FetchState returns a fresh snapshot of merge readiness, CI status,
	// and outstanding reviewers. Snapshots are never mutated by callers.
	FetchState(ctx context.Context, pr PR) (*PRState, error)

	// ListReviews returns all submitted reviews, oldest first.
	ListReviews(ctx context.Context, pr PR) ([]Review, error)

	// ListComments returns all comments on the pull request — both general
	// discussion comments and inline diff comments.
	ListComments(ctx context.Context, pr PR) ([]Comment, error)

	// ChangedFiles returns the paths touched by the pull request.
	ChangedFiles(ctx context.Context, pr PR) ([]string, error)

	// RequestReview asks the named reviewer for a (re-)review.
	RequestReview(ctx context.Context, pr PR, reviewer string) error

	// PostComment posts a general comment on the pull request.
	PostComment(ctx context.Context, pr PR, body string) error

	// Recreate closes the pull request and opens a replacement with the
	// same head and base. Returns the replacement's identity.
	Recreate(ctx context.Context, pr PR) (*RecreateResult, error)

	// HasReaction reports whether the given reaction content (e.g. "eyes")
	// exists on a comment. Best-effort: callers must tolerate errors.
	HasReaction(ctx context.Context, pr PR, commentID int64, content string) (bool, error)

	// RateBudget returns the remaining API budget. Advisory only.
	RateBudget(ctx context.Context) (*RateBudget, error)
}

// PR identifies one change request.
type PR struct {
	Owner  string
	Repo   string
	Number int
}

// String renders the PR as "owner/repo#number".
func (p PR) String() string {
	return fmt.Sprintf("%s/%s#%d", p.Owner, p.Repo, p.Number)
}

// ParsePR extracts a PR from a string. Accepts bare numbers (resolved
// against the default owner/repo), "owner/repo#number", or full pull
// request URLs.
func ParsePR(s, defaultOwner, defaultRepo string) (PR, error) {
	if num, err := strconv.Atoi(s); err == nil {
		if defaultOwner == "" || defaultRepo == "" {
			return PR{}, fmt.Errorf("bare PR number %d requires forge.owner and forge.repo in config", num)
		}
		return PR{Owner: defaultOwner, Repo: defaultRepo, Number: num}, nil
	}

	if parts := strings.SplitN(s, "#", 2); len(parts) == 2 {
		ownerRepo := strings.SplitN(parts[0], "/", 2)
		if len(ownerRepo) == 2 {
			if num, err := strconv.Atoi(parts[1]); err == nil {
				return PR{Owner: ownerRepo[0], Repo: ownerRepo[1], Number: num}, nil
			}
		}
	}

	// URL form: https://github.com/{owner}/{repo}/pull/{number}
	u, err := url.Parse(s)
	if err != nil {
		return PR{}, fmt.Errorf("invalid PR identifier: %s", s)
	}
	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(pathParts) >= 4 && pathParts[2] == "pull" {
		num, err := strconv.Atoi(pathParts[3])
		if err != nil {
			return PR{}, fmt.Errorf("invalid PR number in URL: %s", pathParts[3])
		}
		return PR{Owner: pathParts[0], Repo: pathParts[1], Number: num}, nil
	}

	return PR{}, fmt.Errorf("could not parse PR identifier: %s", s)
}

// MergeState classifies whether a change request can be merged cleanly.
type MergeState int

const (
	// MergeStateUnknown means the forge has not computed mergeability yet.
	MergeStateUnknown MergeState = iota
	// MergeStateClean means the branch merges without intervention.
	MergeStateClean
	// MergeStateDirty means the branch has merge conflicts.
	MergeStateDirty
	// MergeStateBlocked means a branch protection rule blocks merging.
	MergeStateBlocked
	// MergeStateBehind means the branch is behind its base and needs a rebase.
	MergeStateBehind
	// MergeStateUnstable means the branch is mergeable but checks are failing.
	MergeStateUnstable
	// MergeStateHasHooks means a pre-receive hook must run before merging.
	MergeStateHasHooks
)

func (s MergeState) String() string {
	switch s {
	case MergeStateClean:
		return "clean"
	case MergeStateDirty:
		return "dirty"
	case MergeStateBlocked:
		return "blocked"
	case MergeStateBehind:
		return "behind"
	case MergeStateUnstable:
		return "unstable"
	case MergeStateHasHooks:
		return "has_hooks"
	default:
		return "unknown"
	}
}

// CheckStatus is the aggregate CI result for the head commit.
type CheckStatus int

const (
	// CheckStatusNone means no checks are configured for the head commit.
	CheckStatusNone CheckStatus = iota
	// CheckStatusPending means at least one check is queued or running.
	CheckStatusPending
	// CheckStatusSuccess means every check concluded successfully.
	CheckStatusSuccess
	// CheckStatusFailure means at least one check failed.
	CheckStatusFailure
	// CheckStatusCancelled means at least one check was cancelled.
	CheckStatusCancelled
)

func (s CheckStatus) String() string {
	switch s {
	case CheckStatusPending:
		return "pending"
	case CheckStatusSuccess:
		return "success"
	case CheckStatusFailure:
		return "failure"
	case CheckStatusCancelled:
		return "cancelled"
	default:
		return "none"
	}
}

// PRState is one poll's snapshot of a change request. Produced fresh on
// every fetch, replaced rather than mutated.
type PRState struct {
	// Merge is the forge-reported merge readiness classification.
	Merge MergeState
	// Checks is the aggregate CI status for the head commit.
	Checks CheckStatus
	// PendingReviewers lists reviewers whose review is still requested.
	// Order carries no meaning.
	PendingReviewers []string
}

// PRInfo contains metadata about a pull request.
type PRInfo struct {
	Number     int
	Title      string
	Body       string
	Author     string
	HeadBranch string
	BaseBranch string
	URL        string
}

// Review is one submitted review on a pull request.
type Review struct {
	ID     int64
	Author string
	Body   string
	// State is the forge's review verdict (e.g. "APPROVED", "COMMENTED",
	// "CHANGES_REQUESTED").
	State string
	// SubmittedAt is when the review was submitted.
	SubmittedAt time.Time
}

// Comment represents a comment on a pull request. Inline diff comments
// carry FilePath and Line; general comments leave them zero.
type Comment struct {
	ID        int64
	Author    string
	Body      string
	FilePath  string
	Line      int
	CreatedAt time.Time
}

// RecreateResult reports the outcome of recreating a change request.
type RecreateResult struct {
	// NewNumber is the replacement pull request's number.
	NewNumber int
	Message   string
}

// RateBudget reports the remaining API budget for the authenticated client.
type RateBudget struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}
