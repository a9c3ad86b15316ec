package monitor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/prwatch/prwatch/internal/forge"
)

// aiReviewerFragments are the name fragments that identify automated
// reviewers, matched case-insensitively against reviewer identifiers.
var aiReviewerFragments = []string{"copilot", "codex"}

// codexRequestMarker is the comment prefix that requests a review from the
// comment-driven provider.
const codexRequestMarker = "@codex review"

// eyesReaction is the acknowledgment reaction the comment-driven provider
// leaves on a request comment once it starts work. Advisory only.
const eyesReaction = "eyes"

// isCodexRequestBody reports whether a comment body is a review request
// comment, matched on the marker prefix case-insensitively.
func isCodexRequestBody(body string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(body)), codexRequestMarker)
}

// IsAIReviewer reports whether a reviewer identifier belongs to an
// automated reviewer.
func IsAIReviewer(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range aiReviewerFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// CodexReviewRequest is one "please review" request to the provider whose
// workflow has no reviewer-assignment field.
type CodexReviewRequest struct {
	CommentID int64
	CreatedAt time.Time
	// HasEyes is the best-effort acknowledgment signal. Never required
	// for correctness.
	HasEyes bool
}

// ReviewWait describes whether automated review is still outstanding and
// through which mechanism.
type ReviewWait struct {
	// Assigned is true when a requested reviewer matches an automated
	// reviewer name.
	Assigned bool
	// CodexOutstanding is true when a review request comment exists with
	// no review submitted after it.
	CodexOutstanding bool
	// Reviewers lists the pending automated reviewer identifiers.
	Reviewers []string
}

// Pending reports whether any provider still has outstanding work.
func (w ReviewWait) Pending() bool {
	return w.Assigned || w.CodexOutstanding
}

// AIReviewerTracker determines whether an automated reviewer still has
// outstanding work, composing two detection strategies with logical OR:
// reviewer-assignment matching, and the request-comment/acknowledgment
// workflow of the provider that has no assignment field.
type AIReviewerTracker struct {
	forge forge.Forge
}

// NewAIReviewerTracker returns a tracker backed by the given forge.
func NewAIReviewerTracker(f forge.Forge) *AIReviewerTracker {
	return &AIReviewerTracker{forge: f}
}

// Outstanding reports whether automated review is outstanding for the PR
// given the current pending-reviewer snapshot. A listing error is returned
// so the caller can treat the poll as transient; a reaction-lookup error is
// swallowed because the acknowledgment is informational only.
func (t *AIReviewerTracker) Outstanding(ctx context.Context, pr forge.PR, pendingReviewers []string) (ReviewWait, error) {
	wait := ReviewWait{}

	for _, r := range pendingReviewers {
		if IsAIReviewer(r) {
			wait.Assigned = true
			wait.Reviewers = append(wait.Reviewers, r)
		}
	}

	req, err := t.latestCodexRequest(ctx, pr)
	if err != nil {
		return wait, err
	}
	if req != nil {
		done, err := t.codexReviewSubmittedAfter(ctx, pr, req.CreatedAt)
		if err != nil {
			return wait, err
		}
		if !done {
			wait.CodexOutstanding = true
			wait.Reviewers = append(wait.Reviewers, "codex")
		}
	}

	return wait, nil
}

// latestCodexRequest finds the newest review request comment, or nil when
// none exists. The eyes reaction is looked up best-effort; a lookup failure
// leaves HasEyes false without affecting the pending determination.
func (t *AIReviewerTracker) latestCodexRequest(ctx context.Context, pr forge.PR) (*CodexReviewRequest, error) {
	comments, err := t.forge.ListComments(ctx, pr)
	if err != nil {
		return nil, err
	}

	var latest *forge.Comment
	for i := range comments {
		c := &comments[i]
		if !isCodexRequestBody(c.Body) {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}

	req := &CodexReviewRequest{
		CommentID: latest.ID,
		CreatedAt: latest.CreatedAt,
	}

	hasEyes, err := t.forge.HasReaction(ctx, pr, latest.ID, eyesReaction)
	if err != nil {
		slog.Debug("reaction lookup failed, treating acknowledgment as absent",
			"pr", pr.String(), "commentID", latest.ID, "error", err)
	} else {
		req.HasEyes = hasEyes
	}

	return req, nil
}

// codexReviewSubmittedAfter reports whether the codex provider submitted a
// review after the given request timestamp.
func (t *AIReviewerTracker) codexReviewSubmittedAfter(ctx context.Context, pr forge.PR, since time.Time) (bool, error) {
	reviews, err := t.forge.ListReviews(ctx, pr)
	if err != nil {
		return false, err
	}
	for _, r := range reviews {
		if !strings.Contains(strings.ToLower(r.Author), "codex") {
			continue
		}
		if r.SubmittedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}
