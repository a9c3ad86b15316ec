package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/prwatch/prwatch/internal/forge"
)

// Backend implements forge.Forge for GitHub.
type Backend struct {
	client    *gh.Client
	gqlOnce   sync.Once
	gqlClient *githubv4.Client
	token     string
}

// NewBackend creates a GitHub backend. Uses go-github-ratelimit middleware
// for automatic primary/secondary rate limit handling.
func NewBackend(token string) *Backend {
	rateLimiter := github_ratelimit.NewClient(nil)
	client := gh.NewClient(rateLimiter).WithAuthToken(token)
	return &Backend{
		client: client,
		token:  token,
	}
}

// Name returns "github".
func (b *Backend) Name() string {
	return "github"
}

// GetPR retrieves pull request metadata.
func (b *Backend) GetPR(ctx context.Context, pr forge.PR) (*forge.PRInfo, error) {
	ghPR, _, err := b.client.PullRequests.Get(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR: %w", err)
	}
	return &forge.PRInfo{
		Number:     ghPR.GetNumber(),
		Title:      ghPR.GetTitle(),
		Body:       ghPR.GetBody(),
		Author:     ghPR.GetUser().GetLogin(),
		HeadBranch: ghPR.GetHead().GetRef(),
		BaseBranch: ghPR.GetBase().GetRef(),
		URL:        ghPR.GetHTMLURL(),
	}, nil
}

// FetchState returns a fresh snapshot of merge readiness, CI status, and
// outstanding reviewers. Merge state and review requests come from GraphQL
// (mergeStateStatus is not exposed over REST); the CI aggregate comes from
// Check Runs plus legacy Commit Statuses.
func (b *Backend) FetchState(ctx context.Context, pr forge.PR) (*forge.PRState, error) {
	merge, reviewers, err := b.fetchMergeState(ctx, pr)
	if err != nil {
		// Fall back to the REST mergeable_state field, which lags GraphQL
		// but is better than failing the whole poll.
		merge, reviewers, err = b.fetchMergeStateREST(ctx, pr)
		if err != nil {
			return nil, err
		}
	}

	checks, err := b.fetchCheckStatus(ctx, pr)
	if err != nil {
		return nil, err
	}

	return &forge.PRState{
		Merge:            merge,
		Checks:           checks,
		PendingReviewers: reviewers,
	}, nil
}

// fetchMergeState queries mergeStateStatus and reviewRequests via GraphQL.
func (b *Backend) fetchMergeState(ctx context.Context, pr forge.PR) (forge.MergeState, []string, error) {
	gql := b.getGraphQLClient(ctx)

	var query struct {
		Repository struct {
			PullRequest struct {
				MergeStateStatus githubv4.String `graphql:"mergeStateStatus"`
				ReviewRequests   struct {
					Nodes []struct {
						RequestedReviewer struct {
							User struct {
								Login githubv4.String
							} `graphql:"... on User"`
							Bot struct {
								Login githubv4.String
							} `graphql:"... on Bot"`
							Team struct {
								Name githubv4.String
							} `graphql:"... on Team"`
						} `graphql:"requestedReviewer"`
					}
				} `graphql:"reviewRequests(first: 100)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	vars := map[string]any{
		"owner":  githubv4.String(pr.Owner),
		"name":   githubv4.String(pr.Repo),
		"number": githubv4.Int(pr.Number),
	}

	if err := gql.Query(ctx, &query, vars); err != nil {
		return forge.MergeStateUnknown, nil, fmt.Errorf("merge state query failed: %w", err)
	}

	var reviewers []string
	for _, n := range query.Repository.PullRequest.ReviewRequests.Nodes {
		switch {
		case n.RequestedReviewer.User.Login != "":
			reviewers = append(reviewers, string(n.RequestedReviewer.User.Login))
		case n.RequestedReviewer.Bot.Login != "":
			reviewers = append(reviewers, string(n.RequestedReviewer.Bot.Login))
		case n.RequestedReviewer.Team.Name != "":
			reviewers = append(reviewers, string(n.RequestedReviewer.Team.Name))
		}
	}

	return mapMergeState(string(query.Repository.PullRequest.MergeStateStatus)), reviewers, nil
}

// fetchMergeStateREST is the REST fallback for fetchMergeState.
func (b *Backend) fetchMergeStateREST(ctx context.Context, pr forge.PR) (forge.MergeState, []string, error) {
	ghPR, _, err := b.client.PullRequests.Get(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		return forge.MergeStateUnknown, nil, fmt.Errorf("failed to get PR: %w", err)
	}

	var reviewers []string
	for _, u := range ghPR.RequestedReviewers {
		reviewers = append(reviewers, u.GetLogin())
	}
	for _, t := range ghPR.RequestedTeams {
		reviewers = append(reviewers, t.GetName())
	}

	return mapMergeState(ghPR.GetMergeableState()), reviewers, nil
}

// mapMergeState maps GitHub's merge state strings (GraphQL MergeStateStatus
// or REST mergeable_state) onto the closed MergeState type.
func mapMergeState(s string) forge.MergeState {
	switch strings.ToLower(s) {
	case "clean":
		return forge.MergeStateClean
	case "dirty":
		return forge.MergeStateDirty
	case "blocked":
		return forge.MergeStateBlocked
	case "behind":
		return forge.MergeStateBehind
	case "unstable":
		return forge.MergeStateUnstable
	case "has_hooks":
		return forge.MergeStateHasHooks
	default:
		return forge.MergeStateUnknown
	}
}

// fetchCheckStatus aggregates Check Runs and legacy Commit Statuses for the
// PR head into a single CheckStatus.
func (b *Backend) fetchCheckStatus(ctx context.Context, pr forge.PR) (forge.CheckStatus, error) {
	ghPR, _, err := b.client.PullRequests.Get(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		return forge.CheckStatusNone, fmt.Errorf("failed to get PR for head SHA: %w", err)
	}
	headSHA := ghPR.GetHead().GetSHA()
	if headSHA == "" {
		return forge.CheckStatusNone, fmt.Errorf("PR head SHA is empty")
	}

	agg := checkAggregate{}

	checkOpts := &gh.ListCheckRunsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		checkResult, resp, err := b.client.Checks.ListCheckRunsForRef(ctx, pr.Owner, pr.Repo, headSHA, checkOpts)
		if err != nil {
			return forge.CheckStatusNone, fmt.Errorf("failed to list check runs: %w", err)
		}
		for _, cr := range checkResult.CheckRuns {
			agg.addCheckRun(cr.GetStatus(), cr.GetConclusion())
		}
		if resp.NextPage == 0 {
			break
		}
		checkOpts.Page = resp.NextPage
	}

	combined, _, err := b.client.Repositories.GetCombinedStatus(ctx, pr.Owner, pr.Repo, headSHA, &gh.ListOptions{PerPage: 100})
	if err != nil {
		slog.Warn("failed to get combined status", "pr", pr.String(), "error", err)
	} else {
		for _, s := range combined.Statuses {
			agg.addCommitStatus(s.GetState())
		}
	}

	return agg.status(), nil
}

// checkAggregate folds individual check results into one CheckStatus with
// the precedence failure > cancelled > pending > success.
type checkAggregate struct {
	total     int
	failed    int
	cancelled int
	pending   int
}

func (a *checkAggregate) addCheckRun(status, conclusion string) {
	a.total++
	switch conclusion {
	case "failure", "timed_out", "action_required":
		a.failed++
	case "cancelled":
		a.cancelled++
	case "":
		// queued or in_progress — no conclusion yet.
		if status != "completed" {
			a.pending++
		}
	}
}

func (a *checkAggregate) addCommitStatus(state string) {
	a.total++
	switch state {
	case "failure", "error":
		a.failed++
	case "pending":
		a.pending++
	}
}

func (a *checkAggregate) status() forge.CheckStatus {
	switch {
	case a.total == 0:
		return forge.CheckStatusNone
	case a.failed > 0:
		return forge.CheckStatusFailure
	case a.cancelled > 0:
		return forge.CheckStatusCancelled
	case a.pending > 0:
		return forge.CheckStatusPending
	default:
		return forge.CheckStatusSuccess
	}
}

// ListReviews returns all submitted reviews, oldest first.
func (b *Backend) ListReviews(ctx context.Context, pr forge.PR) ([]forge.Review, error) {
	var reviews []forge.Review
	opts := &gh.ListOptions{PerPage: 100}
	for {
		ghReviews, resp, err := b.client.PullRequests.ListReviews(ctx, pr.Owner, pr.Repo, pr.Number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list reviews: %w", err)
		}
		for _, r := range ghReviews {
			reviews = append(reviews, forge.Review{
				ID:          r.GetID(),
				Author:      r.GetUser().GetLogin(),
				Body:        r.GetBody(),
				State:       r.GetState(),
				SubmittedAt: r.GetSubmittedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return reviews, nil
}

// ListComments returns issue comments (general) and review comments
// (inline) merged into one list.
func (b *Backend) ListComments(ctx context.Context, pr forge.PR) ([]forge.Comment, error) {
	var comments []forge.Comment

	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		issueComments, resp, err := b.client.Issues.ListComments(ctx, pr.Owner, pr.Repo, pr.Number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list issue comments: %w", err)
		}
		for _, c := range issueComments {
			comments = append(comments, forge.Comment{
				ID:        c.GetID(),
				Author:    c.GetUser().GetLogin(),
				Body:      c.GetBody(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	reviewOpts := &gh.PullRequestListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		reviewComments, resp, err := b.client.PullRequests.ListComments(ctx, pr.Owner, pr.Repo, pr.Number, reviewOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to list review comments: %w", err)
		}
		for _, c := range reviewComments {
			comments = append(comments, forge.Comment{
				ID:        c.GetID(),
				Author:    c.GetUser().GetLogin(),
				Body:      c.GetBody(),
				FilePath:  c.GetPath(),
				Line:      c.GetLine(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		reviewOpts.Page = resp.NextPage
	}

	return comments, nil
}

// ChangedFiles returns the paths touched by the pull request.
func (b *Backend) ChangedFiles(ctx context.Context, pr forge.PR) ([]string, error) {
	var files []string
	opts := &gh.ListOptions{PerPage: 100}
	for {
		ghFiles, resp, err := b.client.PullRequests.ListFiles(ctx, pr.Owner, pr.Repo, pr.Number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list changed files: %w", err)
		}
		for _, f := range ghFiles {
			files = append(files, f.GetFilename())
			// Renames: the old path is also "touched" for comment scoping.
			if prev := f.GetPreviousFilename(); prev != "" {
				files = append(files, prev)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

// RequestReview asks the named reviewer for a (re-)review.
func (b *Backend) RequestReview(ctx context.Context, pr forge.PR, reviewer string) error {
	_, _, err := b.client.PullRequests.RequestReviewers(ctx, pr.Owner, pr.Repo, pr.Number, gh.ReviewersRequest{
		Reviewers: []string{reviewer},
	})
	if err != nil {
		return fmt.Errorf("failed to request review from %s: %w", reviewer, err)
	}
	return nil
}

// PostComment posts a general comment on the pull request.
func (b *Backend) PostComment(ctx context.Context, pr forge.PR, body string) error {
	_, _, err := b.client.Issues.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("failed to post comment: %w", err)
	}
	return nil
}

// Recreate opens a replacement pull request with the same head and base,
// then closes the original. The replacement is created first so the branch
// is never left without an open PR.
func (b *Backend) Recreate(ctx context.Context, pr forge.PR) (*forge.RecreateResult, error) {
	orig, _, err := b.client.PullRequests.Get(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR for recreation: %w", err)
	}

	body := orig.GetBody()
	if body != "" {
		body += "\n\n"
	}
	body += fmt.Sprintf("Recreated from #%d.", pr.Number)

	newPR, _, err := b.client.PullRequests.Create(ctx, pr.Owner, pr.Repo, &gh.NewPullRequest{
		Title: gh.Ptr(orig.GetTitle()),
		Head:  gh.Ptr(orig.GetHead().GetRef()),
		Base:  gh.Ptr(orig.GetBase().GetRef()),
		Body:  gh.Ptr(body),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create replacement PR: %w", err)
	}

	orig.State = gh.Ptr("closed")
	if _, _, err := b.client.PullRequests.Edit(ctx, pr.Owner, pr.Repo, pr.Number, orig); err != nil {
		// The replacement exists; report it even though the close failed.
		slog.Warn("failed to close original PR after recreation", "pr", pr.String(), "error", err)
	}

	return &forge.RecreateResult{
		NewNumber: newPR.GetNumber(),
		Message:   fmt.Sprintf("recreated %s as #%d", pr.String(), newPR.GetNumber()),
	}, nil
}

// HasReaction reports whether the given reaction content exists on an issue
// comment.
func (b *Backend) HasReaction(ctx context.Context, pr forge.PR, commentID int64, content string) (bool, error) {
	opts := &gh.ListReactionOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		reactions, resp, err := b.client.Reactions.ListIssueCommentReactions(ctx, pr.Owner, pr.Repo, commentID, opts)
		if err != nil {
			return false, fmt.Errorf("failed to list reactions: %w", err)
		}
		for _, r := range reactions {
			if r.GetContent() == content {
				return true, nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return false, nil
}

// RateBudget returns the remaining core API budget.
func (b *Backend) RateBudget(ctx context.Context) (*forge.RateBudget, error) {
	limits, _, err := b.client.RateLimit.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limits: %w", err)
	}
	core := limits.GetCore()
	if core == nil {
		return nil, fmt.Errorf("rate limit response missing core budget")
	}
	return &forge.RateBudget{
		Remaining: core.Remaining,
		Limit:     core.Limit,
		ResetAt:   core.Reset.Time,
	}, nil
}

// getGraphQLClient returns (and lazily creates) the GitHub GraphQL client.
// Thread-safe via sync.Once.
func (b *Backend) getGraphQLClient(ctx context.Context) *githubv4.Client {
	b.gqlOnce.Do(func() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: b.token})
		httpClient := oauth2.NewClient(ctx, ts)
		b.gqlClient = githubv4.NewClient(httpClient)
	})
	return b.gqlClient
}

// Verify Backend implements Forge at compile time.
var _ forge.Forge = (*Backend)(nil)
