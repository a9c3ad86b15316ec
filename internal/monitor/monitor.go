package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prwatch/prwatch/internal/forge"
)

// Config holds the tunable bounds for a Monitor. Zero values fall back to
// the package defaults.
type Config struct {
	PollInterval          time.Duration
	RebaseRecheckDelay    time.Duration
	CopilotPendingTimeout time.Duration
	MaxCopilotRetries     int
	MaxRetryWaitPolls     int
	MaxRecreateAttempts   int
	MaxRebaseAttempts     int
	// RateFloor is the advisory remaining-call threshold below which polls
	// stretch their waits.
	RateFloor int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RebaseRecheckDelay <= 0 {
		c.RebaseRecheckDelay = DefaultRebaseRecheckDelay
	}
	if c.CopilotPendingTimeout <= 0 {
		c.CopilotPendingTimeout = DefaultCopilotPendingTimeout
	}
	if c.MaxCopilotRetries <= 0 {
		c.MaxCopilotRetries = DefaultMaxCopilotRetry
	}
	if c.MaxRetryWaitPolls <= 0 {
		c.MaxRetryWaitPolls = DefaultMaxRetryWaitPolls
	}
	if c.MaxRecreateAttempts <= 0 {
		c.MaxRecreateAttempts = DefaultMaxPRRecreate
	}
	if c.MaxRebaseAttempts <= 0 {
		c.MaxRebaseAttempts = DefaultMaxRebaseAttempts
	}
	if c.RateFloor <= 0 {
		c.RateFloor = defaultRateFloor
	}
	return c
}

// Monitor polls a pull request until CI and automated review conclude, or a
// bound is hit. One Monitor handles one run at a time; its collaborators
// are injected so tests can drive the loop deterministically.
type Monitor struct {
	forge      forge.Forge
	git        GitClient
	cfg        Config
	tracker    *AIReviewerTracker
	classifier *CommentClassifier

	// Events receives structured observations. Defaults to NopSink.
	Events EventSink
	// Checkpoints persists resume state after each poll. Nil disables.
	Checkpoints CheckpointSaver

	// Seams for tests. Production uses the real clock.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Monitor over the given forge and local repository. git may
// be nil when the caller runs outside a checkout; behind PRs then wait
// instead of rebasing.
func New(f forge.Forge, git GitClient, cfg Config) *Monitor {
	return &Monitor{
		forge:      f,
		git:        git,
		cfg:        cfg.withDefaults(),
		tracker:    NewAIReviewerTracker(f),
		classifier: NewCommentClassifier(f),
		Events:     NopSink{},
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// loopState is the mutable per-run state. It lives on the Run stack and is
// never shared across goroutines.
type loopState struct {
	start          time.Time
	rebaseCount    int
	failedRebases  int
	copilotRetries int
	// pendingSince marks when an automated reviewer was first seen pending
	// with nothing else in the way. Zeroed when the wait resolves.
	pendingSince time.Time
	// reviewAwaited records that an automated review was outstanding at some
	// point, so the final result can report whether review completed.
	reviewAwaited bool
	// lateCheckDone guards the one-time delayed re-check after a rebase.
	// Reset on every successful rebase.
	lateCheckDone bool
	// lastErrorReviewID dedupes review-error events when the same stale
	// errored review is seen across polls.
	lastErrorReviewID int64
	lastMerge         forge.MergeState
	lastChecks        forge.CheckStatus
}

// Run monitors the PR until a terminal condition and returns the single
// Result describing how the run ended. Run never panics on forge errors;
// transient failures are logged, recorded, and retried on the next poll.
func (m *Monitor) Run(ctx context.Context, pr forge.PR, opts Options) Result {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	st := &loopState{start: m.now()}
	deadline := st.start.Add(timeout)

	rebaser := NewRebaseCoordinator(m.forge, m.git)
	recreator := NewPendingTimeoutRecreator(m.forge, m.cfg.CopilotPendingTimeout, m.cfg.MaxRecreateAttempts)

	slog.Info("monitoring pull request",
		"pr", pr.String(), "timeout", timeout, "earlyExit", opts.EarlyExit)

	for {
		if err := ctx.Err(); err != nil {
			return m.finish(st, false, fmt.Sprintf("monitoring cancelled: %v", err))
		}

		now := m.now()
		if now.After(deadline) {
			m.record(ctx, pr, Event{
				Type:            EventTimeout,
				Message:         fmt.Sprintf("monitoring timed out after %s", timeout),
				SuggestedAction: "check the PR manually or re-run with a longer timeout",
			})
			return m.finish(st, false, fmt.Sprintf("monitoring timed out after %s", timeout))
		}

		state, err := m.forge.FetchState(ctx, pr)
		if err != nil {
			m.record(ctx, pr, Event{
				Type:    EventFetchError,
				Message: fmt.Sprintf("state fetch failed: %v", err),
			})
			if err := m.wait(ctx, pr); err != nil {
				return m.finish(st, false, fmt.Sprintf("monitoring cancelled: %v", err))
			}
			continue
		}

		st.lastMerge = state.Merge
		st.lastChecks = state.Checks

		// A pending episode ends the moment the reviewer set empties,
		// whatever the check status. The next episode starts its own timer.
		if !st.pendingSince.IsZero() {
			if wait, err := m.tracker.Outstanding(ctx, pr, state.PendingReviewers); err == nil && !wait.Pending() {
				st.pendingSince = time.Time{}
			}
		}

		m.saveCheckpoint(ctx, pr, st, recreator)

		slog.Debug("poll", "pr", pr.String(),
			"merge", state.Merge.String(), "checks", state.Checks.String(),
			"pendingReviewers", len(state.PendingReviewers))

		if state.Merge == forge.MergeStateBehind {
			if done, res := m.handleBehind(ctx, pr, st, rebaser); done {
				return res
			}
			if err := m.wait(ctx, pr); err != nil {
				return m.finish(st, false, fmt.Sprintf("monitoring cancelled: %v", err))
			}
			continue
		}

		switch state.Checks {
		case forge.CheckStatusFailure, forge.CheckStatusCancelled:
			// Terminal CI state. Takes priority over early exit: there is no
			// point collecting review feedback on a commit that must change.
			return m.finish(st, false, fmt.Sprintf("CI concluded with status %q", state.Checks.String()))

		case forge.CheckStatusPending:
			if opts.EarlyExit {
				if done, res := m.tryEarlyExit(ctx, pr, st); done {
					return res
				}
			}
			if err := m.wait(ctx, pr); err != nil {
				return m.finish(st, false, fmt.Sprintf("monitoring cancelled: %v", err))
			}
			continue

		default:
			// Success, or no checks configured at all. Either way CI is no
			// longer in the way; what remains is automated review.
			if done, res := m.handleChecksConcluded(ctx, pr, st, state, recreator); done {
				return res
			}
			if err := m.wait(ctx, pr); err != nil {
				return m.finish(st, false, fmt.Sprintf("monitoring cancelled: %v", err))
			}
			continue
		}
	}
}

// finish builds the terminal Result from the loop state. CIPassed reflects
// the last observed check status, not the run outcome: a run can fail on
// review or timeout after CI went green.
func (m *Monitor) finish(st *loopState, success bool, message string) Result {
	ciPassed := st.lastChecks == forge.CheckStatusSuccess ||
		(success && st.lastChecks == forge.CheckStatusNone)
	return Result{
		Success:         success,
		Message:         message,
		CIPassed:        ciPassed,
		ReviewCompleted: success && st.reviewAwaited,
		RebaseCount:     st.rebaseCount,
	}
}

// wait sleeps one poll interval, stretched when the API budget runs low.
func (m *Monitor) wait(ctx context.Context, pr forge.PR) error {
	d := m.cfg.PollInterval

	budget, err := m.forge.RateBudget(ctx)
	if err == nil && budget != nil && budget.Remaining < m.cfg.RateFloor {
		slog.Warn("API budget low, stretching poll interval",
			"pr", pr.String(), "remaining", budget.Remaining, "resetAt", budget.ResetAt)
		d *= 2
	}

	return m.sleep(ctx, d)
}

// handleBehind runs the bounded rebase flow. Returns a terminal result only
// on cancellation; rebase failures wait for the next poll.
func (m *Monitor) handleBehind(ctx context.Context, pr forge.PR, st *loopState, rebaser *RebaseCoordinator) (bool, Result) {
	if m.git == nil {
		slog.Warn("branch is behind but no local repository is configured, waiting", "pr", pr.String())
		return false, Result{}
	}
	if st.failedRebases >= m.cfg.MaxRebaseAttempts {
		slog.Warn("rebase attempts exhausted, waiting for manual intervention",
			"pr", pr.String(), "attempts", st.failedRebases)
		return false, Result{}
	}

	res, err := rebaser.Rebase(ctx, pr)
	if err != nil {
		st.failedRebases++
		m.record(ctx, pr, Event{
			Type:    EventRebaseFailed,
			Message: fmt.Sprintf("rebase attempt failed: %v", err),
		})
		return false, Result{}
	}
	if !res.Success {
		st.failedRebases++
		m.record(ctx, pr, Event{
			Type:            EventRebaseFailed,
			Message:         res.Message,
			SuggestedAction: "resolve the conflict or commit local changes, then let the monitor retry",
		})
		return false, Result{}
	}

	st.rebaseCount++
	st.lateCheckDone = false
	slog.Info("rebase complete", "pr", pr.String(), "rebaseCount", st.rebaseCount)
	return false, Result{}
}

// tryEarlyExit checks whether review feedback already exists and, if so,
// ends the run so remediation can start before CI finishes.
func (m *Monitor) tryEarlyExit(ctx context.Context, pr forge.PR, st *loopState) (bool, Result) {
	classified, err := m.classifier.Classify(ctx, pr)
	if err != nil {
		slog.Debug("comment classification failed, skipping early exit check",
			"pr", pr.String(), "error", err)
		return false, Result{}
	}
	if !classified.Any() {
		return false, Result{}
	}

	msg := fmt.Sprintf("early exit: %d in-scope and %d out-of-scope review comments to address",
		len(classified.InScope), len(classified.OutOfScope))
	m.record(ctx, pr, Event{
		Type:            EventEarlyExit,
		Message:         msg,
		SuggestedAction: "address the review feedback, then re-run the monitor",
	})

	// Feedback in hand is a successful run: review happened, CI did not
	// finish.
	return true, Result{
		Success:         true,
		Message:         msg,
		CIPassed:        false,
		ReviewCompleted: true,
		RebaseCount:     st.rebaseCount,
		Details: map[string]any{
			DetailInScopeComments:    len(classified.InScope),
			DetailOutOfScopeComments: len(classified.OutOfScope),
		},
	}
}

// handleChecksConcluded runs once CI is green (or absent): track outstanding
// automated review, retry errored reviews, recreate on a stuck reviewer, and
// confirm success with the one-time post-rebase re-check.
func (m *Monitor) handleChecksConcluded(ctx context.Context, pr forge.PR, st *loopState, state *forge.PRState, recreator *PendingTimeoutRecreator) (bool, Result) {
	wait, err := m.tracker.Outstanding(ctx, pr, state.PendingReviewers)
	if err != nil {
		slog.Debug("reviewer tracking failed, retrying next poll", "pr", pr.String(), "error", err)
		return false, Result{}
	}

	if wait.Pending() {
		st.reviewAwaited = true
		if st.pendingSince.IsZero() {
			st.pendingSince = m.now()
			slog.Info("waiting for automated review",
				"pr", pr.String(), "reviewers", wait.Reviewers)
		}
		if recreator.ShouldRecreate(st.pendingSince, m.now()) {
			return m.handleRecreate(ctx, pr, st, recreator)
		}
		return false, Result{}
	}
	st.pendingSince = time.Time{}

	reviews, err := m.forge.ListReviews(ctx, pr)
	if err != nil {
		slog.Debug("review listing failed, retrying next poll", "pr", pr.String(), "error", err)
		return false, Result{}
	}

	if errReview, ok := LatestCopilotError(reviews); ok {
		return m.handleReviewError(ctx, pr, st, errReview)
	}

	if st.rebaseCount > 0 && !st.lateCheckDone {
		st.lateCheckDone = true
		if regressed, err := m.lateCheck(ctx, pr); err != nil {
			return true, m.finish(st, false, fmt.Sprintf("monitoring cancelled: %v", err))
		} else if regressed {
			slog.Info("post-rebase re-check found new activity, continuing", "pr", pr.String())
			return false, Result{}
		}
	}

	return true, m.finish(st, true, "CI passed and no automated review is outstanding")
}

// lateCheck waits the re-check delay once, then re-fetches state to catch
// reviewers that re-request themselves after a force-push. Returns whether
// anything regressed. A fetch failure retries once, then treats the state
// as unchanged.
func (m *Monitor) lateCheck(ctx context.Context, pr forge.PR) (bool, error) {
	slog.Info("checks green after rebase, re-checking once for late reviewer activity", "pr", pr.String())
	if err := m.sleep(ctx, m.cfg.RebaseRecheckDelay); err != nil {
		return false, err
	}

	state, err := m.forge.FetchState(ctx, pr)
	if err != nil {
		if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
			return false, err
		}
		state, err = m.forge.FetchState(ctx, pr)
		if err != nil {
			slog.Debug("late re-check fetch failed twice, assuming unchanged", "pr", pr.String(), "error", err)
			return false, nil
		}
	}

	if state.Merge == forge.MergeStateBehind ||
		(state.Checks != forge.CheckStatusSuccess && state.Checks != forge.CheckStatusNone) {
		return true, nil
	}
	wait, err := m.tracker.Outstanding(ctx, pr, state.PendingReviewers)
	if err != nil {
		slog.Debug("late re-check tracking failed, assuming unchanged", "pr", pr.String(), "error", err)
		return false, nil
	}
	return wait.Pending(), nil
}

// handleReviewError runs the bounded retry flow for an errored automated
// review: re-request, then wait-poll until the retried review lands or the
// wait budget runs out. Exhausting all retries is terminal.
func (m *Monitor) handleReviewError(ctx context.Context, pr forge.PR, st *loopState, errReview *forge.Review) (bool, Result) {
	if errReview.ID != st.lastErrorReviewID {
		st.lastErrorReviewID = errReview.ID
		m.record(ctx, pr, Event{
			Type:    EventReviewError,
			Message: fmt.Sprintf("automated review errored: %s", firstLine(errReview.Body)),
		})
	}

	if st.copilotRetries >= m.cfg.MaxCopilotRetries {
		return true, m.finish(st, false,
			fmt.Sprintf("Copilot review failed after %d retries", st.copilotRetries))
	}
	st.copilotRetries++

	slog.Info("re-requesting errored automated review",
		"pr", pr.String(), "attempt", st.copilotRetries, "max", m.cfg.MaxCopilotRetries)
	m.record(ctx, pr, Event{
		Type:    EventRetryRequested,
		Message: fmt.Sprintf("re-requested Copilot review, attempt %d of %d", st.copilotRetries, m.cfg.MaxCopilotRetries),
	})

	requestedAt := m.now()
	if err := m.forge.RequestReview(ctx, pr, copilotReviewer); err != nil {
		slog.Warn("review re-request failed, attempt still counts", "pr", pr.String(), "error", err)
		return false, Result{}
	}

	status, err := m.waitForRetriedReview(ctx, pr, requestedAt)
	if err != nil {
		return true, m.finish(st, false, fmt.Sprintf("monitoring cancelled: %v", err))
	}
	slog.Debug("retry wait concluded", "pr", pr.String(), "status", status.String())
	// Either outcome returns to the main loop: a fresh error triggers the
	// next retry, a clean review falls through to the success path.
	return false, Result{}
}

// waitForRetriedReview polls a bounded number of times for the re-requested
// review to land. Exhaustion is not a failure; the main loop re-evaluates.
func (m *Monitor) waitForRetriedReview(ctx context.Context, pr forge.PR, requestedAt time.Time) (RetryWaitStatus, error) {
	for i := 0; i < m.cfg.MaxRetryWaitPolls; i++ {
		if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
			return RetryWaitTimeout, err
		}
		reviews, err := m.forge.ListReviews(ctx, pr)
		if err != nil {
			slog.Debug("review listing failed during retry wait", "pr", pr.String(), "error", err)
			continue
		}
		if copilotReviewSubmittedAfter(reviews, requestedAt) != nil {
			return RetryWaitContinue, nil
		}
	}
	return RetryWaitTimeout, nil
}

// handleRecreate runs the pending-timeout escape hatch. Success is terminal;
// the replacement PR gets its own run. Failure consumes the attempt and the
// loop keeps polling the original PR.
func (m *Monitor) handleRecreate(ctx context.Context, pr forge.PR, st *loopState, recreator *PendingTimeoutRecreator) (bool, Result) {
	outcome, err := recreator.Recreate(ctx, pr)
	if err != nil {
		m.record(ctx, pr, Event{
			Type:            EventRecreateAttempted,
			Message:         fmt.Sprintf("recreation failed: %v", err),
			SuggestedAction: "nudge the reviewer manually or close and reopen the PR",
		})
		return false, Result{}
	}

	m.record(ctx, pr, Event{
		Type:    EventRecreateAttempted,
		Message: outcome.Message,
	})

	res := m.finish(st, false, outcome.Message)
	res.Details = map[string]any{DetailRecreatedPR: outcome.NewNumber}
	return true, res
}

// saveCheckpoint persists resume state best-effort.
func (m *Monitor) saveCheckpoint(ctx context.Context, pr forge.PR, st *loopState, recreator *PendingTimeoutRecreator) {
	if m.Checkpoints == nil {
		return
	}
	cp := &Checkpoint{
		PR:               pr.String(),
		Merge:            st.lastMerge.String(),
		Checks:           st.lastChecks.String(),
		RebaseCount:      st.rebaseCount,
		CopilotRetries:   st.copilotRetries,
		RecreateAttempts: recreator.Attempts(),
		PendingSince:     st.pendingSince,
		UpdatedAt:        m.now(),
	}
	if err := m.Checkpoints.Save(ctx, cp); err != nil {
		slog.Debug("checkpoint save failed", "pr", pr.String(), "error", err)
	}
}

// record sends an event to the sink, logging rather than propagating sink
// failures.
func (m *Monitor) record(ctx context.Context, pr forge.PR, ev Event) {
	if err := m.Events.Record(ctx, pr, ev); err != nil {
		slog.Warn("event sink error", "pr", pr.String(), "type", ev.Type.String(), "error", err)
	}
}

// firstLine truncates a review body to its first line for log and event
// messages.
func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
