package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prwatch/prwatch/internal/forge"
)

// fakeForge is a scripted forge backend. FetchState walks through states in
// order and repeats the last one.
type fakeForge struct {
	mu sync.Mutex

	states   []*forge.PRState
	stateIdx int
	fetchErr error // returned once by the next FetchState, then cleared

	reviews  []forge.Review
	comments []forge.Comment
	files    []string

	info      *forge.PRInfo
	reactions map[int64]bool

	reviewRequests []string
	requestErr     error

	recreateResult *forge.RecreateResult
	recreateErr    error
	recreates      int

	// addReviewAt appends addReview once ListReviews has been called that
	// many times, simulating a retried review landing mid-wait.
	listCalls   int
	addReviewAt int
	addReview   *forge.Review
}

func (f *fakeForge) Name() string { return "fake" }

func (f *fakeForge) GetPR(context.Context, forge.PR) (*forge.PRInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.info == nil {
		return nil, errors.New("no PR info scripted")
	}
	return f.info, nil
}

func (f *fakeForge) FetchState(context.Context, forge.PR) (*forge.PRState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		err := f.fetchErr
		f.fetchErr = nil
		return nil, err
	}
	st := f.states[f.stateIdx]
	if f.stateIdx < len(f.states)-1 {
		f.stateIdx++
	}
	return st, nil
}

func (f *fakeForge) ListReviews(context.Context, forge.PR) ([]forge.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.addReview != nil && f.listCalls >= f.addReviewAt {
		f.reviews = append(f.reviews, *f.addReview)
		f.addReview = nil
	}
	return append([]forge.Review(nil), f.reviews...), nil
}

func (f *fakeForge) ListComments(context.Context, forge.PR) ([]forge.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]forge.Comment(nil), f.comments...), nil
}

func (f *fakeForge) ChangedFiles(context.Context, forge.PR) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.files...), nil
}

func (f *fakeForge) RequestReview(_ context.Context, _ forge.PR, reviewer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewRequests = append(f.reviewRequests, reviewer)
	return f.requestErr
}

func (f *fakeForge) PostComment(context.Context, forge.PR, string) error { return nil }

func (f *fakeForge) Recreate(context.Context, forge.PR) (*forge.RecreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recreates++
	if f.recreateErr != nil {
		return nil, f.recreateErr
	}
	return f.recreateResult, nil
}

func (f *fakeForge) HasReaction(_ context.Context, _ forge.PR, commentID int64, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reactions[commentID], nil
}

func (f *fakeForge) RateBudget(context.Context) (*forge.RateBudget, error) {
	return &forge.RateBudget{Remaining: 5000, Limit: 5000}, nil
}

// fakeGit records rebase calls.
type fakeGit struct {
	dirty     bool
	rebaseErr error
	rebases   int
}

func (g *fakeGit) HasUncommittedChanges(context.Context) (bool, error) { return g.dirty, nil }

func (g *fakeGit) FetchAndRebase(context.Context, string, string) error {
	g.rebases++
	return g.rebaseErr
}

// fakeClock advances instantly on every sleep so runs finish in microseconds
// while the loop still observes the passage of time.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return nil
}

// captureSink collects recorded events.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Record(_ context.Context, _ forge.PR, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) ofType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func testPR() forge.PR {
	return forge.PR{Owner: "acme", Repo: "widgets", Number: 42}
}

func newTestMonitor(f *fakeForge, git GitClient) (*Monitor, *fakeClock, *captureSink) {
	m := New(f, git, Config{})
	clock := newFakeClock()
	sink := &captureSink{}
	m.now = clock.Now
	m.sleep = clock.Sleep
	m.Events = sink
	return m, clock, sink
}

func state(merge forge.MergeState, checks forge.CheckStatus, reviewers ...string) *forge.PRState {
	return &forge.PRState{Merge: merge, Checks: checks, PendingReviewers: reviewers}
}

func TestRunCleanPassNoReviewers(t *testing.T) {
	f := &fakeForge{states: []*forge.PRState{
		state(forge.MergeStateClean, forge.CheckStatusPending),
		state(forge.MergeStateClean, forge.CheckStatusPending),
		state(forge.MergeStateClean, forge.CheckStatusSuccess),
	}}
	m, _, _ := newTestMonitor(f, nil)

	result := m.Run(context.Background(), testPR(), Options{})

	assert.True(t, result.Success)
	assert.True(t, result.CIPassed)
	assert.False(t, result.ReviewCompleted, "no review was ever outstanding")
	assert.Equal(t, 0, result.RebaseCount)
}

func TestRunBehindBranchRebasesThenPasses(t *testing.T) {
	f := &fakeForge{
		states: []*forge.PRState{
			state(forge.MergeStateBehind, forge.CheckStatusPending),
			state(forge.MergeStateClean, forge.CheckStatusPending),
			state(forge.MergeStateClean, forge.CheckStatusSuccess),
		},
		info: &forge.PRInfo{HeadBranch: "feature", BaseBranch: "main"},
	}
	git := &fakeGit{}
	m, _, _ := newTestMonitor(f, git)

	result := m.Run(context.Background(), testPR(), Options{})

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.RebaseCount)
	assert.Equal(t, 1, git.rebases)
}

func TestRunRebaseDeclinedOnDirtyTree(t *testing.T) {
	f := &fakeForge{
		states: []*forge.PRState{
			state(forge.MergeStateBehind, forge.CheckStatusPending),
		},
		info: &forge.PRInfo{HeadBranch: "feature", BaseBranch: "main"},
	}
	git := &fakeGit{dirty: true}
	m, _, sink := newTestMonitor(f, git)

	result := m.Run(context.Background(), testPR(), Options{Timeout: 5 * time.Minute})

	assert.False(t, result.Success)
	assert.Equal(t, 0, git.rebases, "a dirty tree must never be rebased")
	assert.Equal(t, 0, result.RebaseCount)
	failures := sink.ofType(EventRebaseFailed)
	require.NotEmpty(t, failures)
	assert.Contains(t, failures[0].Message, "uncommitted changes")
}

func TestRunRebaseAttemptsBounded(t *testing.T) {
	f := &fakeForge{
		states: []*forge.PRState{
			state(forge.MergeStateBehind, forge.CheckStatusPending),
		},
		info: &forge.PRInfo{HeadBranch: "feature", BaseBranch: "main"},
	}
	git := &fakeGit{rebaseErr: errors.New("merge conflict")}
	m, _, sink := newTestMonitor(f, git)

	result := m.Run(context.Background(), testPR(), Options{Timeout: 10 * time.Minute})

	assert.False(t, result.Success)
	assert.Equal(t, DefaultMaxRebaseAttempts, git.rebases)
	assert.Len(t, sink.ofType(EventRebaseFailed), DefaultMaxRebaseAttempts)
}

func TestRunCITerminalFailure(t *testing.T) {
	f := &fakeForge{states: []*forge.PRState{
		state(forge.MergeStateUnstable, forge.CheckStatusFailure),
	}}
	m, _, _ := newTestMonitor(f, nil)

	result := m.Run(context.Background(), testPR(), Options{})

	assert.False(t, result.Success)
	assert.False(t, result.CIPassed)
	assert.Contains(t, result.Message, "failure")
}

func TestRunCIFailureBeatsEarlyExit(t *testing.T) {
	f := &fakeForge{
		states: []*forge.PRState{
			state(forge.MergeStateUnstable, forge.CheckStatusFailure),
		},
		comments: []forge.Comment{
			{ID: 1, Author: "copilot", Body: "nit: rename this", FilePath: "main.go", Line: 3},
		},
		files: []string{"main.go"},
	}
	m, _, sink := newTestMonitor(f, nil)

	result := m.Run(context.Background(), testPR(), Options{EarlyExit: true})

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "failure")
	assert.Empty(t, sink.ofType(EventEarlyExit))
}

func TestRunEarlyExitOnReviewFeedback(t *testing.T) {
	f := &fakeForge{
		states: []*forge.PRState{
			state(forge.MergeStateClean, forge.CheckStatusPending),
		},
		comments: []forge.Comment{
			{ID: 1, Author: "copilot", Body: "nit: rename this", FilePath: "main.go", Line: 3},
			{ID: 2, Author: "copilot", Body: "unrelated note", FilePath: "legacy.go", Line: 9},
		},
		files: []string{"main.go"},
	}
	m, _, sink := newTestMonitor(f, nil)

	result := m.Run(context.Background(), testPR(), Options{EarlyExit: true})

	assert.True(t, result.Success, "feedback in hand counts as a successful run")
	assert.True(t, result.ReviewCompleted)
	assert.False(t, result.CIPassed, "checks never finished")
	assert.Contains(t, result.Message, "early exit")
	assert.Equal(t, 1, result.Details[DetailInScopeComments])
	assert.Equal(t, 1, result.Details[DetailOutOfScopeComments])
	assert.Len(t, sink.ofType(EventEarlyExit), 1)
}

func TestRunCopilotRetriesExhausted(t *testing.T) {
	errBody := "Copilot encountered an error while reviewing this pull request."
	f := &fakeForge{
		states: []*forge.PRState{
			state(forge.MergeStateClean, forge.CheckStatusSuccess),
		},
		reviews: []forge.Review{
			{ID: 7, Author: "Copilot", Body: errBody, State: "COMMENTED",
				SubmittedAt: time.Date(2026, 1, 10, 8, 55, 0, 0, time.UTC)},
		},
	}
	m, _, sink := newTestMonitor(f, nil)

	result := m.Run(context.Background(), testPR(), Options{})

	assert.False(t, result.Success)
	assert.True(t, result.CIPassed, "CI was green before the review failed")
	assert.Contains(t, result.Message, "after 3 retries")
	assert.Equal(t, []string{"Copilot", "Copilot", "Copilot"}, f.reviewRequests,
		"exactly three re-requests before giving up")
	assert.Len(t, sink.ofType(EventRetryRequested), 3)
	assert.Len(t, sink.ofType(EventReviewError), 1, "the same stale error is reported once")
}

func TestRunCopilotRetryResolves(t *testing.T) {
	errBody := "Copilot was unable to review this pull request."
	f := &fakeForge{
		states: []*forge.PRState{
			state(forge.MergeStateClean, forge.CheckStatusSuccess),
		},
		reviews: []forge.Review{
			{ID: 7, Author: "Copilot", Body: errBody, State: "COMMENTED",
				SubmittedAt: time.Date(2026, 1, 10, 8, 55, 0, 0, time.UTC)},
		},
		// The retried review lands during the wait-poll phase.
		addReviewAt: 3,
		addReview: &forge.Review{ID: 8, Author: "Copilot", Body: "Looks good.", State: "APPROVED",
			SubmittedAt: time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)},
	}
	m, _, _ := newTestMonitor(f, nil)

	result := m.Run(context.Background(), testPR(), Options{})

	assert.True(t, result.Success)
	assert.Equal(t, []string{"Copilot"}, f.reviewRequests, "one retry was enough")
}

func TestRunRecreatesStuckReviewer(t *testing.T) {
	f := &fakeForge{
		states: []*forge.PRState{
			state(forge.MergeStateClean, forge.CheckStatusSuccess, "Copilot"),
		},
		recreateResult: &forge.RecreateResult{NewNumber: 43, Message: "recreated"},
	}
	m, clock, sink := newTestMonitor(f, nil)
	start := clock.Now()

	result := m.Run(context.Background(), testPR(), Options{})

	assert.False(t, result.Success)
	assert.Equal(t, 43, result.Details[DetailRecreatedPR])
	assert.Equal(t, 1, f.recreates)
	assert.Len(t, sink.ofType(EventRecreateAttempted), 1)
	assert.Greater(t, clock.Now().Sub(start), DefaultCopilotPendingTimeout,
		"recreation only after the pending timeout elapsed")
}

func TestRunRecreateAttemptsBounded(t *testing.T) {
	f := &fakeForge{
		states: []*forge.PRState{
			state(forge.MergeStateClean, forge.CheckStatusSuccess, "Copilot"),
		},
		recreateErr: errors.New("API error"),
	}
	m, _, _ := newTestMonitor(f, nil)

	result := m.Run(context.Background(), testPR(), Options{Timeout: 20 * time.Minute})

	assert.False(t, result.Success)
	assert.True(t, result.CIPassed, "CI stayed green even though the run timed out")
	assert.Equal(t, 1, f.recreates, "a failed recreation still consumes the only attempt")
	assert.Contains(t, result.Message, "timed out")
}

func TestRunPendingTimerResetsBetweenEpisodes(t *testing.T) {
	// Episode one: a reviewer goes pending for a single poll. Then the
	// reviewer set empties while CI churns for well over the pending timeout.
	// Episode two must start its own timeout budget rather than inherit the
	// elapsed time, so recreation fires only after it accrues five minutes
	// of its own.
	states := []*forge.PRState{
		state(forge.MergeStateClean, forge.CheckStatusSuccess, "Copilot"),
	}
	for i := 0; i < 11; i++ {
		states = append(states, state(forge.MergeStateClean, forge.CheckStatusPending))
	}
	states = append(states, state(forge.MergeStateClean, forge.CheckStatusSuccess, "Copilot"))

	f := &fakeForge{
		states:         states,
		recreateResult: &forge.RecreateResult{NewNumber: 43, Message: "recreated"},
	}
	m, clock, _ := newTestMonitor(f, nil)
	start := clock.Now()

	result := m.Run(context.Background(), testPR(), Options{Timeout: 30 * time.Minute})

	assert.Equal(t, 43, result.Details[DetailRecreatedPR])
	assert.GreaterOrEqual(t, clock.Now().Sub(start), 11*time.Minute,
		"the second pending episode gets its own timeout budget")
}

func TestRunWallClockTimeout(t *testing.T) {
	f := &fakeForge{states: []*forge.PRState{
		state(forge.MergeStateClean, forge.CheckStatusPending),
	}}
	m, _, sink := newTestMonitor(f, nil)

	result := m.Run(context.Background(), testPR(), Options{Timeout: 2 * time.Minute})

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "timed out after 2m0s")
	assert.Len(t, sink.ofType(EventTimeout), 1)
}

func TestRunFetchErrorIsTransient(t *testing.T) {
	f := &fakeForge{
		states: []*forge.PRState{
			state(forge.MergeStateClean, forge.CheckStatusSuccess),
		},
		fetchErr: errors.New("503 from API"),
	}
	m, _, sink := newTestMonitor(f, nil)

	result := m.Run(context.Background(), testPR(), Options{})

	assert.True(t, result.Success, "one failed fetch must not end the run")
	require.Len(t, sink.ofType(EventFetchError), 1)
	assert.Contains(t, sink.ofType(EventFetchError)[0].Message, "503")
}

func TestRunPostRebaseLateCheckCatchesRegression(t *testing.T) {
	f := &fakeForge{
		states: []*forge.PRState{
			state(forge.MergeStateBehind, forge.CheckStatusPending),
			state(forge.MergeStateClean, forge.CheckStatusSuccess),
			// The late re-check sees checks pending again, so the loop keeps
			// going until the next green snapshot.
			state(forge.MergeStateClean, forge.CheckStatusPending),
			state(forge.MergeStateClean, forge.CheckStatusSuccess),
		},
		info: &forge.PRInfo{HeadBranch: "feature", BaseBranch: "main"},
	}
	git := &fakeGit{}
	m, _, _ := newTestMonitor(f, git)

	result := m.Run(context.Background(), testPR(), Options{})

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.RebaseCount)
}

func TestRunReviewCompletedAfterWait(t *testing.T) {
	f := &fakeForge{
		states: []*forge.PRState{
			state(forge.MergeStateClean, forge.CheckStatusSuccess, "Copilot"),
			state(forge.MergeStateClean, forge.CheckStatusSuccess),
		},
	}
	m, _, _ := newTestMonitor(f, nil)

	result := m.Run(context.Background(), testPR(), Options{})

	assert.True(t, result.Success)
	assert.True(t, result.ReviewCompleted, "a review was awaited and resolved")
}

func TestRunCancelledContext(t *testing.T) {
	f := &fakeForge{states: []*forge.PRState{
		state(forge.MergeStateClean, forge.CheckStatusPending),
	}}
	m, _, _ := newTestMonitor(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := m.Run(ctx, testPR(), Options{})

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "cancelled")
}

func TestRunNoChecksConfiguredConcludes(t *testing.T) {
	f := &fakeForge{states: []*forge.PRState{
		state(forge.MergeStateClean, forge.CheckStatusNone),
	}}
	m, _, _ := newTestMonitor(f, nil)

	result := m.Run(context.Background(), testPR(), Options{})

	assert.True(t, result.Success)
}

func TestMultiSinkFansOut(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	sink := MultiSink(a, b)

	err := sink.Record(context.Background(), testPR(), Event{Type: EventTimeout, Message: "m"})
	require.NoError(t, err)
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestRetryWaitStatusString(t *testing.T) {
	assert.Equal(t, "continue", RetryWaitContinue.String())
	assert.Equal(t, "timeout", RetryWaitTimeout.String())
}

func TestEventTypeRoundTrip(t *testing.T) {
	for _, et := range []EventType{
		EventReviewError, EventFetchError, EventRebaseFailed,
		EventRetryRequested, EventRecreateAttempted, EventEarlyExit, EventTimeout,
	} {
		assert.Equal(t, et, ParseEventType(et.String()), fmt.Sprintf("round trip for %s", et))
	}
	assert.Equal(t, EventUnknown, ParseEventType("bogus"))
}
