package monitor

import (
	"context"
	"time"

	"github.com/prwatch/prwatch/internal/forge"
)

// Default bounds for a monitor run. Each is overridable via Config.
const (
	// DefaultMaxCopilotRetry bounds how many times a failed Copilot review
	// is re-requested before the run fails.
	DefaultMaxCopilotRetry = 3
	// DefaultMaxRetryWaitPolls bounds the wait-poll phase after each retry
	// request. Exhausting it advances to the next retry attempt; it is not
	// itself a failure.
	DefaultMaxRetryWaitPolls = 4
	// DefaultCopilotPendingTimeout is how long an automated reviewer may
	// sit pending before the PR is recreated.
	DefaultCopilotPendingTimeout = 5 * time.Minute
	// DefaultMaxPRRecreate bounds recreation attempts per run.
	DefaultMaxPRRecreate = 1
	// DefaultMaxRebaseAttempts bounds failed rebase attempts per run.
	// Past the bound, BEHIND polls wait instead of re-invoking the rebase.
	DefaultMaxRebaseAttempts = 3
	// DefaultPollInterval is the fixed wait between polls.
	DefaultPollInterval = 30 * time.Second
	// DefaultRebaseRecheckDelay is the one-time delay before the post-rebase
	// re-check that catches reviewers re-requesting themselves.
	DefaultRebaseRecheckDelay = 30 * time.Second
	// DefaultTimeout is the wall-clock budget when the caller passes none.
	DefaultTimeout = 45 * time.Minute
	// defaultRateFloor is the advisory minimum of remaining API calls.
	defaultRateFloor = 50
)

// RetryWaitStatus is the outcome of one bounded wait-poll cycle while a
// retried automated review is in flight.
type RetryWaitStatus int

const (
	// RetryWaitContinue means the retried review resolved; return to the
	// normal success path.
	RetryWaitContinue RetryWaitStatus = iota
	// RetryWaitTimeout means the wait-poll budget ran out; proceed to the
	// next retry attempt.
	RetryWaitTimeout
)

func (s RetryWaitStatus) String() string {
	if s == RetryWaitTimeout {
		return "timeout"
	}
	return "continue"
}

// EventType classifies a monitor event.
type EventType int

const (
	// EventUnknown is the zero value — invalid, must not be recorded.
	EventUnknown EventType = iota
	// EventReviewError means an automated review submission matched a known
	// failure phrasing.
	EventReviewError
	// EventFetchError means a state fetch failed and will be retried.
	EventFetchError
	// EventRebaseFailed means a rebase attempt failed.
	EventRebaseFailed
	// EventRetryRequested means a failed automated review was re-requested.
	EventRetryRequested
	// EventRecreateAttempted means a pending-timeout recreation was attempted.
	EventRecreateAttempted
	// EventEarlyExit means the run terminated early because review feedback
	// already existed.
	EventEarlyExit
	// EventTimeout means the run exceeded its wall-clock budget.
	EventTimeout
)

func (t EventType) String() string {
	switch t {
	case EventReviewError:
		return "review_error"
	case EventFetchError:
		return "fetch_error"
	case EventRebaseFailed:
		return "rebase_failed"
	case EventRetryRequested:
		return "retry_requested"
	case EventRecreateAttempted:
		return "recreate_attempted"
	case EventEarlyExit:
		return "early_exit"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ParseEventType maps an event type name back to its EventType. Unknown
// names return EventUnknown.
func ParseEventType(s string) EventType {
	for _, t := range []EventType{
		EventReviewError, EventFetchError, EventRebaseFailed,
		EventRetryRequested, EventRecreateAttempted, EventEarlyExit,
		EventTimeout,
	} {
		if t.String() == s {
			return t
		}
	}
	return EventUnknown
}

// Event is one structured observation from the monitor, consumed by the
// loop itself and by telemetry sinks.
type Event struct {
	Type    EventType
	Message string
	// SuggestedAction is an optional human-facing next step.
	SuggestedAction string
}

// Result is the single terminal artifact of a monitor run. It is
// constructed once at exit and never mutated afterward.
type Result struct {
	Success         bool
	Message         string
	CIPassed        bool
	ReviewCompleted bool
	// RebaseCount is the number of successful rebase invocations during
	// the run.
	RebaseCount int
	// Details carries structured diagnostics, e.g. DetailRecreatedPR.
	Details map[string]any
}

// Details keys for structured Result diagnostics.
const (
	// DetailRecreatedPR holds the replacement PR number after a
	// pending-timeout recreation.
	DetailRecreatedPR = "recreated_pr"
	// DetailInScopeComments holds the count of review comments on files the
	// PR touches, set on early exit.
	DetailInScopeComments = "in_scope_comments"
	// DetailOutOfScopeComments holds the count of review comments outside
	// the PR's changed files, set on early exit.
	DetailOutOfScopeComments = "out_of_scope_comments"
)

// EventSink records structured events. Sinks are best-effort: the monitor
// logs sink errors and keeps going.
type EventSink interface {
	Record(ctx context.Context, pr forge.PR, ev Event) error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(context.Context, forge.PR, Event) error { return nil }

// MultiSink fans events out to several sinks. The first error is returned
// after all sinks have been tried.
func MultiSink(sinks ...EventSink) EventSink {
	return multiSink(sinks)
}

type multiSink []EventSink

func (m multiSink) Record(ctx context.Context, pr forge.PR, ev Event) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, pr, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// CheckpointSaver persists opaque resume state. Best-effort side channel:
// failures are logged, never surfaced.
type CheckpointSaver interface {
	Save(ctx context.Context, cp *Checkpoint) error
}

// GitClient is the local version-control collaborator consumed by the
// rebase coordinator. internal/repo provides the real implementation.
type GitClient interface {
	HasUncommittedChanges(ctx context.Context) (bool, error)
	FetchAndRebase(ctx context.Context, sourceBranch, targetBranch string) error
}

// Options control a single monitor run.
type Options struct {
	// Timeout is the wall-clock budget. Zero means DefaultTimeout.
	Timeout time.Duration
	// EarlyExit terminates the run as soon as any review feedback exists,
	// letting remediation begin before CI and review complete.
	EarlyExit bool
}
