package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prwatch/prwatch/internal/forge"
)

// RecreateOutcome is the terminal result of a successful pending-timeout
// recreation. The run ends here: the replacement PR gets its own run.
type RecreateOutcome struct {
	NewNumber int
	Message   string
}

// PendingTimeoutRecreator handles the stuck-reviewer escape hatch: when an
// automated reviewer has been assigned but silent past the timeout, the PR
// is closed and reopened so the reviewer gets a fresh trigger. Bounded to
// maxAttempts per run so a reviewer that never engages cannot cause churn.
type PendingTimeoutRecreator struct {
	forge       forge.Forge
	timeout     time.Duration
	maxAttempts int
	attempts    int
}

// NewPendingTimeoutRecreator returns a recreator with the given pending
// timeout and attempt bound. Zero values fall back to the defaults.
func NewPendingTimeoutRecreator(f forge.Forge, timeout time.Duration, maxAttempts int) *PendingTimeoutRecreator {
	if timeout <= 0 {
		timeout = DefaultCopilotPendingTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxPRRecreate
	}
	return &PendingTimeoutRecreator{forge: f, timeout: timeout, maxAttempts: maxAttempts}
}

// ShouldRecreate reports whether the pending duration has exceeded the
// timeout and the attempt budget still has room.
func (r *PendingTimeoutRecreator) ShouldRecreate(pendingSince, now time.Time) bool {
	if pendingSince.IsZero() || r.attempts >= r.maxAttempts {
		return false
	}
	return now.Sub(pendingSince) > r.timeout
}

// Recreate closes the PR and opens a replacement. On success the outcome is
// terminal for the run. On failure the attempt still counts against the
// budget and the caller keeps polling the original PR.
func (r *PendingTimeoutRecreator) Recreate(ctx context.Context, pr forge.PR) (*RecreateOutcome, error) {
	r.attempts++

	slog.Warn("automated reviewer pending past timeout, recreating",
		"pr", pr.String(), "timeout", r.timeout, "attempt", r.attempts)

	res, err := r.forge.Recreate(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("recreating %s: %w", pr.String(), err)
	}

	return &RecreateOutcome{
		NewNumber: res.NewNumber,
		Message:   fmt.Sprintf("recreated %s as #%d after reviewer pending %s", pr.String(), res.NewNumber, r.timeout),
	}, nil
}

// Attempts returns how many recreations have been attempted this run.
func (r *PendingTimeoutRecreator) Attempts() int {
	return r.attempts
}
