package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prwatch/prwatch/internal/forge"
)

// CheckReport is the outcome of a single-shot inspection.
type CheckReport struct {
	State *forge.PRState
	// Pending lists the automated reviewers currently outstanding, for the
	// caller to carry into the next inspection.
	Pending []string
	// Event is non-nil when this inspection detected something actionable.
	Event *Event
}

// CheckOnce inspects the PR once without looping: fetch state, track
// outstanding automated review, and detect an errored review submission.
// previousPending carries the reviewer set from the caller's last
// inspection so a reviewer that disappeared behind an errored review is
// caught. Repeated calls against unchanged state report the same thing and
// record nothing new.
func (m *Monitor) CheckOnce(ctx context.Context, pr forge.PR, previousPending []string) (*CheckReport, error) {
	state, err := m.forge.FetchState(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("fetching state for %s: %w", pr.String(), err)
	}

	wait, err := m.tracker.Outstanding(ctx, pr, state.PendingReviewers)
	if err != nil {
		return nil, fmt.Errorf("tracking reviewers for %s: %w", pr.String(), err)
	}

	report := &CheckReport{State: state, Pending: wait.Reviewers}

	// A reviewer present last time and gone now, with the latest review
	// errored, means the review attempt failed rather than completed.
	if !hadAIReviewer(previousPending) || wait.Assigned {
		return report, nil
	}

	reviews, err := m.forge.ListReviews(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("listing reviews for %s: %w", pr.String(), err)
	}
	errReview, ok := LatestCopilotError(reviews)
	if !ok {
		return report, nil
	}

	ev := Event{
		Type:            EventReviewError,
		Message:         fmt.Sprintf("automated review errored: %s", firstLine(errReview.Body)),
		SuggestedAction: "re-request the review or run the full monitor",
	}
	report.Event = &ev
	slog.Info("check found errored automated review", "pr", pr.String(), "reviewID", errReview.ID)
	m.record(ctx, pr, ev)

	return report, nil
}

func hadAIReviewer(reviewers []string) bool {
	for _, r := range reviewers {
		if IsAIReviewer(r) {
			return true
		}
	}
	return false
}
