package monitor

import (
	"strings"
	"time"

	"github.com/prwatch/prwatch/internal/forge"
)

// copilotReviewer is the reviewer identifier used when re-requesting a
// Copilot review.
const copilotReviewer = "Copilot"

// copilotErrorPhrases are the known failure phrasings an errored automated
// review contains, matched case-insensitively.
var copilotErrorPhrases = []string{
	"encountered an error",
	"unable to review",
	"could not complete",
	"failed to review",
	"error occurred during review",
}

// IsReviewError reports whether a review body matches a known failure
// phrasing.
func IsReviewError(body string) bool {
	lower := strings.ToLower(body)
	for _, phrase := range copilotErrorPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// latestReviewByAuthor returns the most recently submitted review whose
// author contains the given fragment (case-insensitive), or nil.
func latestReviewByAuthor(reviews []forge.Review, fragment string) *forge.Review {
	var latest *forge.Review
	for i := range reviews {
		r := &reviews[i]
		if !strings.Contains(strings.ToLower(r.Author), fragment) {
			continue
		}
		if latest == nil || r.SubmittedAt.After(latest.SubmittedAt) {
			latest = r
		}
	}
	return latest
}

// LatestCopilotError returns the most recent Copilot review if — and only
// if — it matches a known failure phrasing. A stale error superseded by a
// later submission is never reported.
func LatestCopilotError(reviews []forge.Review) (*forge.Review, bool) {
	latest := latestReviewByAuthor(reviews, "copilot")
	if latest == nil || !IsReviewError(latest.Body) {
		return nil, false
	}
	return latest, true
}

// copilotReviewSubmittedAfter returns the most recent Copilot review
// submitted strictly after the given time, or nil.
func copilotReviewSubmittedAfter(reviews []forge.Review, since time.Time) *forge.Review {
	latest := latestReviewByAuthor(reviews, "copilot")
	if latest == nil || !latest.SubmittedAt.After(since) {
		return nil
	}
	return latest
}
