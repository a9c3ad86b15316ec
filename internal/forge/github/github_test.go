package github

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prwatch/prwatch/internal/forge"
)

func TestMapMergeState(t *testing.T) {
	assert.Equal(t, forge.MergeStateClean, mapMergeState("clean"))
	assert.Equal(t, forge.MergeStateClean, mapMergeState("CLEAN"))
	assert.Equal(t, forge.MergeStateDirty, mapMergeState("dirty"))
	assert.Equal(t, forge.MergeStateBlocked, mapMergeState("BLOCKED"))
	assert.Equal(t, forge.MergeStateBehind, mapMergeState("BEHIND"))
	assert.Equal(t, forge.MergeStateUnstable, mapMergeState("unstable"))
	assert.Equal(t, forge.MergeStateHasHooks, mapMergeState("has_hooks"))
	assert.Equal(t, forge.MergeStateUnknown, mapMergeState(""))
	assert.Equal(t, forge.MergeStateUnknown, mapMergeState("draft"))
}

func TestCheckAggregateNoChecks(t *testing.T) {
	agg := checkAggregate{}
	assert.Equal(t, forge.CheckStatusNone, agg.status())
}

func TestCheckAggregateAllSuccess(t *testing.T) {
	agg := checkAggregate{}
	agg.addCheckRun("completed", "success")
	agg.addCheckRun("completed", "success")
	agg.addCommitStatus("success")
	assert.Equal(t, forge.CheckStatusSuccess, agg.status())
}

func TestCheckAggregateFailureWins(t *testing.T) {
	agg := checkAggregate{}
	agg.addCheckRun("completed", "success")
	agg.addCheckRun("in_progress", "")
	agg.addCheckRun("completed", "failure")
	agg.addCheckRun("completed", "cancelled")
	assert.Equal(t, forge.CheckStatusFailure, agg.status())
}

func TestCheckAggregateCancelledBeatsPending(t *testing.T) {
	agg := checkAggregate{}
	agg.addCheckRun("in_progress", "")
	agg.addCheckRun("completed", "cancelled")
	assert.Equal(t, forge.CheckStatusCancelled, agg.status())
}

func TestCheckAggregatePendingBeatsSuccess(t *testing.T) {
	agg := checkAggregate{}
	agg.addCheckRun("completed", "success")
	agg.addCheckRun("queued", "")
	assert.Equal(t, forge.CheckStatusPending, agg.status())
}

func TestCheckAggregateTimedOutIsFailure(t *testing.T) {
	agg := checkAggregate{}
	agg.addCheckRun("completed", "timed_out")
	assert.Equal(t, forge.CheckStatusFailure, agg.status())
}

func TestCheckAggregateCommitStatusError(t *testing.T) {
	agg := checkAggregate{}
	agg.addCommitStatus("error")
	assert.Equal(t, forge.CheckStatusFailure, agg.status())
}

func TestCheckAggregateSkippedAndNeutralCount(t *testing.T) {
	// Skipped or neutral conclusions conclude without failing.
	agg := checkAggregate{}
	agg.addCheckRun("completed", "skipped")
	agg.addCheckRun("completed", "neutral")
	assert.Equal(t, forge.CheckStatusSuccess, agg.status())
}
