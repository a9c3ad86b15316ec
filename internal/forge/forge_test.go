package forge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePRBareNumber(t *testing.T) {
	pr, err := ParsePR("42", "acme", "widgets")
	require.NoError(t, err)
	assert.Equal(t, PR{Owner: "acme", Repo: "widgets", Number: 42}, pr)
}

func TestParsePRBareNumberWithoutDefaults(t *testing.T) {
	_, err := ParsePR("42", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forge.owner")
}

func TestParsePROwnerRepoNumber(t *testing.T) {
	pr, err := ParsePR("acme/widgets#7", "other", "other")
	require.NoError(t, err)
	assert.Equal(t, PR{Owner: "acme", Repo: "widgets", Number: 7}, pr)
}

func TestParsePRURL(t *testing.T) {
	pr, err := ParsePR("https://github.com/acme/widgets/pull/123", "", "")
	require.NoError(t, err)
	assert.Equal(t, PR{Owner: "acme", Repo: "widgets", Number: 123}, pr)
}

func TestParsePRInvalid(t *testing.T) {
	for _, s := range []string{"", "not-a-pr", "acme/widgets#x", "https://github.com/acme/widgets/issues/1"} {
		_, err := ParsePR(s, "acme", "widgets")
		assert.Error(t, err, s)
	}
}

func TestPRString(t *testing.T) {
	pr := PR{Owner: "acme", Repo: "widgets", Number: 42}
	assert.Equal(t, "acme/widgets#42", pr.String())
}

func TestMergeStateString(t *testing.T) {
	assert.Equal(t, "unknown", MergeStateUnknown.String())
	assert.Equal(t, "clean", MergeStateClean.String())
	assert.Equal(t, "behind", MergeStateBehind.String())
	assert.Equal(t, "has_hooks", MergeStateHasHooks.String())
}

func TestCheckStatusString(t *testing.T) {
	assert.Equal(t, "none", CheckStatusNone.String())
	assert.Equal(t, "pending", CheckStatusPending.String())
	assert.Equal(t, "success", CheckStatusSuccess.String())
	assert.Equal(t, "failure", CheckStatusFailure.String())
	assert.Equal(t, "cancelled", CheckStatusCancelled.String())
}
