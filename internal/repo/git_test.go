package repo

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a git repository with one commit and returns its path.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}

	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644))
	run("add", ".")
	run("commit", "-m", "initial commit")

	return dir
}

func TestHasUncommittedChangesClean(t *testing.T) {
	dir := initRepo(t)
	g := NewGit(dir)

	dirty, err := g.HasUncommittedChanges(t.Context())
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestHasUncommittedChangesDirty(t *testing.T) {
	dir := initRepo(t)
	g := NewGit(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("changed\n"), 0644))

	dirty, err := g.HasUncommittedChanges(t.Context())
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestRunErrorIncludesOutput(t *testing.T) {
	dir := initRepo(t)
	g := NewGit(dir)

	_, err := g.run(t.Context(), "checkout", "no-such-branch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git checkout no-such-branch")
}

func TestHasUncommittedChangesOutsideRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	g := NewGit(t.TempDir())

	_, err := g.HasUncommittedChanges(t.Context())
	assert.Error(t, err)
}
