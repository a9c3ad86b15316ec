package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prwatch/prwatch/internal/store"
)

// Checkpoint is the monitor's resume state, persisted after every poll so a
// crashed or interrupted run leaves a readable record of where it got to.
type Checkpoint struct {
	PR               string
	Merge            string
	Checks           string
	RebaseCount      int
	CopilotRetries   int
	RecreateAttempts int
	PendingSince     time.Time
	UpdatedAt        time.Time
}

// FileCheckpoints stores checkpoints as frontmatter documents, one file per
// PR, under a data directory. Writes go through a file lock so concurrent
// runs against the same PR never interleave.
type FileCheckpoints struct {
	dir string
}

// NewFileCheckpoints returns a checkpoint store rooted at dir. An empty dir
// selects the default data directory.
func NewFileCheckpoints(dir string) *FileCheckpoints {
	if dir == "" {
		dir = defaultCheckpointDir()
	}
	return &FileCheckpoints{dir: dir}
}

func defaultCheckpointDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "prwatch", "checkpoints")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "prwatch", "checkpoints")
	}
	return filepath.Join(home, ".local", "share", "prwatch", "checkpoints")
}

// checkpointPath maps a PR identifier to a filesystem-safe document path.
func (c *FileCheckpoints) checkpointPath(pr string) string {
	safe := strings.NewReplacer("/", "-", "#", "-").Replace(pr)
	return filepath.Join(c.dir, safe+".md")
}

// Save persists the checkpoint, replacing any previous one for the same PR.
func (c *FileCheckpoints) Save(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := c.checkpointPath(cp.PR)
	doc := &store.Document{
		Frontmatter: map[string]any{
			"pr":                cp.PR,
			"merge":             cp.Merge,
			"checks":            cp.Checks,
			"rebase_count":      cp.RebaseCount,
			"copilot_retries":   cp.CopilotRetries,
			"recreate_attempts": cp.RecreateAttempts,
			"updated_at":        store.FormatTime(cp.UpdatedAt),
		},
		Body: fmt.Sprintf("# Monitor checkpoint for %s\n", cp.PR),
	}
	if !cp.PendingSince.IsZero() {
		doc.Frontmatter["pending_since"] = store.FormatTime(cp.PendingSince)
	}

	return store.WithLock(path, store.DefaultLockTimeout, func() error {
		return store.WriteDocument(path, doc)
	})
}

// Load reads the checkpoint for a PR, or returns nil when none exists.
func (c *FileCheckpoints) Load(pr string) (*Checkpoint, error) {
	path := c.checkpointPath(pr)
	if !store.Exists(path) {
		return nil, nil
	}

	doc, err := store.ReadDocument(path)
	if err != nil {
		return nil, err
	}

	fm := doc.Frontmatter
	return &Checkpoint{
		PR:               store.GetString(fm, "pr"),
		Merge:            store.GetString(fm, "merge"),
		Checks:           store.GetString(fm, "checks"),
		RebaseCount:      store.GetInt(fm, "rebase_count"),
		CopilotRetries:   store.GetInt(fm, "copilot_retries"),
		RecreateAttempts: store.GetInt(fm, "recreate_attempts"),
		PendingSince:     store.GetTime(fm, "pending_since"),
		UpdatedAt:        store.GetTime(fm, "updated_at"),
	}, nil
}
