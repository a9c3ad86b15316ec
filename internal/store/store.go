package store

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"
)

// Document represents a markdown file with YAML frontmatter.
type Document struct {
	Frontmatter map[string]any
	Body        string
}

// ReadDocument reads a markdown file with YAML frontmatter.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", path, err)
	}

	var matter map[string]any
	body, err := frontmatter.Parse(strings.NewReader(string(data)), &matter)
	if err != nil {
		// No frontmatter: the entire content is the body.
		slog.Debug("no frontmatter found in document", "path", path, "error", err)
		return &Document{
			Frontmatter: make(map[string]any),
			Body:        string(data),
		}, nil
	}

	return &Document{
		Frontmatter: matter,
		Body:        string(body),
	}, nil
}

// WriteDocument writes a markdown file with YAML frontmatter.
func WriteDocument(path string, doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	var buf bytes.Buffer

	if len(doc.Frontmatter) > 0 {
		buf.WriteString("---\n")
		fm, err := yaml.Marshal(doc.Frontmatter)
		if err != nil {
			return fmt.Errorf("marshaling frontmatter: %w", err)
		}
		buf.Write(fm)
		buf.WriteString("---\n\n")
	}

	buf.WriteString(doc.Body)

	return atomicWriteFile(path, buf.Bytes(), 0644)
}

// atomicWriteFile writes data to a temp file then renames it into place,
// preventing partial writes on crash or disk-full.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Exists checks if a file exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetString returns a string value from frontmatter.
func GetString(fm map[string]any, key string) string {
	if v, ok := fm[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetInt returns an int value from frontmatter.
func GetInt(fm map[string]any, key string) int {
	if v, ok := fm[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		case int64:
			return int(n)
		}
	}
	return 0
}

// GetBool returns a bool value from frontmatter.
func GetBool(fm map[string]any, key string) bool {
	if v, ok := fm[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// GetTime returns a time.Time value from frontmatter. Accepts native YAML
// timestamps and RFC3339 strings.
func GetTime(fm map[string]any, key string) time.Time {
	if v, ok := fm[key]; ok {
		switch t := v.(type) {
		case time.Time:
			return t
		case string:
			parsed, err := time.Parse(time.RFC3339, t)
			if err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// FormatTime formats a time for frontmatter storage.
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
