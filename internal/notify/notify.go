// Package notify posts terminal monitor outcomes to a configured webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prwatch/prwatch/internal/config"
)

// notifyHTTPClient is a dedicated HTTP client for notifications, isolated
// from http.DefaultClient to avoid global state mutation.
var notifyHTTPClient = &http.Client{Timeout: 15 * time.Second}

// Event is the kind of outcome that triggers a notification.
type Event string

const (
	EventRunSucceeded Event = "run_succeeded"
	EventRunFailed    Event = "run_failed"
	EventPRRecreated  Event = "pr_recreated"
)

// Payload carries details about a monitor outcome.
type Payload struct {
	Event       Event  `json:"event"`
	PR          string `json:"pr"`
	URL         string `json:"url,omitempty"`
	Message     string `json:"message"`
	CIPassed    bool   `json:"ci_passed"`
	RebaseCount int    `json:"rebase_count"`
	// RecreatedAs is the replacement PR number after a recreation.
	RecreatedAs int `json:"recreated_as,omitempty"`
}

// Notify posts the payload to the configured webhook. Returns nil
// immediately when no webhook is configured or the event is filtered out.
func Notify(ctx context.Context, cfg *config.NotificationsConfig, payload Payload) error {
	if cfg.WebhookURL == "" {
		return nil
	}

	// Event filtering: a non-empty Events list restricts what gets sent.
	if len(cfg.Events) > 0 {
		allowed := false
		for _, e := range cfg.Events {
			if e == string(payload.Event) {
				allowed = true
				break
			}
		}
		if !allowed {
			slog.Debug("notification event filtered out", "event", string(payload.Event))
			return nil
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling notification payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("sending notification", "event", string(payload.Event), "pr", payload.PR)

	resp, err := notifyHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer resp.Body.Close()

	// Drain the body so the connection can be reused.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	slog.Debug("notification sent successfully", "event", string(payload.Event))
	return nil
}
