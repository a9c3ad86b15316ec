package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prwatch/prwatch/internal/config"
)

func TestNotify_NoWebhook(t *testing.T) {
	cfg := &config.NotificationsConfig{
		WebhookURL: "",
	}
	err := Notify(t.Context(), cfg, Payload{
		Event: EventRunSucceeded,
		PR:    "acme/widgets#42",
	})
	assert.NoError(t, err)
}

func TestNotify_EventFiltering(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.NotificationsConfig{
		WebhookURL: srv.URL,
		Events:     []string{"run_succeeded"},
	}

	err := Notify(t.Context(), cfg, Payload{
		Event: EventRunFailed,
		PR:    "acme/widgets#42",
	})
	assert.NoError(t, err)
	assert.False(t, called, "webhook should not be called for filtered event")
}

func TestNotify_EventFilteringEmptyAllowed(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.NotificationsConfig{
		WebhookURL: srv.URL,
		Events:     []string{},
	}

	err := Notify(t.Context(), cfg, Payload{
		Event: EventRunFailed,
		PR:    "acme/widgets#42",
	})
	assert.NoError(t, err)
	assert.True(t, called, "webhook should be called when Events is empty (allow all)")
}

func TestNotify_SendsRequest(t *testing.T) {
	var receivedBody []byte
	var receivedContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedContentType = r.Header.Get("Content-Type")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		receivedBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.NotificationsConfig{WebhookURL: srv.URL}

	err := Notify(t.Context(), cfg, Payload{
		Event:       EventPRRecreated,
		PR:          "acme/widgets#42",
		Message:     "recreated as #43",
		RecreatedAs: 43,
	})
	require.NoError(t, err)
	assert.Equal(t, "application/json", receivedContentType)

	var got Payload
	require.NoError(t, json.Unmarshal(receivedBody, &got))
	assert.Equal(t, EventPRRecreated, got.Event)
	assert.Equal(t, "acme/widgets#42", got.PR)
	assert.Equal(t, 43, got.RecreatedAs)
}

func TestNotify_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := &config.NotificationsConfig{WebhookURL: srv.URL}

	err := Notify(t.Context(), cfg, Payload{Event: EventRunFailed, PR: "acme/widgets#1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
