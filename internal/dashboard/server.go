package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server is the dashboard HTTP server serving the live event view and the
// WebSocket bridge.
type Server struct {
	bridge *Bridge
	srv    *http.Server
}

// NewServer creates a dashboard server around an existing bridge.
func NewServer(bridge *Bridge) *Server {
	return &Server{bridge: bridge}
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /ws", s.bridge.HandleWS)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // WebSocket needs no write timeout
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down dashboard server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	slog.Info("starting dashboard server", "addr", addr)
	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server error: %w", err)
	}
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bridge.history == nil {
		writeJSON(w, []EventPayload{})
		return
	}
	events, err := s.bridge.history.Recent(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html><head>
<meta charset="UTF-8"><meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>prwatch</title>
<style>
  body { background: #0d1117; color: #e6edf3; font-family: -apple-system, sans-serif; margin: 0; }
  header { padding: 16px 24px; border-bottom: 1px solid #30363d; font-weight: 600; }
  #events { padding: 16px 24px; }
  .ev { border: 1px solid #30363d; border-radius: 8px; padding: 10px 14px; margin-bottom: 8px;
        background: #161b22; font-size: 13px; }
  .ev .type { font-weight: 600; margin-right: 8px; }
  .ev .pr { color: #58a6ff; margin-right: 8px; }
  .ev .ts { color: #8b949e; float: right; font-size: 11px; }
  .ev .action { color: #8b949e; display: block; margin-top: 4px; }
  .type-review_error, .type-rebase_failed, .type-fetch_error, .type-timeout { border-left: 3px solid #f85149; }
  .type-retry_requested, .type-recreate_attempted { border-left: 3px solid #d29922; }
  .type-early_exit { border-left: 3px solid #58a6ff; }
</style>
</head><body>
<header>prwatch — live events</header>
<div id="events"></div>
<script>
var box = document.getElementById('events');
function add(e) {
  var d = document.createElement('div');
  d.className = 'ev type-' + e.type;
  d.innerHTML = '<span class="ts">' + (e.timestamp || '') + '</span>'
    + '<span class="type">' + e.type + '</span>'
    + '<span class="pr">' + (e.pr || '') + '</span>'
    + e.message
    + (e.suggested_action ? '<span class="action">→ ' + e.suggested_action + '</span>' : '');
  box.prepend(d);
}
var ws = new WebSocket('ws://' + location.host + '/ws');
ws.onmessage = function(m) {
  var msg = JSON.parse(m.data);
  if (msg.type === 'event') add(msg.payload);
  if (msg.type === 'history') (msg.payload.events || []).reverse().forEach(add);
};
</script>
</body></html>`
