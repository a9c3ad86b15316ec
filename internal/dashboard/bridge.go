// Package dashboard streams monitor events to WebSocket clients so a run
// can be watched live from a browser or another terminal.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/prwatch/prwatch/internal/forge"
	"github.com/prwatch/prwatch/internal/monitor"
)

// Message types exchanged with clients.
const (
	MsgEvent      = "event"
	MsgHistory    = "history"
	MsgGetHistory = "get_history"
)

// BridgeMessage is the envelope for all WebSocket traffic.
type BridgeMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventPayload is one monitor event pushed to clients.
type EventPayload struct {
	PR              string    `json:"pr"`
	Type            string    `json:"type"`
	Message         string    `json:"message"`
	SuggestedAction string    `json:"suggested_action,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// HistoryPayload replays recent events to a newly connected client.
type HistoryPayload struct {
	Events []EventPayload `json:"events"`
}

// HistorySource supplies recent events for replay. The event log implements
// this; nil disables replay.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]EventPayload, error)
}

// Bridge fans monitor events out to connected WebSocket clients. It
// implements monitor.EventSink so it can sit alongside the other sinks.
type Bridge struct {
	history HistorySource
	clients map[string]*wsClient
	mu      sync.RWMutex
	nextID  int
}

type wsClient struct {
	conn *websocket.Conn
	ctx  context.Context
	mu   sync.Mutex // serializes writes
}

// NewBridge creates a Bridge. history may be nil.
func NewBridge(history HistorySource) *Bridge {
	return &Bridge{
		history: history,
		clients: make(map[string]*wsClient),
	}
}

// Record implements monitor.EventSink by broadcasting the event.
func (b *Bridge) Record(_ context.Context, pr forge.PR, ev monitor.Event) error {
	b.broadcast(MsgEvent, EventPayload{
		PR:              pr.String(),
		Type:            ev.Type.String(),
		Message:         ev.Message,
		SuggestedAction: ev.SuggestedAction,
		Timestamp:       time.Now(),
	})
	return nil
}

// HandleWS is the HTTP handler for the /ws endpoint.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local dashboard, any origin
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("client-%d", b.nextID)
	client := &wsClient{conn: c, ctx: ctx}
	b.clients[id] = client
	b.mu.Unlock()

	slog.Info("websocket client connected", "id", id, "remote", r.RemoteAddr)

	b.sendHistory(ctx, client)
	b.readLoop(ctx, id, client)
}

func (b *Bridge) readLoop(ctx context.Context, id string, client *wsClient) {
	defer func() {
		b.mu.Lock()
		delete(b.clients, id)
		b.mu.Unlock()
		client.conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("websocket client disconnected", "id", id)
	}()

	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return // client disconnected
		}

		var msg BridgeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid ws message", "error", err, "client", id)
			continue
		}

		if msg.Type == MsgGetHistory {
			b.sendHistory(ctx, client)
		}
	}
}

func (b *Bridge) sendHistory(ctx context.Context, client *wsClient) {
	if b.history == nil {
		return
	}
	events, err := b.history.Recent(ctx, 50)
	if err != nil {
		slog.Debug("history replay failed", "error", err)
		return
	}
	b.sendTo(client, MsgHistory, HistoryPayload{Events: events})
}

func (b *Bridge) broadcast(msgType string, payload any) {
	data, err := json.Marshal(BridgeMessage{
		Type:    msgType,
		Payload: mustMarshal(payload),
	})
	if err != nil {
		return
	}

	b.mu.RLock()
	clients := make([]*wsClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		_ = c.conn.Write(c.ctx, websocket.MessageText, data)
		c.mu.Unlock()
	}
}

func (b *Bridge) sendTo(client *wsClient, msgType string, payload any) {
	data, err := json.Marshal(BridgeMessage{
		Type:    msgType,
		Payload: mustMarshal(payload),
	})
	if err != nil {
		return
	}
	client.mu.Lock()
	_ = client.conn.Write(client.ctx, websocket.MessageText, data)
	client.mu.Unlock()
}

func mustMarshal(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

var _ monitor.EventSink = (*Bridge)(nil)
