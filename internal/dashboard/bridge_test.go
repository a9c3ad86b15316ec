package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prwatch/prwatch/internal/forge"
	"github.com/prwatch/prwatch/internal/monitor"
)

func TestRecordWithNoClients(t *testing.T) {
	b := NewBridge(nil)

	err := b.Record(context.Background(), forge.PR{Owner: "acme", Repo: "widgets", Number: 42},
		monitor.Event{Type: monitor.EventFetchError, Message: "boom"})
	assert.NoError(t, err)
}

type staticHistory struct {
	events []EventPayload
}

func (s staticHistory) Recent(context.Context, int) ([]EventPayload, error) {
	return s.events, nil
}

func TestClientReceivesBroadcastAndHistory(t *testing.T) {
	history := staticHistory{events: []EventPayload{
		{PR: "acme/widgets#42", Type: "retry_requested", Message: "earlier event"},
	}}
	b := NewBridge(history)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.HandleWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// First frame is the history replay.
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg BridgeMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MsgHistory, msg.Type)

	var hist HistoryPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &hist))
	require.Len(t, hist.Events, 1)
	assert.Equal(t, "earlier event", hist.Events[0].Message)

	// A recorded event is pushed live.
	require.NoError(t, b.Record(ctx, forge.PR{Owner: "acme", Repo: "widgets", Number: 42},
		monitor.Event{Type: monitor.EventReviewError, Message: "live event"}))

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MsgEvent, msg.Type)

	var ev EventPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	assert.Equal(t, "review_error", ev.Type)
	assert.Equal(t, "live event", ev.Message)
}
