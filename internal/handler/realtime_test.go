package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkora/chat-platform/internal/model"
)

func dialWS(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token(t, user)
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

type wireEvent struct {
	Event model.EventName `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// nextEvent reads frames until one named name arrives.
func nextEvent(t *testing.T, ws *websocket.Conn, name model.EventName) wireEvent {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev wireEvent
		require.NoError(t, ws.ReadJSON(&ev))
		if ev.Event == name {
			return ev
		}
	}
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	api := newTestAPI(t, nil)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebsocketPresenceAndEcho(t *testing.T) {
	api := newTestAPI(t, nil)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	a := dialWS(t, srv, "A")
	ev := nextEvent(t, a, model.EventOnlineUsers)
	var online []string
	require.NoError(t, json.Unmarshal(ev.Data, &online))
	assert.Equal(t, []string{"A"}, online)

	b := dialWS(t, srv, "B")
	ev = nextEvent(t, a, model.EventOnlineUsers)
	require.NoError(t, json.Unmarshal(ev.Data, &online))
	assert.Equal(t, []string{"A", "B"}, online)

	require.NoError(t, b.WriteJSON(map[string]any{"event": "chat message", "data": "ping"}))
	ev = nextEvent(t, a, model.EventChatMessage)
	assert.JSONEq(t, `"ping"`, string(ev.Data))

	// a message to A over REST is pushed to the live connection
	rec := api.do(t, "B", http.MethodPost, "/api/v1/conversations/direct", model.StartDirectRequest{PeerID: "A", Text: "hey"})
	require.Equal(t, http.StatusCreated, rec.Code)
	convID := decode[model.StartDirectResponse](t, rec).Conversation.ID
	rec = api.do(t, "B", http.MethodPost, "/api/v1/conversations/"+convID+"/messages", model.SendMessageRequest{Content: "again"})
	require.Equal(t, http.StatusCreated, rec.Code)

	ev = nextEvent(t, a, model.EventNewMessage)
	var payload model.NewMessageEvent
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, "again", payload.Message.Content)

	require.NoError(t, b.Close())
	ev = nextEvent(t, a, model.EventOnlineUsers)
	require.NoError(t, json.Unmarshal(ev.Data, &online))
	assert.Equal(t, []string{"A"}, online)
}

func TestSSEStream(t *testing.T) {
	api := newTestAPI(t, nil)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, "A"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if name, ok := strings.CutPrefix(strings.TrimSpace(line), "event: "); ok {
				return name
			}
		}
	}

	assert.Equal(t, "connected", readEvent())
	assert.Equal(t, string(model.EventOnlineUsers), readEvent())

	rec := api.do(t, "", http.MethodGet, "/api/v1/presence", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = api.do(t, "B", http.MethodGet, "/api/v1/presence", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"A"}, decode[map[string][]string](t, rec)["online"])

	cancel()
	assert.Eventually(t, func() bool {
		return len(api.broadcaster.Online()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestShutdownEndsSSEStreams(t *testing.T) {
	api := newTestAPI(t, nil)
	srv := httptest.NewUnstartedServer(api.router)
	srv.Config.RegisterOnShutdown(api.broadcaster.CloseAll)
	srv.Start()
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, "A"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected", strings.TrimSpace(line))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, srv.Config.Shutdown(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Eventually(t, func() bool {
		return len(api.broadcaster.Online()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebsocketReconnectClosesOlderSocket(t *testing.T) {
	api := newTestAPI(t, nil)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	first := dialWS(t, srv, "A")
	nextEvent(t, first, model.EventOnlineUsers)
	second := dialWS(t, srv, "A")
	nextEvent(t, second, model.EventOnlineUsers)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	var err error
	for err == nil {
		_, _, err = first.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
	assert.Equal(t, []string{"A"}, api.broadcaster.Online())
}
