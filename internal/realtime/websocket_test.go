package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFixture struct {
	ws         *Server
	server     *httptest.Server
	registry   *Registry
	dispatcher *Dispatcher
	url        string
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	reg := NewRegistry()
	d := NewDispatcher(reg, zerolog.Nop())
	known := map[string]bool{"A": true, "B": true}
	srv := NewServer(d, func(_ context.Context, id string) bool { return known[id] }, nil, zerolog.Nop())

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &wsFixture{
		ws:         srv,
		server:     ts,
		registry:   reg,
		dispatcher: d,
		url:        "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	ev := readEvent(t, ws)
	require.Equal(t, EventConnectionEstablished, ev.Name)
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, ws.ReadJSON(&ev))
	return ev
}

// readUntil skips frames until one named name arrives.
func readUntil(t *testing.T, ws *websocket.Conn, name string) Event {
	t.Helper()
	for i := 0; i < 20; i++ {
		ev := readEvent(t, ws)
		if ev.Name == name {
			return ev
		}
	}
	t.Fatalf("no %s event received", name)
	return Event{}
}

func sendEvent(t *testing.T, ws *websocket.Conn, name string, data any) {
	t.Helper()
	ev, err := NewEvent(name, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(ev))
}

func register(t *testing.T, f *wsFixture, ws *websocket.Conn, userID string) {
	t.Helper()
	sendEvent(t, ws, EventUserRegister, map[string]string{"user_id": userID})
	require.Eventually(t, func() bool { return f.registry.IsOnline(userID) }, 2*time.Second, 5*time.Millisecond)
}

func TestWebsocketMessageRoundTrip(t *testing.T) {
	f := newWSFixture(t)
	a := f.dial(t)
	b := f.dial(t)

	register(t, f, a, "A")
	register(t, f, b, "B")

	status := readUntil(t, a, EventUserStatus)
	var st statusPayload
	require.NoError(t, json.Unmarshal(status.Data, &st))
	assert.Equal(t, "B", st.UserID)
	assert.Equal(t, StatusOnline, st.Status)

	f.dispatcher.NotifyNewMessage(context.Background(), MessagePayload{MessageID: "msg-42", SenderID: "A", Text: "hello"}, "A", "B")

	got := readUntil(t, b, EventNewMessage)
	var payload MessagePayload
	require.NoError(t, json.Unmarshal(got.Data, &payload))
	assert.Equal(t, "msg-42", payload.MessageID)
	assert.Equal(t, "hello", payload.Text)

	receipt := readUntil(t, a, EventMessageDelivered)
	var delivered deliveredPayload
	require.NoError(t, json.Unmarshal(receipt.Data, &delivered))
	assert.Equal(t, "msg-42", delivered.MessageID)
}

func TestWebsocketRegisterSendsOnlineUsers(t *testing.T) {
	f := newWSFixture(t)
	a := f.dial(t)
	register(t, f, a, "A")

	ev := readUntil(t, a, EventOnlineUsers)
	var ou onlineUsersPayload
	require.NoError(t, json.Unmarshal(ev.Data, &ou))
	assert.Equal(t, []string{"A"}, ou.Users)

	b := f.dial(t)
	register(t, f, b, "B")

	ev = readUntil(t, b, EventOnlineUsers)
	require.NoError(t, json.Unmarshal(ev.Data, &ou))
	assert.Equal(t, []string{"A", "B"}, ou.Users)
}

func TestServerShutdownClosesConnections(t *testing.T) {
	f := newWSFixture(t)
	a := f.dial(t)
	register(t, f, a, "A")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.ws.Shutdown(ctx))

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := a.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
	}

	conns, users := f.registry.Count()
	assert.Zero(t, conns)
	assert.Zero(t, users)
}

func TestWebsocketDisconnectBroadcastsOffline(t *testing.T) {
	f := newWSFixture(t)
	a := f.dial(t)
	b := f.dial(t)

	register(t, f, a, "A")
	register(t, f, b, "B")

	require.NoError(t, a.Close())

	for {
		ev := readUntil(t, b, EventUserStatus)
		var st statusPayload
		require.NoError(t, json.Unmarshal(ev.Data, &st))
		if st.UserID == "A" && st.Status == StatusOffline {
			break
		}
	}

	_, ok := f.registry.Lookup("A")
	assert.False(t, ok)
	assert.True(t, f.registry.IsOnline("B"))
}

func TestWebsocketControlEvents(t *testing.T) {
	f := newWSFixture(t)
	a := f.dial(t)
	b := f.dial(t)

	sendEvent(t, a, EventPing, map[string]any{"timestamp": 1234})
	pong := readUntil(t, a, EventPong)
	var p struct {
		Timestamp int64 `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(pong.Data, &p))
	assert.Equal(t, int64(1234), p.Timestamp)

	sendEvent(t, a, EventTypingStatus, map[string]any{"recipient_id": "B", "is_typing": true})
	errEv := readUntil(t, a, EventError)
	assert.Contains(t, string(errEv.Data), "register")

	sendEvent(t, a, EventUserRegister, map[string]string{"user_id": "nobody"})
	errEv = readUntil(t, a, EventError)
	assert.Contains(t, string(errEv.Data), "unknown user")

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errEv = readUntil(t, a, EventError)
	assert.Contains(t, string(errEv.Data), "invalid frame")

	register(t, f, a, "A")
	register(t, f, b, "B")

	sendEvent(t, a, EventTypingStatus, map[string]any{"recipient_id": "B", "is_typing": true})
	typing := readUntil(t, b, EventUserTyping)
	var tp typingPayload
	require.NoError(t, json.Unmarshal(typing.Data, &tp))
	assert.Equal(t, "A", tp.UserID)
	assert.True(t, tp.IsTyping)

	sendEvent(t, b, EventGetOnlineUsers, nil)
	online := readUntil(t, b, EventOnlineUsers)
	var ou onlineUsersPayload
	require.NoError(t, json.Unmarshal(online.Data, &ou))
	assert.Equal(t, []string{"A", "B"}, ou.Users)
}

func TestWSConnSendAfterClose(t *testing.T) {
	c := &wsConn{id: "x", send: make(chan Event, 1), done: make(chan struct{})}
	require.NoError(t, c.Send(Event{Name: EventPong}))
	assert.ErrorIs(t, c.Send(Event{Name: EventPong}), ErrSendQueueFull)

	c.close()
	assert.ErrorIs(t, c.Send(Event{Name: EventPong}), ErrConnClosed)
}
