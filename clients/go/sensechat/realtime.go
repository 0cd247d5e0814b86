package sensechat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Event is a realtime frame.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Listen opens the websocket channel, registers the client user and
// delivers server events until ctx is cancelled or the connection drops.
// The returned channel is closed when listening stops.
func (c *Client) Listen(ctx context.Context) (<-chan Event, error) {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	register := Event{Name: "user_register"}
	register.Data, _ = json.Marshal(map[string]string{"user_id": c.UserID})
	if err := conn.WriteJSON(register); err != nil {
		conn.Close()
		return nil, err
	}

	events := make(chan Event, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(events)
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
