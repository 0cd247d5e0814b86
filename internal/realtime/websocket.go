package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendQueueSize  = 32
)

// UserValidator reports whether a user ID may register.
type UserValidator func(ctx context.Context, userID string) bool

// Server upgrades HTTP requests to websocket connections and runs the
// per-connection event loop.
type Server struct {
	dispatcher *Dispatcher
	registry   *Registry
	validate   UserValidator
	upgrader   websocket.Upgrader
	logger     zerolog.Logger

	wg sync.WaitGroup
}

// NewServer creates a websocket server. A nil validator accepts any user ID.
func NewServer(dispatcher *Dispatcher, validate UserValidator, checkOrigin func(*http.Request) bool, logger zerolog.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		registry:   dispatcher.Registry(),
		validate:   validate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.With().Str("component", "websocket").Logger(),
	}
}

// Shutdown closes every open connection and waits for their goroutines
// to exit or for ctx to be done.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, c := range s.registry.Conns() {
		if wc, ok := c.(*wsConn); ok {
			wc.close()
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newWSConn(ws)
	s.registry.Attach(c)
	s.logger.Debug().Str("conn_id", c.id).Str("remote", r.RemoteAddr).Msg("connection opened")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()

	_ = c.Send(mustEvent(EventConnectionEstablished, map[string]string{"sid": c.id}))

	go func() {
		defer s.wg.Done()
		s.readPump(context.WithoutCancel(r.Context()), c)
	}()
}

func (s *Server) readPump(ctx context.Context, c *wsConn) {
	defer s.disconnect(ctx, c)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("conn_id", c.id).Msg("connection read failed")
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Name == "" {
			s.sendError(c, "invalid frame")
			continue
		}
		s.handle(ctx, c, ev)
	}
}

func (s *Server) handle(ctx context.Context, c *wsConn, ev Event) {
	switch ev.Name {
	case EventUserRegister:
		var req struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(ev.Data, &req); err != nil || req.UserID == "" {
			s.sendError(c, "user_id is required")
			return
		}
		if s.validate != nil && !s.validate(ctx, req.UserID) {
			s.sendError(c, "unknown user")
			return
		}
		if prev := s.registry.Register(req.UserID, c); prev != nil {
			s.logger.Info().Str("user_id", req.UserID).Str("replaced_conn", prev.ID()).Msg("user reconnected")
		}
		s.logger.Info().Str("user_id", req.UserID).Str("conn_id", c.id).Msg("user registered")
		s.dispatcher.BroadcastPresence(ctx, req.UserID, StatusOnline)
		s.dispatcher.SendOnlineUsers(c)

	case EventTypingStatus:
		userID, ok := s.registry.UserFor(c)
		if !ok {
			s.sendError(c, "register before sending typing status")
			return
		}
		var req struct {
			RecipientID string `json:"recipient_id"`
			IsTyping    bool   `json:"is_typing"`
		}
		if err := json.Unmarshal(ev.Data, &req); err != nil || req.RecipientID == "" {
			s.sendError(c, "recipient_id is required")
			return
		}
		s.dispatcher.RelayTyping(ctx, userID, req.RecipientID, req.IsTyping)

	case EventPing:
		var req struct {
			Timestamp any `json:"timestamp"`
		}
		_ = json.Unmarshal(ev.Data, &req)
		if req.Timestamp == nil {
			req.Timestamp = time.Now().UnixMilli()
		}
		_ = c.Send(mustEvent(EventPong, map[string]any{"timestamp": req.Timestamp}))

	case EventGetOnlineUsers:
		s.dispatcher.SendOnlineUsers(c)

	default:
		s.sendError(c, "unknown event: "+ev.Name)
	}
}

func (s *Server) disconnect(ctx context.Context, c *wsConn) {
	c.close()
	userID, wasCurrent := s.registry.Unregister(c)
	s.logger.Debug().Str("conn_id", c.id).Str("user_id", userID).Msg("connection closed")
	if wasCurrent {
		s.dispatcher.BroadcastPresence(ctx, userID, StatusOffline)
	}
}

func (s *Server) sendError(c *wsConn, msg string) {
	_ = c.Send(mustEvent(EventError, map[string]string{"message": msg}))
}

func mustEvent(name string, data any) Event {
	ev, err := NewEvent(name, data)
	if err != nil {
		return Event{Name: name}
	}
	return ev
}

// wsConn is a websocket-backed Conn. Writes go through a bounded queue
// drained by writePump.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan Event, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues ev without blocking.
func (c *wsConn) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
