// Package realtime tracks which user holds which live connection and pushes
// notification events to them, locally and across instances.
package realtime

import (
	"encoding/json"
	"errors"
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("connection send queue full")
)

// Event names exchanged over realtime connections.
const (
	EventConnectionEstablished = "connection_established"
	EventUserRegister          = "user_register"
	EventTypingStatus          = "typing_status"
	EventPing                  = "ping"
	EventPong                  = "pong"
	EventGetOnlineUsers        = "get_online_users"
	EventNewMessage            = "new_message"
	EventMessageDelivered      = "message_delivered"
	EventUserStatus            = "user_status"
	EventOnlineUsers           = "online_users"
	EventUserTyping            = "user_typing"
	EventError                 = "error"
)

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event is one frame on a realtime connection.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data into an Event.
func NewEvent(name string, data any) (Event, error) {
	if data == nil {
		return Event{Name: name}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: raw}, nil
}

// Conn is a live connection that events can be pushed to.
type Conn interface {
	ID() string
	Send(Event) error
}

// MessagePayload is the body of a new_message event.
type MessagePayload struct {
	MessageID   string         `json:"message_id"`
	SenderID    string         `json:"sender_id"`
	RecipientID string         `json:"recipient_id,omitempty"`
	ThreadID    string         `json:"thread_id,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Text        string         `json:"text"`
	Confidence  float64        `json:"confidence"`
	Provider    string         `json:"provider,omitempty"`
	Style       string         `json:"style_applied,omitempty"`
	Slots       map[string]any `json:"slots,omitempty"`
	CreatedAt   string         `json:"created_at,omitempty"`
}

type deliveredPayload struct {
	MessageID   string `json:"message_id"`
	RecipientID string `json:"recipient_id"`
}

type statusPayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type typingPayload struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type onlineUsersPayload struct {
	Users []string `json:"users"`
}
