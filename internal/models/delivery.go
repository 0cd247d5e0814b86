package models

import "time"

// Delivery statuses.
const (
	DeliveryUnread = "unread"
	DeliveryRead   = "read"
)

// Delivery records that a message was routed to a user's inbox.
type Delivery struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
