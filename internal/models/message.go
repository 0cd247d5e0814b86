package models

import "time"

// Message is the stored, summarized form of submitted text. The raw text
// never reaches the server's storage.
type Message struct {
	ID        string         `json:"id"`        // UUIDv7
	ThreadID  *string        `json:"thread_id,omitempty"`
	SenderID  string         `json:"sender_id"`
	Summary   string         `json:"summary"`
	VectorID  string         `json:"vector_id"` // vec_<ULID>
	Slots     map[string]any `json:"slots"`
	LangHint  string         `json:"lang_hint"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// Expired reports whether the message is past its retention window.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// Neighbor is a related message handed to the reconstruction prompt.
type Neighbor struct {
	MessageID string  `json:"message_id"`
	Summary   string  `json:"summary"`
	Score     float64 `json:"score"`
}

// VectorRecord is an embedding kept alongside its message for neighbor lookups.
type VectorRecord struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Summary   string    `json:"summary"`
	Values    []float32 `json:"values"`
}
