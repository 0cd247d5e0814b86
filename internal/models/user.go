package models

import "time"

// User is a family member known to the relay.
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Language    string    `json:"language"`
	StylePreset string    `json:"style_preset"`
	CreatedAt   time.Time `json:"created_at"`
}

// Thread groups deliveries between users.
type Thread struct {
	ID        string    `json:"id"`
	CreatedBy string    `json:"created_by"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
