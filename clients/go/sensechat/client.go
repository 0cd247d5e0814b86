// Package sensechat provides a client for the SenseChat relay API.
package sensechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a SenseChat API client acting as one user.
type Client struct {
	BaseURL    string
	UserID     string
	HTTPClient *http.Client
}

// NewClient creates a new client for userID.
func NewClient(baseURL, userID string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		UserID:     userID,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the relay.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sensechat error %d: %s", e.Status, e.Message)
}

// do sends body as JSON and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserID != "" {
		req.Header.Set("X-User-ID", c.UserID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// User is a relay user.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	StylePreset string `json:"style_preset"`
}

// Users lists known users.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var resp struct {
		Users []User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// OnlineUsers lists users with a live connection.
func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	var resp struct {
		Users []string `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/users/online", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// EmbedRequest is the request body for storing a message.
type EmbedRequest struct {
	Text     string         `json:"text"`
	LangHint string         `json:"lang_hint,omitempty"`
	Slots    map[string]any `json:"slots,omitempty"`
	ThreadID string         `json:"thread_id,omitempty"`
}

// EmbedResponse is the stored form of a message.
type EmbedResponse struct {
	MessageID        string         `json:"message_id"`
	Summary          string         `json:"summary"`
	VectorID         string         `json:"vector_id"`
	Slots            map[string]any `json:"slots"`
	ThreadID         string         `json:"thread_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ExpiresAt        time.Time      `json:"expires_at"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
}

// Embed stores a new message as the client's user.
func (c *Client) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	var resp EmbedResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/embed", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Neighbor is a related message used during reconstruction.
type Neighbor struct {
	MessageID string  `json:"message_id"`
	Summary   string  `json:"summary"`
	Score     float64 `json:"score"`
}

// RenderResponse is a reconstructed message.
type RenderResponse struct {
	Text          string         `json:"text"`
	Confidence    float64        `json:"confidence"`
	Provider      string         `json:"provider"`
	UsedNeighbors []Neighbor     `json:"used_neighbors"`
	Slots         map[string]any `json:"slots"`
	StyleApplied  string         `json:"style_applied"`
}

// Render reconstructs messageID for recipientID.
func (c *Client) Render(ctx context.Context, messageID, recipientID string) (*RenderResponse, error) {
	req := map[string]string{"message_id": messageID, "recipient_id": recipientID}
	var resp RenderResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/render", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeliverResponse acknowledges an inbox delivery.
type DeliverResponse struct {
	Status     string    `json:"status"`
	DeliveryID string    `json:"delivery_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Deliver puts messageID into toUserID's inbox.
func (c *Client) Deliver(ctx context.Context, toUserID, messageID, threadID string) (*DeliverResponse, error) {
	req := map[string]string{"to_user_id": toUserID, "message_id": messageID}
	if threadID != "" {
		req["thread_id"] = threadID
	}
	var resp DeliverResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/deliver", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delivery is an inbox entry.
type Delivery struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Inbox lists the client user's deliveries. An empty status lists all.
func (c *Client) Inbox(ctx context.Context, status string) ([]Delivery, error) {
	path := "/api/v1/inbox"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Deliveries []Delivery `json:"deliveries"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Deliveries, nil
}

// MarkRead marks one of the client user's deliveries as read.
func (c *Client) MarkRead(ctx context.Context, deliveryID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/inbox/"+url.PathEscape(deliveryID)+"/read", nil, nil)
}

// ThreadMessage is a message summary listed in a thread.
type ThreadMessage struct {
	ID        string         `json:"id"`
	SenderID  string         `json:"sender_id"`
	Summary   string         `json:"summary"`
	Slots     map[string]any `json:"slots"`
	CreatedAt time.Time      `json:"created_at"`
}

// ThreadPage is one page of a thread listing.
type ThreadPage struct {
	ThreadID   string          `json:"thread_id"`
	Messages   []ThreadMessage `json:"messages"`
	TotalCount int             `json:"total_count"`
	HasMore    bool            `json:"has_more"`
}

// ThreadMessages lists a thread's messages, newest first.
func (c *Client) ThreadMessages(ctx context.Context, threadID string, limit, offset int) (*ThreadPage, error) {
	path := fmt.Sprintf("/api/v1/threads/%s/messages?limit=%d&offset=%d", url.PathEscape(threadID), limit, offset)
	var resp ThreadPage
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns the relay's health report. A degraded relay answers 503,
// which is returned as an *APIError.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
