package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/sensechat/internal/api/middleware"
	"github.com/eldtechnologies/sensechat/internal/models"
)

// ThreadMessage is a stored message as listed in a thread. Only the summary
// is available server-side; clients keep their own text.
type ThreadMessage struct {
	ID        string         `json:"id"`
	SenderID  string         `json:"sender_id"`
	Summary   string         `json:"summary"`
	Slots     map[string]any `json:"slots"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// ThreadMessagesResponse represents a page of thread messages.
type ThreadMessagesResponse struct {
	ThreadID   string          `json:"thread_id"`
	Messages   []ThreadMessage `json:"messages"`
	TotalCount int             `json:"total_count"`
	HasMore    bool            `json:"has_more"`
}

// InboxResponse represents the caller's deliveries.
type InboxResponse struct {
	Deliveries []models.Delivery `json:"deliveries"`
}

// ThreadMessages lists the messages of a thread, newest first.
func (h *Handler) ThreadMessages(w http.ResponseWriter, r *http.Request) {
	threadID, ok := sanitizeID(chi.URLParam(r, "id"))
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid thread ID")
		return
	}
	limit, offset := pagination(r, 20, 100)

	msgs, total, err := h.db.ListThreadMessages(r.Context(), threadID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("thread_id", threadID).Msg("list thread messages failed")
		h.Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	out := make([]ThreadMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ThreadMessage{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Summary:   m.Summary,
			Slots:     m.Slots,
			CreatedAt: m.CreatedAt,
			ExpiresAt: m.ExpiresAt,
		})
	}

	h.JSON(w, http.StatusOK, ThreadMessagesResponse{
		ThreadID:   threadID,
		Messages:   out,
		TotalCount: total,
		HasMore:    offset+len(out) < total,
	})
}

// Inbox lists the caller's deliveries, optionally filtered by status.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && status != models.DeliveryUnread && status != models.DeliveryRead {
		h.Error(w, http.StatusBadRequest, "status must be unread or read")
		return
	}
	limit, offset := pagination(r, 50, 100)

	deliveries, err := h.db.ListDeliveries(r.Context(), user.ID, status, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("list deliveries failed")
		h.Error(w, http.StatusInternalServerError, "failed to list inbox")
		return
	}
	if deliveries == nil {
		deliveries = []models.Delivery{}
	}
	h.JSON(w, http.StatusOK, InboxResponse{Deliveries: deliveries})
}

// MarkRead moves one of the caller's deliveries from unread to read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, ok := sanitizeID(chi.URLParam(r, "id"))
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	found, err := h.db.MarkDeliveryRead(r.Context(), id, user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if !found {
		h.Error(w, http.StatusNotFound, "delivery not found")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"id": id, "status": models.DeliveryRead})
}
