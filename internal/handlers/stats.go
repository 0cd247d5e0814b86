package handlers

import (
	"net/http"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalUsers       int64    `json:"total_users"`
	TotalMessages    int64    `json:"total_messages"`
	UnreadDeliveries int64    `json:"unread_deliveries"`
	OnlineUsers      int      `json:"online_users"`
	Providers        []string `json:"providers"`
}

// Stats returns relay-wide totals.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalUsers, err := h.db.CountUsers(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count users")
		return
	}

	totalMessages, err := h.db.CountMessages(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count messages")
		return
	}

	unread, err := h.db.CountUnreadDeliveries(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count deliveries")
		return
	}

	providers := []string{}
	if h.renderer != nil {
		providers = append(providers, h.renderer.Providers()...)
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalUsers:       totalUsers,
		TotalMessages:    totalMessages,
		UnreadDeliveries: unread,
		OnlineUsers:      len(h.online()),
		Providers:        providers,
	})
}
