package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/sensechat/internal/models"
)

// UsersResponse lists known users.
type UsersResponse struct {
	Users []models.User `json:"users"`
}

// OnlineUsersResponse lists users with a live connection on this instance.
type OnlineUsersResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// Users lists every known user.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.ListUsers(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	h.JSON(w, http.StatusOK, UsersResponse{Users: users})
}

// GetUser returns one user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := sanitizeID(chi.URLParam(r, "id"))
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	user, err := h.db.GetUser(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}
	h.JSON(w, http.StatusOK, user)
}

// OnlineUsers lists the users currently connected.
func (h *Handler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	online := h.online()
	h.JSON(w, http.StatusOK, OnlineUsersResponse{Users: online, Count: len(online)})
}

func (h *Handler) online() []string {
	if h.presence == nil {
		return []string{}
	}
	users := h.presence.Online()
	if users == nil {
		return []string{}
	}
	return users
}
