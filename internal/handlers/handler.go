package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/sensechat/internal/llm"
	"github.com/eldtechnologies/sensechat/internal/models"
	"github.com/eldtechnologies/sensechat/internal/realtime"
	"github.com/eldtechnologies/sensechat/internal/semantic"
	"github.com/eldtechnologies/sensechat/internal/store"
)

// VectorIndex keeps message embeddings for neighbor lookups.
type VectorIndex interface {
	Ping(ctx context.Context) error
	SaveVector(ctx context.Context, rec models.VectorRecord, ttl time.Duration) error
	GetVector(ctx context.Context, id string) (*models.VectorRecord, error)
	Neighbors(ctx context.Context, query []float32, excludeMessageID string, k int) ([]models.Neighbor, error)
}

// Renderer reconstructs a message for a recipient.
type Renderer interface {
	Reconstruct(ctx context.Context, req llm.Request) (*llm.Result, error)
	Providers() []string
}

// Notifier pushes render results to connected users.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, payload realtime.MessagePayload, senderID, recipientID string)
}

// Presence reports which users hold a live connection.
type Presence interface {
	Online() []string
}

// Options configures a Handler. Index, Notifier and Presence are optional.
type Options struct {
	Store      store.DataStore
	Index      VectorIndex
	Analyzer   *semantic.Analyzer
	Renderer   Renderer
	Notifier   Notifier
	Presence   Presence
	Logger     zerolog.Logger
	MessageTTL time.Duration
	Instance   string
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db       store.DataStore
	index    VectorIndex
	analyzer *semantic.Analyzer
	renderer Renderer
	notifier Notifier
	presence Presence
	logger   zerolog.Logger
	ttl      time.Duration
	instance string
	now      func() time.Time
}

// NewHandler creates a new Handler from opts.
func NewHandler(opts Options) *Handler {
	analyzer := opts.Analyzer
	if analyzer == nil {
		analyzer = semantic.NewAnalyzer(nil)
	}
	ttl := opts.MessageTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handler{
		db:       opts.Store,
		index:    opts.Index,
		analyzer: analyzer,
		renderer: opts.Renderer,
		notifier: opts.Notifier,
		presence: opts.Presence,
		logger:   opts.Logger.With().Str("component", "handlers").Logger(),
		ttl:      ttl,
		instance: opts.Instance,
		now:      time.Now,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeID trims an identifier and rejects control characters and
// anything longer than 64 bytes.
func sanitizeID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 64 {
		return "", false
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return "", false
		}
	}
	return id, true
}

// pagination reads limit and offset query parameters.
func pagination(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
