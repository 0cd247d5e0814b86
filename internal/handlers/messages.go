package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/eldtechnologies/sensechat/internal/api/middleware"
	"github.com/eldtechnologies/sensechat/internal/llm"
	"github.com/eldtechnologies/sensechat/internal/metrics"
	"github.com/eldtechnologies/sensechat/internal/models"
	"github.com/eldtechnologies/sensechat/internal/realtime"
)

const (
	maxTextLength  = 1000
	neighborCount  = 3
	defaultThread  = "default"
	notifyDeadline = 5 * time.Second
)

var validLangHints = map[string]bool{"ja": true, "en": true, "zh": true, "ko": true, "auto": true}

// EmbedRequest represents the embed request body.
type EmbedRequest struct {
	Text     string         `json:"text"`
	LangHint string         `json:"lang_hint"`
	Slots    map[string]any `json:"slots,omitempty"`
	ThreadID string         `json:"thread_id,omitempty"`
}

// EmbedResponse represents the embed response. The raw text is not echoed.
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

// RenderRequest represents the render request body.
type RenderRequest struct {
	MessageID   string `json:"message_id"`
	RecipientID string `json:"recipient_id"`
}

// RenderResponse represents a reconstructed message. It is never stored.
type RenderResponse struct {
	Text          string            `json:"text"`
	Confidence    float64           `json:"confidence"`
	Provider      string            `json:"provider"`
	UsedNeighbors []models.Neighbor `json:"used_neighbors"`
	Slots         map[string]any    `json:"slots"`
	StyleApplied  string            `json:"style_applied"`
}

// DeliverRequest represents the deliver request body.
type DeliverRequest struct {
	ToUserID  string `json:"to_user_id"`
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// DeliverResponse represents the deliver response.
type DeliverResponse struct {
	Status            string    `json:"status"`
	DeliveryID        string    `json:"delivery_id"`
	ThreadID          string    `json:"thread_id,omitempty"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
	CreatedAt         time.Time `json:"created_at"`
}

// Embed summarizes, embeds and stores a new message.
func (h *Handler) Embed(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	sender := middleware.GetUserFromContext(ctx)
	if sender == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req EmbedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	n := utf8.RuneCountInString(req.Text)
	if strings.TrimSpace(req.Text) == "" {
		h.Error(w, http.StatusUnprocessableEntity, "text is required")
		return
	}
	if n > maxTextLength {
		h.Error(w, http.StatusUnprocessableEntity, "text too long (max 1000 characters)")
		return
	}
	if req.LangHint == "" {
		req.LangHint = "auto"
	}
	if !validLangHints[req.LangHint] {
		h.Error(w, http.StatusUnprocessableEntity, "lang_hint must be one of ja, en, zh, ko, auto")
		return
	}

	var threadID *string
	if req.ThreadID != "" {
		id, ok := sanitizeID(req.ThreadID)
		if !ok {
			h.Error(w, http.StatusBadRequest, "invalid thread ID")
			return
		}
		threadID = &id
	}

	analysis, err := h.analyzer.Analyze(ctx, req.Text, req.Slots)
	if err != nil {
		h.logger.Error().Err(err).Msg("analyze failed")
		h.Error(w, http.StatusInternalServerError, "failed to process text")
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to generate message ID")
		return
	}

	if threadID != nil {
		if _, _, err := h.db.EnsureThread(ctx, *threadID, sender.ID, defaultThread); err != nil {
			h.logger.Error().Err(err).Str("thread_id", *threadID).Msg("ensure thread failed")
			h.Error(w, http.StatusInternalServerError, "failed to create thread")
			return
		}
	}

	now := h.now().UTC()
	expires := now.Add(h.ttl)
	msg := &models.Message{
		ID:        id.String(),
		ThreadID:  threadID,
		SenderID:  sender.ID,
		Summary:   analysis.Summary,
		VectorID:  analysis.VectorID,
		Slots:     analysis.Slots,
		LangHint:  req.LangHint,
		CreatedAt: now,
		ExpiresAt: &expires,
	}
	if err := h.db.CreateMessage(ctx, msg); err != nil {
		h.logger.Error().Err(err).Msg("create message failed")
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	// The vector index is best effort; a render without neighbors still works.
	if h.index != nil {
		rec := models.VectorRecord{
			ID:        analysis.VectorID,
			MessageID: msg.ID,
			SenderID:  sender.ID,
			Summary:   msg.Summary,
			Values:    analysis.Vector,
		}
		if err := h.index.SaveVector(ctx, rec, h.ttl); err != nil {
			h.logger.Warn().Err(err).Str("vector_id", rec.ID).Msg("vector index write failed")
		}
	}

	metrics.MessagesEmbedded.WithLabelValues(req.LangHint).Inc()

	resp := EmbedResponse{
		MessageID:        msg.ID,
		Summary:          msg.Summary,
		VectorID:         msg.VectorID,
		Slots:            msg.Slots,
		CreatedAt:        now,
		ExpiresAt:        expires,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}
	if threadID != nil {
		resp.ThreadID = *threadID
	}
	h.JSON(w, http.StatusCreated, resp)
}

// Render reconstructs a stored message in the recipient's style and pushes
// it over the realtime channel.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MessageID == "" || req.RecipientID == "" {
		h.Error(w, http.StatusBadRequest, "message_id and recipient_id are required")
		return
	}

	msg, err := h.db.GetMessage(ctx, req.MessageID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if msg == nil {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}
	if msg.Expired(h.now()) {
		h.Error(w, http.StatusGone, "message expired")
		return
	}

	recipient, err := h.db.GetUser(ctx, req.RecipientID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if recipient == nil {
		h.Error(w, http.StatusNotFound, "recipient not found")
		return
	}

	if h.renderer == nil {
		h.Error(w, http.StatusServiceUnavailable, "reconstruction unavailable")
		return
	}

	neighbors := h.neighbors(ctx, msg)
	result, err := h.renderer.Reconstruct(ctx, llm.Request{
		Summary:   msg.Summary,
		Slots:     msg.Slots,
		Style:     recipient.StylePreset,
		Language:  recipient.Language,
		Neighbors: neighbors,
	})
	if err != nil {
		metrics.Renders.WithLabelValues("none", "failed").Inc()
		if errors.Is(err, llm.ErrAllProvidersFailed) {
			h.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("reconstruction failed")
			h.Error(w, http.StatusServiceUnavailable, "all reconstruction providers failed")
			return
		}
		h.logger.Error().Err(err).Str("message_id", msg.ID).Msg("reconstruction error")
		h.Error(w, http.StatusInternalServerError, "reconstruction failed")
		return
	}
	metrics.Renders.WithLabelValues(result.Provider, "success").Inc()

	if h.notifier != nil {
		payload := realtime.MessagePayload{
			MessageID:   msg.ID,
			SenderID:    msg.SenderID,
			RecipientID: recipient.ID,
			Summary:     msg.Summary,
			Text:        result.Text,
			Confidence:  result.Confidence,
			Provider:    result.Provider,
			Style:       recipient.StylePreset,
			Slots:       msg.Slots,
			CreatedAt:   msg.CreatedAt.UTC().Format(time.RFC3339),
		}
		if msg.ThreadID != nil {
			payload.ThreadID = *msg.ThreadID
		}
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyDeadline)
		go func() {
			defer cancel()
			h.notifier.NotifyNewMessage(nctx, payload, msg.SenderID, recipient.ID)
		}()
	}

	if neighbors == nil {
		neighbors = []models.Neighbor{}
	}
	h.JSON(w, http.StatusOK, RenderResponse{
		Text:          result.Text,
		Confidence:    result.Confidence,
		Provider:      result.Provider,
		UsedNeighbors: neighbors,
		Slots:         msg.Slots,
		StyleApplied:  recipient.StylePreset,
	})
}

// neighbors looks up related messages through the message's own vector.
func (h *Handler) neighbors(ctx context.Context, msg *models.Message) []models.Neighbor {
	if h.index == nil {
		return nil
	}
	rec, err := h.index.GetVector(ctx, msg.VectorID)
	if err != nil {
		h.logger.Warn().Err(err).Str("vector_id", msg.VectorID).Msg("vector lookup failed")
		return nil
	}
	if rec == nil {
		return nil
	}
	found, err := h.index.Neighbors(ctx, rec.Values, msg.ID, neighborCount)
	if err != nil {
		h.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("neighbor search failed")
		return nil
	}
	return found
}

// Deliver records a message in the target user's inbox.
func (h *Handler) Deliver(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DeliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ToUserID == "" || req.MessageID == "" {
		h.Error(w, http.StatusBadRequest, "to_user_id and message_id are required")
		return
	}

	msg, err := h.db.GetMessage(ctx, req.MessageID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if msg == nil {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}

	target, err := h.db.GetUser(ctx, req.ToUserID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if target == nil {
		h.Error(w, http.StatusNotFound, "recipient not found")
		return
	}

	threadID := req.ThreadID
	if threadID == "" && msg.ThreadID != nil {
		threadID = *msg.ThreadID
	}
	if threadID != "" {
		id, ok := sanitizeID(threadID)
		if !ok {
			h.Error(w, http.StatusBadRequest, "invalid thread ID")
			return
		}
		_, created, err := h.db.EnsureThread(ctx, id, msg.SenderID, defaultThread)
		if err != nil {
			h.logger.Error().Err(err).Str("thread_id", id).Msg("ensure thread failed")
			h.Error(w, http.StatusInternalServerError, "failed to create thread")
			return
		}
		if created {
			h.logger.Info().Str("thread_id", id).Str("created_by", msg.SenderID).Msg("thread created")
		}
		threadID = id
	}

	id, err := uuid.NewV7()
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to generate delivery ID")
		return
	}
	now := h.now().UTC()
	delivery := &models.Delivery{
		ID:        id.String(),
		UserID:    target.ID,
		MessageID: msg.ID,
		ThreadID:  threadID,
		Status:    models.DeliveryUnread,
		CreatedAt: now,
	}
	if err := h.db.CreateDelivery(ctx, delivery); err != nil {
		h.logger.Error().Err(err).Msg("create delivery failed")
		h.Error(w, http.StatusInternalServerError, "failed to deliver message")
		return
	}
	metrics.DeliveriesCreated.Inc()

	h.JSON(w, http.StatusOK, DeliverResponse{
		Status:            "queued",
		DeliveryID:        delivery.ID,
		ThreadID:          threadID,
		EstimatedDelivery: now,
		CreatedAt:         now,
	})
}
