package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/media"
	"github.com/capitalize-ai/realtime-sync/internal/middleware"
	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/internal/pipeline"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
)

// MessageHandler handles message and reaction endpoints.
type MessageHandler struct {
	pipeline *pipeline.Pipeline
	signer   *media.Signer
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(p *pipeline.Pipeline, signer *media.Signer, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		pipeline: p,
		signer:   signer,
		logger:   log,
	}
}

// Send handles POST /api/v1/conversations/:id/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.pipeline.SendMessage(ctx, conversationID, userID, &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// List handles GET /api/v1/conversations/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 50
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	messages, err := h.pipeline.ListMessages(ctx, conversationID, userID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ListMessagesResponse{
		Messages: messages,
		HasMore:  len(messages) == limit,
	})
}

// Update handles PATCH /api/v1/messages/:id
func (h *MessageHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "id")

	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var patch model.MessagePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.pipeline.UpdateMessage(ctx, messageID, userID, patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// AddReaction handles PUT /api/v1/messages/:id/reactions
func (h *MessageHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "id")

	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateEmoji(req.Emoji); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	agg, err := h.pipeline.AddReaction(ctx, messageID, userID, req.Emoji)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ReactionResponse{Aggregate: *agg})
}

// RemoveReaction handles DELETE /api/v1/messages/:id/reactions/:emoji
func (h *MessageHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "id")
	emoji := chi.URLParam(r, "emoji")

	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	agg, err := h.pipeline.RemoveReaction(ctx, messageID, userID, emoji)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ReactionResponse{Aggregate: *agg})
}

// GetReactions handles GET /api/v1/messages/:id/reactions
func (h *MessageHandler) GetReactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "id")

	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	agg, err := h.pipeline.GetReactionAggregate(ctx, messageID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ReactionResponse{Aggregate: *agg})
}

// MediaURL handles GET /api/v1/messages/:id/media-url
// Mints a signed, time-limited download URL for the message's media object.
func (h *MessageHandler) MediaURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "id")

	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.pipeline.GetMessage(ctx, messageID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if msg.MediaKey == "" {
		writeError(w, http.StatusNotFound, "message has no media")
		return
	}

	url, err := h.signer.SignURL(msg.MediaKey)
	if err != nil {
		h.logger.Error("failed to sign media URL", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to sign media URL")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
