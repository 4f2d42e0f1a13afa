// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/middleware"
	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/internal/pipeline"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	pipeline *pipeline.Pipeline
	logger   *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(p *pipeline.Pipeline, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		pipeline: p,
		logger:   log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The creator is always part of the new conversation.
	req.ParticipantIDs = append(req.ParticipantIDs, userID)

	resp, err := h.pipeline.CreateConversation(ctx, req.ParticipantIDs)
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.pipeline.GetConversation(ctx, conversationID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddParticipant handles POST /api/v1/conversations/:id/participants
func (h *ConversationHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateUserID(req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.pipeline.AddParticipant(ctx, conversationID, userID, req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveParticipant handles DELETE /api/v1/conversations/:id/participants/:userId
func (h *ConversationHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")
	targetUserID := chi.URLParam(r, "userId")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateUserID(targetUserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.pipeline.RemoveParticipant(ctx, conversationID, userID, targetUserID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
