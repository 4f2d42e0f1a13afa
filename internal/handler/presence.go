package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/middleware"
	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/internal/pipeline"
	"github.com/capitalize-ai/realtime-sync/internal/presence"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
	"github.com/capitalize-ai/realtime-sync/pkg/metrics"
)

// PresenceHandler exposes typing and online-status presence.
type PresenceHandler struct {
	pipeline *pipeline.Pipeline
	tracker  *presence.Tracker
	logger   *logger.Logger
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(p *pipeline.Pipeline, tracker *presence.Tracker, log *logger.Logger) *PresenceHandler {
	return &PresenceHandler{
		pipeline: p,
		tracker:  tracker,
		logger:   log,
	}
}

// SetTyping handles POST /api/v1/conversations/:id/typing
func (h *PresenceHandler) SetTyping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	username := middleware.GetUsername(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		IsTyping bool `json:"is_typing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.pipeline.GetConversation(ctx, conversationID, userID); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.tracker.SetTyping(ctx, conversationID, userID, username, req.IsTyping); err != nil {
		h.logger.Error("failed to publish typing record",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "presence channel unavailable")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetOnline handles POST /api/v1/presence/online
func (h *PresenceHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	username := middleware.GetUsername(ctx)

	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.tracker.SetOnline(ctx, userID, username, req.Online); err != nil {
		h.logger.Error("failed to publish online record", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "presence channel unavailable")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TypingStream handles GET /api/v1/conversations/:id/typing
// Streams the conversation's remote typing set over SSE. Each event carries
// the full current set, never a delta, so a dropped event is corrected by
// the next one.
func (h *PresenceHandler) TypingStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.pipeline.GetConversation(ctx, conversationID, userID); err != nil {
		writeDomainError(w, err)
		return
	}

	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	updates := make(chan []model.TypingParticipant, 8)
	cancel, err := h.tracker.OnTypingChange(conversationID, userID, func(typing []model.TypingParticipant) {
		select {
		case updates <- typing:
		default:
		}
	})
	if err != nil {
		sendSSEEvent(w, flusher, "error", map[string]string{"error": "presence channel unavailable"})
		return
	}
	defer cancel()

	sendSSEEvent(w, flusher, "typing", []model.TypingParticipant{})

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case typing := <-updates:
			if typing == nil {
				typing = []model.TypingParticipant{}
			}
			sendSSEEvent(w, flusher, "typing", typing)
		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		}
	}
}

// OnlineStream handles GET /api/v1/presence/online
// Streams the global online set, excluding the caller.
func (h *PresenceHandler) OnlineStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	updates := make(chan []model.TypingParticipant, 8)
	cancel, err := h.tracker.OnOnlineChange(userID, func(online []model.TypingParticipant) {
		select {
		case updates <- online:
		default:
		}
	})
	if err != nil {
		sendSSEEvent(w, flusher, "error", map[string]string{"error": "presence channel unavailable"})
		return
	}
	defer cancel()

	sendSSEEvent(w, flusher, "online", []model.TypingParticipant{})

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case online := <-updates:
			if online == nil {
				online = []model.TypingParticipant{}
			}
			sendSSEEvent(w, flusher, "online", online)
		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		}
	}
}
