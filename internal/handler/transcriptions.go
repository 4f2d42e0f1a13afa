package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/realtime-sync/internal/middleware"
	"github.com/capitalize-ai/realtime-sync/internal/pipeline"
	"github.com/capitalize-ai/realtime-sync/internal/transcribe"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
)

// TranscriptionHandler kicks off transcription of a message's media.
type TranscriptionHandler struct {
	pipeline *pipeline.Pipeline
	worker   *transcribe.Worker
	logger   *logger.Logger
}

// NewTranscriptionHandler creates a new transcription handler.
func NewTranscriptionHandler(p *pipeline.Pipeline, worker *transcribe.Worker, log *logger.Logger) *TranscriptionHandler {
	return &TranscriptionHandler{
		pipeline: p,
		worker:   worker,
		logger:   log,
	}
}

// Transcribe handles POST /api/v1/messages/:id/transcribe
// Returns 202 once the job is enqueued; the result lands on the message via
// the change stream when the worker finishes.
func (h *TranscriptionHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "id")

	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.worker.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "transcription is not configured")
		return
	}

	msg, err := h.pipeline.GetMessage(ctx, messageID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if msg.MediaKey == "" {
		writeError(w, http.StatusBadRequest, "message has no media to transcribe")
		return
	}

	if err := h.worker.Enqueue(ctx, messageID, userID, msg.MediaKey); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message_id": messageID,
		"status":     transcribe.StatusProcessing,
	})
}
