package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/realtime-sync/internal/middleware"
	"github.com/capitalize-ai/realtime-sync/internal/pipeline"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
)

// NotificationHandler handles the per-user notification inbox.
type NotificationHandler struct {
	pipeline *pipeline.Pipeline
	logger   *logger.Logger
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(p *pipeline.Pipeline, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		pipeline: p,
		logger:   log,
	}
}

// List handles GET /api/v1/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	resp, err := h.pipeline.ListNotifications(ctx, userID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// MarkRead handles POST /api/v1/notifications/:id/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	notificationID := chi.URLParam(r, "id")

	if notificationID == "" {
		writeError(w, http.StatusBadRequest, "notification ID is required")
		return
	}

	if err := h.pipeline.MarkNotificationRead(ctx, notificationID, userID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
