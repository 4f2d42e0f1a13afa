package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/middleware"
	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/internal/pipeline"
	"github.com/capitalize-ai/realtime-sync/internal/stream"
	"github.com/capitalize-ai/realtime-sync/internal/subscription"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
	"github.com/capitalize-ai/realtime-sync/pkg/metrics"
)

const (
	sseHeartbeatInterval = 30 * time.Second
	sseEventBuffer       = 64
)

// StreamHandler exposes the change-event stream over SSE.
type StreamHandler struct {
	pipeline *pipeline.Pipeline
	router   *stream.Router
	logger   *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(p *pipeline.Pipeline, router *stream.Router, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		pipeline: p,
		router:   router,
		logger:   log,
	}
}

// conversationRelations are the change-stream topics one conversation
// subscription covers.
var conversationRelations = []model.Relation{
	model.RelationMessages,
	model.RelationReactions,
	model.RelationAggregates,
	model.RelationParticipants,
}

// Events handles GET /api/v1/conversations/:id/events
// Streams change events for one conversation. ?replay=N backfills the last
// N retained message events before going live; events across relations are
// not causally ordered, only per-relation order holds.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Membership is evaluated at call time; a removed participant cannot
	// open a stream.
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

	events := make(chan model.ChangeEvent, sseEventBuffer)
	push := func(ev model.ChangeEvent) {
		select {
		case events <- ev:
		default:
			h.logger.Warn("dropping change event, slow SSE consumer",
				zap.String("conversation_id", conversationID),
			)
		}
	}

	// One manager per connection: its topic table is the connection's
	// subscription set, torn down wholesale on disconnect.
	manager := subscription.NewManager(h.router, h.logger)
	defer manager.UnsubscribeAll()

	for _, relation := range conversationRelations {
		topic := subscription.Topic{Relation: relation, Scope: conversationID}
		if err := manager.Subscribe(ctx, topic, push); err != nil {
			sendSSEEvent(w, flusher, "error", map[string]string{"error": "subscribe failed"})
			return
		}
	}

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	if n := replayCount(r); n > 0 {
		h.replayMessages(ctx, w, flusher, conversationID, n)
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected",
				zap.String("conversation_id", conversationID),
			)
			return
		case ev := <-events:
			sendSSEEvent(w, flusher, "change", ev)
		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		}
	}
}

// Notifications handles GET /api/v1/notifications/events
// Streams the caller's notification change events.
func (h *StreamHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	events := make(chan model.ChangeEvent, sseEventBuffer)
	manager := subscription.NewManager(h.router, h.logger)
	defer manager.UnsubscribeAll()

	topic := subscription.Topic{Relation: model.RelationNotifications, Scope: userID}
	err := manager.Subscribe(ctx, topic, func(ev model.ChangeEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	if err != nil {
		sendSSEEvent(w, flusher, "error", map[string]string{"error": "subscribe failed"})
		return
	}

	sendSSEEvent(w, flusher, "connected", map[string]string{"user_id": userID})

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			sendSSEEvent(w, flusher, "change", ev)
		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		}
	}
}

func (h *StreamHandler) replayMessages(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, conversationID string, limit int) {
	replayed, err := h.router.Replay(ctx, model.RelationMessages, conversationID, limit)
	if err != nil {
		h.logger.Warn("event replay failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		sendSSEEvent(w, flusher, "error", map[string]string{"error": "replay failed"})
		return
	}

	for _, ev := range replayed {
		select {
		case <-ctx.Done():
			return
		default:
		}
		sendSSEEvent(w, flusher, "change", ev)
	}

	sendSSEEvent(w, flusher, "replay_complete", map[string]int{"count": len(replayed)})
}

func replayCount(r *http.Request) int {
	if s := r.URL.Query().Get("replay"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func beginSSE(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}
	return flusher, true
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
