package handler

import (
	"net/http"
	"time"
)

// ConnChecker reports transport connectivity.
type ConnChecker interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	transport ConnChecker
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(transport ConnChecker) *HealthHandler {
	return &HealthHandler{
		transport: transport,
		startTime: time.Now(),
	}
}

// Health handles GET /health (liveness).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.startTime).String(),
	})
}

// Ready handles GET /ready (readiness). Not ready while the change-stream
// transport is disconnected.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.transport.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"nats":   "disconnected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"nats":   "connected",
	})
}
