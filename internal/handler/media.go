package handler

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/media"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
)

// MediaHandler serves media objects against signed download tokens. It sits
// outside the authenticated API surface: the token is the authorization.
type MediaHandler struct {
	signer   *media.Signer
	mediaDir string
	logger   *logger.Logger
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(signer *media.Signer, mediaDir string, log *logger.Logger) *MediaHandler {
	return &MediaHandler{
		signer:   signer,
		mediaDir: mediaDir,
		logger:   log,
	}
}

// Download handles GET /media/:key?token=...
func (h *MediaHandler) Download(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing download token")
		return
	}

	grantedKey, err := h.signer.Verify(token)
	if err != nil || grantedKey != key {
		writeError(w, http.StatusForbidden, "invalid or expired download token")
		return
	}

	// The object key is opaque; reject anything that escapes the media root.
	clean := filepath.Clean(key)
	if strings.Contains(clean, "..") || filepath.IsAbs(clean) {
		writeError(w, http.StatusBadRequest, "invalid object key")
		return
	}

	path := filepath.Join(h.mediaDir, clean)
	h.logger.Info("serving media object", zap.String("key", key))
	http.ServeFile(w, r, path)
}
