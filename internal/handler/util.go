package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/capitalize-ai/realtime-sync/internal/errs"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "not a participant of this conversation")
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrDuplicateReaction):
		// Benign no-op for the UI: the reaction is already present.
		writeError(w, http.StatusConflict, "reaction already exists")
	case errors.Is(err, errs.ErrCreateFailed):
		writeError(w, http.StatusServiceUnavailable, "creation failed, no partial state remains, retry the operation")
	default:
		writeError(w, http.StatusServiceUnavailable, "temporary backend failure, retry with backoff")
	}
}
