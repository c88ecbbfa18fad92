package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"tiler/internal/artifacts"
	"tiler/internal/logging"
	"tiler/internal/tiles"
)

// writeJSON encodes v as JSON and writes it to the response writer.
// Encoding errors are logged since the status line is already sent.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

func writeJSONStatus(w http.ResponseWriter, v interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatus(w, map[string]string{"error": message}, statusCode)
}

// statusFor maps pipeline errors to HTTP status codes. ok is false for
// errors that have no client-facing meaning.
func statusFor(err error) (code int, ok bool) {
	switch {
	case errors.Is(err, tiles.ErrInvalidInput), errors.Is(err, artifacts.ErrInvalidFileID), errors.Is(err, artifacts.ErrUnsupportedExt):
		return http.StatusBadRequest, true
	case errors.Is(err, tiles.ErrNotFound):
		return http.StatusNotFound, true
	default:
		return http.StatusInternalServerError, false
	}
}
