package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"tiler/internal/logging"
)

// PrepareImage runs the whole pyramid for one image. The response is 200
// when every job finished, 202 when the rest of the pyramid is still being
// produced, and 503 when preparation gave up.
func (h *Handlers) PrepareImage(w http.ResponseWriter, r *http.Request) {
	fileid := mux.Vars(r)["fileid"]

	outcome, err := h.images.Prepare(r.Context(), fileid)
	if err != nil {
		code, ok := statusFor(err)
		if !ok {
			logging.Error("prepare %s: %v", fileid, err)
		}
		writeJSONError(w, err.Error(), code)
		return
	}

	status := http.StatusOK
	switch {
	case outcome.GaveUp:
		status = http.StatusServiceUnavailable
	case outcome.Partial:
		status = http.StatusAccepted
	}
	writeJSONStatus(w, outcome, status)
}

// GetImage returns the image document with tile counts and lock state.
func (h *Handlers) GetImage(w http.ResponseWriter, r *http.Request) {
	fileid := mux.Vars(r)["fileid"]

	st, err := h.images.Status(r.Context(), fileid)
	if err != nil {
		code, ok := statusFor(err)
		if !ok {
			logging.Error("status %s: %v", fileid, err)
		}
		writeJSONError(w, err.Error(), code)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	writeJSONStatus(w, st, http.StatusOK)
}
