package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"tiler/internal/artifacts"
	"tiler/internal/logging"
	"tiler/internal/metrics"
)

// TileRoute is the fallback route; it mirrors the static tile layout.
const TileRoute = "/tiles/{c0}/{c12}/{rest}/{size:[0-9]+}/{zoom:[0-9]+}/{row:[0-9]+},{col:[0-9]+}.{ext}"

const (
	tileCacheControl        = "public, max-age=86400"
	placeholderCacheControl = "max-age=0"
)

// GetTile serves one tile, producing it when it does not exist yet.
func (h *Handlers) GetTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	fileid, err := artifacts.JoinFileID(vars["c0"], vars["c12"], vars["rest"])
	if err != nil {
		h.tileError(w, r, err)
		return
	}
	var coords [4]int
	for i, name := range []string{"size", "zoom", "row", "col"} {
		if coords[i], err = strconv.Atoi(vars[name]); err != nil {
			metrics.TileRequestsTotal.WithLabelValues("invalid").Inc()
			http.Error(w, "invalid "+name, http.StatusBadRequest)
			return
		}
	}
	ext := vars["ext"]

	path, err := h.images.Tile(r.Context(), fileid, coords[0], coords[1], coords[2], coords[3], ext)
	if err != nil {
		h.tileError(w, r, err)
		return
	}

	f, err := h.store.Open(r.Context(), path)
	if err != nil {
		h.tileError(w, r, err)
		return
	}
	defer f.Close()

	metrics.TileRequestsTotal.WithLabelValues("served").Inc()
	w.Header().Set("Content-Type", artifacts.ContentTypeForExt(ext))
	w.Header().Set("Cache-Control", tileCacheControl)
	if _, err := io.Copy(w, f); err != nil {
		logging.Debug("tile %s: write response: %v", path, err)
	}
}

func (h *Handlers) tileError(w http.ResponseWriter, r *http.Request, err error) {
	if code, ok := statusFor(err); ok {
		result := "invalid"
		if code == http.StatusNotFound {
			result = "not_found"
		}
		metrics.TileRequestsTotal.WithLabelValues(result).Inc()
		http.Error(w, http.StatusText(code), code)
		return
	}

	logging.Warn("tile %s: serving placeholder: %v", r.URL.Path, err)
	metrics.TileRequestsTotal.WithLabelValues("placeholder").Inc()
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", placeholderCacheControl)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(placeholder()); err != nil {
		logging.Debug("placeholder write: %v", err)
	}
}
