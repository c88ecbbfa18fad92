package handlers

import (
	"net/http"
	"time"

	"tiler/internal/startup"
)

// versionResponse is the /version document.
type versionResponse struct {
	startup.BuildInfo
	Pyramid Pyramid `json:"pyramid"`
	Uptime  string  `json:"uptime"`
}

// GetVersion returns the build information with the pyramid geometry tiles
// are served in, so clients can size their tile grids.
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSONStatus(w, versionResponse{
		BuildInfo: startup.GetBuildInfo(),
		Pyramid:   h.Pyramid,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	}, http.StatusOK)
}
