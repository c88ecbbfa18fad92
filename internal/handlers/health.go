package handlers

import (
	"net/http"
	"runtime"
	"time"

	"tiler/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status       string `json:"status"`
	Ready        bool   `json:"ready"`
	Version      string `json:"version"`
	Uptime       string `json:"uptime"`
	Error        string `json:"error,omitempty"`
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

func (h *Handlers) checkReady(r *http.Request) error {
	for _, p := range h.pingers {
		if err := p.Ping(r.Context()); err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:       statusHealthy,
		Ready:        true,
		Version:      startup.Version,
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	status := http.StatusOK
	if err := h.checkReady(r); err != nil {
		response.Status = statusDegraded
		response.Ready = false
		response.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, response, status)
}

// LivenessCheck is a simple liveness check (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{"status": "alive"})
	}
}

// ReadinessCheck returns 200 only when every dependency answers.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.checkReady(r); err != nil {
		writeJSONStatus(w, map[string]string{"status": "not_ready", "error": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	writeJSONStatus(w, map[string]string{"status": "ready"}, http.StatusOK)
}
