package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/infra/buildinfo"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.health("healthy"))
}

// handleReady handles GET /ready. The server is ready once the first
// resolution snapshot has been built.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Serve.Ready() {
		h.handleServiceError(w, r, domain.ErrServiceUnavailable.WithDetails("catalog snapshot not built"))
		return
	}
	h.writeJSON(w, r, http.StatusOK, h.health("ready"))
}

func (h *Handler) health(status string) HealthResponse {
	resp := HealthResponse{
		Status:  status,
		Version: buildinfo.Get().Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if snap := h.svc.Serve.Snapshot(); snap != nil {
		resp.SnapshotReleases = snap.Releases()
		if !snap.BuiltAt().IsZero() {
			resp.SnapshotBuiltAt = snap.BuiltAt().UTC().Format(time.RFC3339)
		}
	}
	return resp
}
