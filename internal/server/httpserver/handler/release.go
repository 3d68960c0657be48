package handler

import (
	"context"
	"net/http"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/core/service"
)

// handleListReleases handles GET /admin/v1/releases?status=.
func (h *Handler) handleListReleases(w http.ResponseWriter, r *http.Request) {
	status := domain.ReleaseStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		h.handleServiceError(w, r, domain.ErrInvalidArgument.WithDetailsf("unknown status %q", status))
		return
	}
	releases, err := h.svc.Releases.List(r.Context(), status)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, newList(releases))
}

// handleCreateRelease handles POST /admin/v1/releases.
func (h *Handler) handleCreateRelease(w http.ResponseWriter, r *http.Request) {
	var req CreateReleaseRequest
	if !h.decode(w, r, &req, domain.ErrReleaseValidation) {
		return
	}

	rel, err := h.svc.Releases.Create(r.Context(), &service.CreateReleaseRequest{
		Name:                 req.Name,
		PackageVersion:       req.PackageVersion,
		DimensionFilter:      req.DimensionFilter,
		RolloutPercentage:    req.RolloutPercentage,
		ReleaseConfigTimeout: req.ReleaseConfigTimeout,
		BootTimeout:          req.BootTimeout,
		Properties:           req.Properties,
		Resources:            req.Resources,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, rel)
}

// handleGetRelease handles GET /admin/v1/releases/{id}.
func (h *Handler) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	rel, err := h.svc.Releases.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, rel)
}

// handleReleaseAction handles POST /admin/v1/releases/{id}/{action}.
func (h *Handler) handleReleaseAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var transition func(context.Context, string) (*domain.Release, error)
	switch r.PathValue("action") {
	case "publish":
		transition = h.svc.Releases.Publish
	case "pause":
		transition = h.svc.Releases.Pause
	case "resume":
		transition = h.svc.Releases.Resume
	case "conclude":
		transition = h.svc.Releases.Conclude
	case "rollback":
		transition = h.svc.Releases.Rollback
	case "ramp":
		var req RampReleaseRequest
		if !h.decode(w, r, &req, domain.ErrReleaseValidation) {
			return
		}
		transition = func(ctx context.Context, id string) (*domain.Release, error) {
			return h.svc.Releases.Ramp(ctx, id, *req.RolloutPercentage)
		}
	default:
		h.handleServiceError(w, r, domain.ErrNotFound.WithDetailsf("unknown release action %q", r.PathValue("action")))
		return
	}

	rel, err := transition(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, rel)
}
