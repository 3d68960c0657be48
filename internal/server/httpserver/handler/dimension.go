package handler

import (
	"net/http"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/core/service"
)

// handleListDimensions handles GET /admin/v1/dimensions.
func (h *Handler) handleListDimensions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, newList(h.svc.Dimensions.List(r.Context())))
}

// handleCreateDimension handles POST /admin/v1/dimensions.
func (h *Handler) handleCreateDimension(w http.ResponseWriter, r *http.Request) {
	var req CreateDimensionRequest
	if !h.decode(w, r, &req, domain.ErrDimensionValidation) {
		return
	}

	d, err := h.svc.Dimensions.Register(r.Context(), &service.RegisterDimensionRequest{
		Key:         req.Key,
		Priority:    req.Priority,
		Kind:        req.Kind,
		DependsOn:   req.DependsOn,
		Mandatory:   req.Mandatory,
		Schema:      req.Schema,
		Description: req.Description,
		Cohorts:     req.Cohorts,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, d)
}

// handleGetDimension handles GET /admin/v1/dimensions/{key}.
func (h *Handler) handleGetDimension(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Dimensions.Get(r.Context(), r.PathValue("key"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, d)
}

// handleReorderDimension handles POST /admin/v1/dimensions/{key}/reorder.
func (h *Handler) handleReorderDimension(w http.ResponseWriter, r *http.Request) {
	var req ReorderDimensionRequest
	if !h.decode(w, r, &req, domain.ErrDimensionValidation) {
		return
	}
	d, err := h.svc.Dimensions.Reorder(r.Context(), r.PathValue("key"), req.Priority)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, d)
}

// handleUpdateCohorts handles POST /admin/v1/dimensions/{key}/cohorts.
func (h *Handler) handleUpdateCohorts(w http.ResponseWriter, r *http.Request) {
	var req UpdateCohortsRequest
	if !h.decode(w, r, &req, domain.ErrDimensionValidation) {
		return
	}
	d, err := h.svc.Dimensions.UpdateCohorts(r.Context(), r.PathValue("key"), req.Cohorts)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, d)
}

// handleRemoveDimension handles POST /admin/v1/dimensions/{key}/remove.
func (h *Handler) handleRemoveDimension(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := h.svc.Dimensions.Remove(r.Context(), key); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{"removed": key})
}
