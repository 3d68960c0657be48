package handler

import (
	"net/http"
	"strconv"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/core/service"
)

// handleListFiles handles GET /admin/v1/files?prefix=.
func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.Files.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, newList(files))
}

// handleCreateFile handles POST /admin/v1/files.
func (h *Handler) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	var req CreateFileRequest
	if !h.decode(w, r, &req, domain.ErrFileValidation) {
		return
	}
	f, err := h.svc.Files.Create(r.Context(), &service.CreateFileRequest{
		FilePath: req.FilePath,
		URL:      req.URL,
		Checksum: req.Checksum,
		Size:     req.Size,
		Tag:      req.Tag,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, fileView(f))
}

// handleLookupFile handles GET /admin/v1/files/lookup?key=.
func (h *Handler) handleLookupFile(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		h.handleServiceError(w, r, domain.ErrMissingArgument.WithDetails("key is required"))
		return
	}
	f, err := h.svc.Files.Lookup(r.Context(), key)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, fileView(f))
}

// handleTagFile handles POST /admin/v1/files/tag.
func (h *Handler) handleTagFile(w http.ResponseWriter, r *http.Request) {
	var req TagFileRequest
	if !h.decode(w, r, &req, domain.ErrFileValidation) {
		return
	}
	f, err := h.svc.Files.Tag(r.Context(), req.Key, req.Tag)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, fileView(f))
}

// fileResponse adds the derived file id.
type fileResponse struct {
	ID string `json:"id"`
	*domain.File
}

func fileView(f *domain.File) fileResponse {
	return fileResponse{ID: f.ID(), File: f}
}

// ============================================================================
// Packages
// ============================================================================

// handleListGroups handles GET /admin/v1/package-groups.
func (h *Handler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.Packages.ListGroups(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, newList(groups))
}

// handleCreateGroup handles POST /admin/v1/package-groups.
func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !h.decode(w, r, &req, domain.ErrPackageValidation) {
		return
	}
	g, err := h.svc.Packages.CreateGroup(r.Context(), &service.CreateGroupRequest{
		Name:    req.Name,
		Primary: req.Primary,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, g)
}

// handleListPackages handles GET /admin/v1/packages?group_id=.
func (h *Handler) handleListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.svc.Packages.List(r.Context(), r.URL.Query().Get("group_id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, newList(pkgs))
}

// handleCreatePackage handles POST /admin/v1/packages.
func (h *Handler) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var req CreatePackageRequest
	if !h.decode(w, r, &req, domain.ErrPackageValidation) {
		return
	}
	p, err := h.svc.Packages.Create(r.Context(), &service.CreatePackageRequest{
		GroupID:    req.GroupID,
		Name:       req.Name,
		Index:      req.Index,
		Important:  req.Important,
		Lazy:       req.Lazy,
		Properties: req.Properties,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, p)
}

// handleGetPackage handles GET /admin/v1/packages/{version}?group_id=.
func (h *Handler) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		h.handleServiceError(w, r, domain.ErrInvalidArgument.WithDetailsf("invalid package version %q", r.PathValue("version")))
		return
	}
	p, err := h.svc.Packages.Get(r.Context(), r.URL.Query().Get("group_id"), version)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, p)
}
