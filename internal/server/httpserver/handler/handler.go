package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/core/service"
	"github.com/yndnr/otamesh-go/internal/storage"
	"github.com/yndnr/otamesh-go/internal/telemetry/logger"
	"github.com/yndnr/otamesh-go/internal/telemetry/metric"
)

// Services are the dependencies of the API.
type Services struct {
	Dimensions *service.DimensionService
	Releases   *service.ReleaseService
	Files      *service.FileService
	Packages   *service.PackageService
	Serve      *service.ServeService
	Analytics  *service.AnalyticsService
	// KV backs GET /admin/v1/backup.
	KV      storage.KVEngine
	Metrics *metric.Registry
	Logger  *slog.Logger
}

// Handler routes API requests to the services.
type Handler struct {
	svc      Services
	validate *validator.Validate
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates a Handler. A nil Metrics gets a private registry.
func New(svc Services) *Handler {
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}
	if svc.Metrics == nil {
		svc.Metrics = metric.NewRegistry()
	}
	h := &Handler{
		svc:      svc,
		validate: newValidator(),
		logger:   svc.Logger,
		mux:      http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	// Device
	h.mux.HandleFunc("GET /v1/release-config", h.handleReleaseConfig)
	h.mux.HandleFunc("POST /v1/events", h.handleIngestEvents)

	// Dimensions
	h.mux.HandleFunc("GET /admin/v1/dimensions", h.handleListDimensions)
	h.mux.HandleFunc("POST /admin/v1/dimensions", h.handleCreateDimension)
	h.mux.HandleFunc("GET /admin/v1/dimensions/{key}", h.handleGetDimension)
	h.mux.HandleFunc("POST /admin/v1/dimensions/{key}/reorder", h.handleReorderDimension)
	h.mux.HandleFunc("POST /admin/v1/dimensions/{key}/cohorts", h.handleUpdateCohorts)
	h.mux.HandleFunc("POST /admin/v1/dimensions/{key}/remove", h.handleRemoveDimension)

	// Releases
	h.mux.HandleFunc("GET /admin/v1/releases", h.handleListReleases)
	h.mux.HandleFunc("POST /admin/v1/releases", h.handleCreateRelease)
	h.mux.HandleFunc("GET /admin/v1/releases/{id}", h.handleGetRelease)
	h.mux.HandleFunc("POST /admin/v1/releases/{id}/{action}", h.handleReleaseAction)

	// Files
	h.mux.HandleFunc("GET /admin/v1/files", h.handleListFiles)
	h.mux.HandleFunc("POST /admin/v1/files", h.handleCreateFile)
	h.mux.HandleFunc("GET /admin/v1/files/lookup", h.handleLookupFile)
	h.mux.HandleFunc("POST /admin/v1/files/tag", h.handleTagFile)

	// Packages
	h.mux.HandleFunc("GET /admin/v1/package-groups", h.handleListGroups)
	h.mux.HandleFunc("POST /admin/v1/package-groups", h.handleCreateGroup)
	h.mux.HandleFunc("GET /admin/v1/packages", h.handleListPackages)
	h.mux.HandleFunc("POST /admin/v1/packages", h.handleCreatePackage)
	h.mux.HandleFunc("GET /admin/v1/packages/{version}", h.handleGetPackage)

	// Operators
	h.mux.HandleFunc("POST /admin/v1/resolve/preview", h.handlePreview)
	h.mux.HandleFunc("GET /admin/v1/analytics/adoption", h.handleAdoption)
	h.mux.HandleFunc("GET /admin/v1/backup", h.handleBackup)
}

// ============================================================================
// Request and response helpers
// ============================================================================

// writeJSON writes data in the standard envelope.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		logger.L(r.Context()).Error("failed to encode response", "error", err)
	}
}

// writeError writes an error envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := getRequestID(r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, details))
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		status := errorCodeToHTTPStatus(de.Code)
		if status >= http.StatusInternalServerError {
			logger.L(r.Context()).Error("request failed", "code", de.Code, "error", err)
		}
		var details any
		if de.Details != "" {
			details = de.Details
		}
		h.writeError(w, r, status, de.Code, de.Message, details)
		return
	}

	logger.L(r.Context()).Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, domain.ErrInternalServer.Message, nil)
}

// decode reads a JSON body into dst and validates it. Failures are written
// as invalid with the given error and false is returned.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, invalid *domain.DomainError) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.handleServiceError(w, r, domain.ErrBadRequest.WithDetailsf("body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		if errors.Is(err, io.EOF) {
			h.handleServiceError(w, r, domain.ErrBadRequest.WithDetails("request body is empty"))
			return false
		}
		h.handleServiceError(w, r, domain.ErrBadRequest.WithDetails(err.Error()))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.handleServiceError(w, r, invalid.WithDetails(describeValidation(err)))
		return false
	}
	return true
}

// getRequestID returns the ID assigned by the RequestID middleware.
func getRequestID(r *http.Request) string {
	if id := logger.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

// errorCodeToHTTPStatus maps error codes to HTTP status codes. The last
// segment of a code carries the status in its first three digits, except
// for argument errors.
func errorCodeToHTTPStatus(code string) int {
	if strings.HasPrefix(code, "OM-ARG-") {
		return http.StatusBadRequest
	}
	i := strings.LastIndexByte(code, '-')
	if i < 0 || len(code)-i-1 != 4 {
		return http.StatusInternalServerError
	}
	var status int
	if _, err := fmt.Sscanf(code[i+1:i+4], "%d", &status); err != nil {
		return http.StatusInternalServerError
	}
	if status < 400 || status >= 600 || http.StatusText(status) == "" {
		return http.StatusInternalServerError
	}
	return status
}

// ============================================================================
// Validation
// ============================================================================

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("filekey", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseFileKey(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("sha256hex", func(fl validator.FieldLevel) bool {
		return domain.ValidChecksum(fl.Field().String())
	})
	return v
}

// describeValidation flattens validator errors into one line.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
