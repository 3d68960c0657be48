package handler

import (
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// Response is the standard API response envelope.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// ListResponse wraps collections.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func newList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Total: len(items)}
}

// ============================================================================
// Device
// ============================================================================

// IngestEventsRequest is the body of POST /v1/events.
type IngestEventsRequest struct {
	Events []*domain.Event `json:"events" validate:"required,min=1,max=500"`
}

// ============================================================================
// Dimensions
// ============================================================================

// CreateDimensionRequest is the body of POST /admin/v1/dimensions.
type CreateDimensionRequest struct {
	Key         string                  `json:"key" validate:"required,max=64"`
	Priority    int                     `json:"priority,omitempty" validate:"gte=0"`
	Kind        domain.DimensionKind    `json:"kind,omitempty" validate:"omitempty,oneof=standard cohort"`
	DependsOn   string                  `json:"depends_on,omitempty" validate:"required_if=Kind cohort"`
	Mandatory   bool                    `json:"mandatory,omitempty"`
	Schema      *domain.DimensionSchema `json:"schema,omitempty"`
	Description string                  `json:"description,omitempty" validate:"max=512"`
	Cohorts     []domain.Cohort         `json:"cohorts,omitempty" validate:"dive"`
}

// ReorderDimensionRequest is the body of POST /admin/v1/dimensions/{key}/reorder.
type ReorderDimensionRequest struct {
	Priority int `json:"priority" validate:"required,gte=1"`
}

// UpdateCohortsRequest is the body of POST /admin/v1/dimensions/{key}/cohorts.
type UpdateCohortsRequest struct {
	Cohorts []domain.Cohort `json:"cohorts" validate:"dive"`
}

// ============================================================================
// Releases
// ============================================================================

// CreateReleaseRequest is the body of POST /admin/v1/releases.
type CreateReleaseRequest struct {
	Name                 string            `json:"name,omitempty" validate:"max=128"`
	PackageVersion       int               `json:"package_version" validate:"required,gte=1"`
	DimensionFilter      map[string]string `json:"dimension_filter,omitempty" validate:"max=32"`
	RolloutPercentage    int               `json:"rollout_percentage" validate:"gte=0,lte=100"`
	ReleaseConfigTimeout int64             `json:"release_config_timeout,omitempty" validate:"gte=0"`
	BootTimeout          int64             `json:"boot_timeout,omitempty" validate:"gte=0"`
	Properties           map[string]any    `json:"properties,omitempty"`
	Resources            []string          `json:"resources,omitempty" validate:"max=256,dive,filekey"`
}

// RampReleaseRequest is the body of POST /admin/v1/releases/{id}/ramp.
type RampReleaseRequest struct {
	RolloutPercentage *int `json:"rollout_percentage" validate:"required,gte=0,lte=100"`
}

// ============================================================================
// Files and packages
// ============================================================================

// CreateFileRequest is the body of POST /admin/v1/files. A checksum needs
// a size; the file model rejects a size without a checksum.
type CreateFileRequest struct {
	FilePath string            `json:"file_path" validate:"required,max=512"`
	URL      string            `json:"url" validate:"required,uri"`
	Checksum string            `json:"checksum,omitempty" validate:"omitempty,sha256hex"`
	Size     int64             `json:"size,omitempty" validate:"required_with=Checksum,gte=0"`
	Tag      string            `json:"tag,omitempty" validate:"omitempty,max=64"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TagFileRequest is the body of POST /admin/v1/files/tag.
type TagFileRequest struct {
	Key string `json:"key" validate:"required,filekey"`
	Tag string `json:"tag" validate:"required,max=64"`
}

// CreateGroupRequest is the body of POST /admin/v1/package-groups.
type CreateGroupRequest struct {
	Name    string `json:"name" validate:"required,max=128"`
	Primary bool   `json:"primary,omitempty"`
}

// CreatePackageRequest is the body of POST /admin/v1/packages.
type CreatePackageRequest struct {
	GroupID    string         `json:"group_id,omitempty"`
	Name       string         `json:"name,omitempty" validate:"max=128"`
	Index      string         `json:"index" validate:"required,filekey"`
	Important  []string       `json:"important,omitempty" validate:"dive,filekey"`
	Lazy       []string       `json:"lazy,omitempty" validate:"dive,filekey"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ============================================================================
// Resolve preview
// ============================================================================

// PreviewRequest is the body of POST /admin/v1/resolve/preview.
type PreviewRequest struct {
	DeviceID string            `json:"device_id" validate:"required"`
	Context  map[string]string `json:"context"`
}

// ============================================================================
// System
// ============================================================================

// HealthResponse is returned by /health and /ready.
type HealthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	Time             string `json:"time"`
	SnapshotReleases int    `json:"snapshot_releases"`
	SnapshotBuiltAt  string `json:"snapshot_built_at,omitempty"`
}
