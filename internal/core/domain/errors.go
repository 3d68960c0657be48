// Package domain defines the core domain models for OTAMesh.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Codes have the form "OM-<AREA>-<NNNN>" where the last three digits mirror
// the closest HTTP status.
type DomainError struct {
	Code    string // Error code (e.g., "OM-REL-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Dimension Errors (DIM)
// ============================================================================

var (
	// ErrDimensionValidation is the registry ValidationError.
	ErrDimensionValidation = NewDomainError("OM-DIM-4001", "dimension validation failed")

	// ErrDimensionNotFound indicates the dimension key is not registered.
	ErrDimensionNotFound = NewDomainError("OM-DIM-4040", "dimension not found")

	// ErrDimensionDependency is the registry DependencyError: the dimension
	// is still referenced by a cohort or a release filter.
	ErrDimensionDependency = NewDomainError("OM-DIM-4090", "dimension is still referenced")
)

// ============================================================================
// Release Errors (REL)
// ============================================================================

var (
	// ErrReleaseValidation indicates release data validation failed.
	ErrReleaseValidation = NewDomainError("OM-REL-4001", "release validation failed")

	// ErrReleaseNotFound indicates the release was not found.
	ErrReleaseNotFound = NewDomainError("OM-REL-4040", "release not found")

	// ErrReleaseConflict indicates the release id already exists.
	ErrReleaseConflict = NewDomainError("OM-REL-4090", "release id conflict")

	// ErrReleaseTransition indicates a lifecycle transition not allowed from
	// the current status.
	ErrReleaseTransition = NewDomainError("OM-REL-4091", "invalid release status transition")
)

// ============================================================================
// File and Package Errors (FILE, PKG)
// ============================================================================

var (
	// ErrFileValidation indicates file data validation failed.
	ErrFileValidation = NewDomainError("OM-FILE-4001", "file validation failed")

	// ErrFileNotFound indicates the file key did not resolve to a file.
	ErrFileNotFound = NewDomainError("OM-FILE-4040", "file not found")

	// ErrPackageValidation indicates package data validation failed.
	ErrPackageValidation = NewDomainError("OM-PKG-4001", "package validation failed")

	// ErrPackageNotFound indicates the package version was not found.
	ErrPackageNotFound = NewDomainError("OM-PKG-4040", "package not found")

	// ErrPackageGroupNotFound indicates the package group was not found.
	ErrPackageGroupNotFound = NewDomainError("OM-PKG-4041", "package group not found")
)

// ============================================================================
// Telemetry Errors (EVT)
// ============================================================================

var (
	// ErrEventValidation indicates a telemetry event failed validation.
	ErrEventValidation = NewDomainError("OM-EVT-4001", "event validation failed")
)

// ============================================================================
// Client Update Errors (UPD)
// ============================================================================

var (
	// ErrConfigFetchTimeout indicates the release config was not fetched
	// within release_config_timeout.
	ErrConfigFetchTimeout = NewDomainError("OM-UPD-4080", "release config fetch timed out")

	// ErrConfigFetch indicates the release config fetch failed.
	ErrConfigFetch = NewDomainError("OM-UPD-5020", "release config fetch failed")

	// ErrIntegrity indicates a downloaded file failed checksum or size verification.
	ErrIntegrity = NewDomainError("OM-UPD-4220", "file integrity check failed")

	// ErrDownload indicates a file could not be downloaded.
	ErrDownload = NewDomainError("OM-UPD-5021", "file download failed")

	// ErrApply indicates the version swap could not be persisted.
	ErrApply = NewDomainError("OM-UPD-5001", "apply failed")

	// ErrBootFailed indicates boot was not confirmed within boot_timeout or
	// the host reported a failed boot.
	ErrBootFailed = NewDomainError("OM-UPD-4230", "boot failed")

	// ErrRollbackFailed indicates the revert to last-known-good failed.
	// The session is unusable after this error.
	ErrRollbackFailed = NewDomainError("OM-UPD-5002", "rollback failed")

	// ErrUpdateBusy indicates an update attempt is already in flight.
	ErrUpdateBusy = NewDomainError("OM-UPD-4090", "update attempt in progress")

	// ErrCancelNotPermitted indicates cancellation was requested once
	// Applying had started.
	ErrCancelNotPermitted = NewDomainError("OM-UPD-4091", "cancel not permitted after apply started")

	// ErrNotAwaitingBoot indicates a boot report outside AwaitingBootConfirmation.
	ErrNotAwaitingBoot = NewDomainError("OM-UPD-4092", "no boot confirmation pending")

	// ErrFileUnavailable indicates the requested file is not present locally.
	ErrFileUnavailable = NewDomainError("OM-UPD-4040", "file not available")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("OM-SYS-5000", "internal server error")

	// ErrStorageError indicates a storage layer error.
	ErrStorageError = NewDomainError("OM-SYS-5001", "storage error")

	// ErrServiceUnavailable indicates the service is temporarily unavailable.
	ErrServiceUnavailable = NewDomainError("OM-SYS-5030", "service unavailable")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("OM-SYS-4000", "bad request")

	// ErrNotFound indicates an unknown route or action.
	ErrNotFound = NewDomainError("OM-SYS-4040", "not found")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("OM-SYS-4290", "too many requests")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("OM-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("OM-ARG-1002", "missing required argument")
)
