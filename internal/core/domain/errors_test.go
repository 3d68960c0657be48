package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("OM-TEST-1000", "test message"),
			expected: "[OM-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("OM-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[OM-TEST-1001] test message: extra info",
		},
		{
			name:     "error with formatted details",
			err:      NewDomainError("OM-TEST-1002", "test message").WithDetailsf("key=%s", "region"),
			expected: "[OM-TEST-1002] test message: key=region",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("OM-TEST-1000", "message 1")
	err2 := NewDomainError("OM-TEST-1000", "message 2")
	err3 := NewDomainError("OM-TEST-1001", "message 1")

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_WithCause(t *testing.T) {
	original := NewDomainError("OM-TEST-1000", "original message")
	cause := fmt.Errorf("root cause")
	withCause := original.WithCause(cause)

	if original.Cause != nil {
		t.Error("WithCause should not modify original error")
	}
	if withCause.Cause != cause {
		t.Errorf("Cause = %v, want %v", withCause.Cause, cause)
	}
	if errors.Unwrap(withCause) != cause {
		t.Error("Unwrap() should return the cause")
	}
}

func TestIsDomainError(t *testing.T) {
	if !IsDomainError(ErrReleaseNotFound, "OM-REL-4040") {
		t.Error("IsDomainError should return true for matching code")
	}
	if IsDomainError(ErrReleaseNotFound, "OM-REL-9999") {
		t.Error("IsDomainError should return false for non-matching code")
	}
	if IsDomainError(fmt.Errorf("regular error"), "") {
		t.Error("IsDomainError should return false for non-DomainError")
	}

	wrapped := fmt.Errorf("wrapped: %w", ErrDimensionDependency)
	if !IsDomainError(wrapped, "OM-DIM-4090") {
		t.Error("IsDomainError should work with wrapped errors")
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"domain error", ErrIntegrity, "OM-UPD-4220"},
		{"wrapped domain error", fmt.Errorf("wrapped: %w", ErrApply.WithDetails("x")), "OM-UPD-5001"},
		{"regular error", fmt.Errorf("regular error"), ""},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("GetErrorCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err  *DomainError
		code string
	}{
		{ErrDimensionValidation, "OM-DIM-4001"},
		{ErrDimensionNotFound, "OM-DIM-4040"},
		{ErrDimensionDependency, "OM-DIM-4090"},
		{ErrReleaseValidation, "OM-REL-4001"},
		{ErrReleaseNotFound, "OM-REL-4040"},
		{ErrReleaseTransition, "OM-REL-4091"},
		{ErrFileValidation, "OM-FILE-4001"},
		{ErrPackageNotFound, "OM-PKG-4040"},
		{ErrEventValidation, "OM-EVT-4001"},
		{ErrConfigFetchTimeout, "OM-UPD-4080"},
		{ErrIntegrity, "OM-UPD-4220"},
		{ErrApply, "OM-UPD-5001"},
		{ErrBootFailed, "OM-UPD-4230"},
		{ErrRollbackFailed, "OM-UPD-5002"},
		{ErrStorageError, "OM-SYS-5001"},
		{ErrInvalidArgument, "OM-ARG-1001"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Error code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Error message should not be empty")
			}
		})
	}
}

func TestErrorChaining(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := ErrApply.
		WithDetails("attempt 01J0").
		WithCause(cause)

	if err.Code != "OM-UPD-5001" {
		t.Errorf("Code = %q, want %q", err.Code, "OM-UPD-5001")
	}
	if err.Details != "attempt 01J0" {
		t.Errorf("Details = %q", err.Details)
	}
	if !errors.Is(err, ErrApply) {
		t.Error("errors.Is should work after chaining")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
}
