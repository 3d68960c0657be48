package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventIDPrefix prefixes generated telemetry event ids.
const EventIDPrefix = "evt-"

// EventType is the telemetry vocabulary emitted by the client state machine.
type EventType string

const (
	EventUpdateCheck        EventType = "UPDATE_CHECK"
	EventUpdateAvailable    EventType = "UPDATE_AVAILABLE"
	EventUpdateNotAvailable EventType = "UPDATE_NOT_AVAILABLE"
	EventConfigFetchTimeout EventType = "CONFIG_FETCH_TIMEOUT"
	EventDownloadStarted    EventType = "DOWNLOAD_STARTED"
	EventDownloadCompleted  EventType = "DOWNLOAD_COMPLETED"
	EventDownloadFailed     EventType = "DOWNLOAD_FAILED"
	EventApplyStarted       EventType = "APPLY_STARTED"
	EventApplySuccess       EventType = "APPLY_SUCCESS"
	EventApplyFailure       EventType = "APPLY_FAILURE"
	EventBootConfirmed      EventType = "BOOT_CONFIRMED"
	EventRollbackInitiated  EventType = "ROLLBACK_INITIATED"
	EventRollbackCompleted  EventType = "ROLLBACK_COMPLETED"
	EventRollbackFailed     EventType = "ROLLBACK_FAILED"

	// Deferred files (lazy package files and resources) are fetched after
	// boot confirmation and retried on later checks. They are reported per
	// file and stay out of the download counters.
	EventDeferredDownloadCompleted EventType = "DEFERRED_DOWNLOAD_COMPLETED"
	EventDeferredDownloadFailed    EventType = "DEFERRED_DOWNLOAD_FAILED"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	EventUpdateCheck, EventUpdateAvailable, EventUpdateNotAvailable,
	EventConfigFetchTimeout, EventDownloadStarted, EventDownloadCompleted,
	EventDownloadFailed, EventApplyStarted, EventApplySuccess,
	EventApplyFailure, EventBootConfirmed, EventRollbackInitiated,
	EventRollbackCompleted, EventRollbackFailed,
	EventDeferredDownloadCompleted, EventDeferredDownloadFailed,
}

// Valid reports whether t is part of the vocabulary.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CategoryLifecycle is the category of every update state machine event.
const CategoryLifecycle = "lifecycle"

// Label names the update phase an event belongs to.
func (t EventType) Label() string {
	switch t {
	case EventUpdateCheck, EventUpdateAvailable, EventUpdateNotAvailable, EventConfigFetchTimeout:
		return "update_check"
	case EventDownloadStarted, EventDownloadCompleted, EventDownloadFailed:
		return "download"
	case EventApplyStarted, EventApplySuccess, EventApplyFailure:
		return "apply"
	case EventBootConfirmed:
		return "boot"
	case EventRollbackInitiated, EventRollbackCompleted, EventRollbackFailed:
		return "rollback"
	case EventDeferredDownloadCompleted, EventDeferredDownloadFailed:
		return "deferred_download"
	}
	return ""
}

// Outcome values.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
)

// Event is one client telemetry record. AppUpdateID identifies the update
// attempt; (AppUpdateID, Type, Key) is the idempotency key.
type Event struct {
	EventID               string         `json:"event_id" cbor:"event_id"`
	AppUpdateID           string         `json:"app_update_id" cbor:"app_update_id"`
	DeviceID              string         `json:"device_id" cbor:"device_id"`
	ReleaseID             string         `json:"release_id,omitempty" cbor:"release_id,omitempty"`
	Type                  EventType      `json:"event_type" cbor:"event_type"`
	Category              string         `json:"category,omitempty" cbor:"category,omitempty"`
	Label                 string         `json:"label,omitempty" cbor:"label,omitempty"`
	Key                   string         `json:"key,omitempty" cbor:"key,omitempty"`
	Value                 map[string]any `json:"value,omitempty" cbor:"value,omitempty"`
	Outcome               string         `json:"outcome,omitempty" cbor:"outcome,omitempty"`
	CurrentPackageVersion int            `json:"current_package_version,omitempty" cbor:"current_package_version,omitempty"`
	TargetPackageVersion  int            `json:"target_package_version,omitempty" cbor:"target_package_version,omitempty"`
	ErrorCode             string         `json:"error_code,omitempty" cbor:"error_code,omitempty"`
	ErrorMessage          string         `json:"error_message,omitempty" cbor:"error_message,omitempty"`
	TimeTakenMs           int64          `json:"time_taken_ms,omitempty" cbor:"time_taken_ms,omitempty"`
	Timestamp             int64          `json:"timestamp" cbor:"timestamp"`
}

// GenerateEventID returns "evt-" followed by a lowercase ULID.
func GenerateEventID() (string, error) {
	return generateID(EventIDPrefix)
}

// DedupKey returns the idempotency key of the event.
func (e *Event) DedupKey() string {
	attempt := e.AppUpdateID
	if attempt == "" {
		attempt = e.EventID
	}
	return attempt + "/" + string(e.Type) + "/" + e.Key
}

// Time returns the event timestamp.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Validate checks the fields the aggregator depends on.
func (e *Event) Validate() error {
	var violations []string
	if e.AppUpdateID == "" && e.EventID == "" {
		violations = append(violations, "app_update_id or event_id is required")
	}
	if e.DeviceID == "" {
		violations = append(violations, "device_id is required")
	}
	if !e.Type.Valid() {
		violations = append(violations, fmt.Sprintf("unknown event_type %q", e.Type))
	}
	if e.Timestamp <= 0 {
		violations = append(violations, "timestamp is required")
	}
	if len(violations) > 0 {
		return ErrEventValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}
