package domain

import (
	"maps"
	"slices"
)

// UpdateState is the position of a device in the update state machine.
type UpdateState string

const (
	StateIdle                     UpdateState = "idle"
	StateCheckFetching            UpdateState = "check_fetching"
	StateConfigCompared           UpdateState = "config_compared"
	StateNoUpdate                 UpdateState = "no_update"
	StateUpdateAvailable          UpdateState = "update_available"
	StateDownloading              UpdateState = "downloading"
	StateVerifying                UpdateState = "verifying"
	StateApplying                 UpdateState = "applying"
	StateAwaitingBootConfirmation UpdateState = "awaiting_boot_confirmation"
	StateBootConfirmed            UpdateState = "boot_confirmed"
	StateBootFailed               UpdateState = "boot_failed"
	StateRollingBack              UpdateState = "rolling_back"
	StateRolledBack               UpdateState = "rolled_back"
	StateRollbackFailed           UpdateState = "rollback_failed"
)

// Cancellable reports whether an attempt in this state may still be
// cancelled without touching persisted state.
func (s UpdateState) Cancellable() bool {
	switch s {
	case StateCheckFetching, StateConfigCompared, StateUpdateAvailable,
		StateDownloading, StateVerifying:
		return true
	}
	return false
}

// ResourceStatus tracks a deferred file on the device.
type ResourceStatus string

const (
	ResourceDownloaded ResourceStatus = "downloaded"
	ResourcePending    ResourceStatus = "pending"
)

// ResourceVersion records the deferred file a device holds for a path.
type ResourceVersion struct {
	Checksum string         `json:"checksum,omitempty" cbor:"checksum,omitempty"`
	URL      string         `json:"url" cbor:"url"`
	Status   ResourceStatus `json:"status" cbor:"status"`
	Attempts int            `json:"attempts,omitempty" cbor:"attempts,omitempty"`
}

// UpdateSession is the persisted update record of one device. It is written
// only by the update state machine and always as a whole record.
type UpdateSession struct {
	DeviceID                    string                     `json:"device_id" cbor:"device_id"`
	DimensionContext            map[string]string          `json:"dimension_context,omitempty" cbor:"dimension_context,omitempty"`
	ActiveConfigVersion         string                     `json:"active_config_version" cbor:"active_config_version"`
	ActivePackageVersion        int                        `json:"active_package_version" cbor:"active_package_version"`
	LastKnownGoodConfigVersion  string                     `json:"last_known_good_config_version" cbor:"last_known_good_config_version"`
	LastKnownGoodPackageVersion int                        `json:"last_known_good_package_version" cbor:"last_known_good_package_version"`
	ActiveReleaseConfig         *ReleaseConfig             `json:"active_release_config,omitempty" cbor:"active_release_config,omitempty"`
	LastKnownGoodReleaseConfig  *ReleaseConfig             `json:"last_known_good_release_config,omitempty" cbor:"last_known_good_release_config,omitempty"`
	ResourceVersions            map[string]ResourceVersion `json:"resource_versions,omitempty" cbor:"resource_versions,omitempty"`
	RolledBackVersions          []int                      `json:"rolled_back_versions,omitempty" cbor:"rolled_back_versions,omitempty"`
	State                       UpdateState                `json:"state" cbor:"state"`
	AttemptID                   string                     `json:"attempt_id,omitempty" cbor:"attempt_id,omitempty"`
	AttemptStartedAt            int64                      `json:"attempt_started_at,omitempty" cbor:"attempt_started_at,omitempty"`
	BootDeadline                int64                      `json:"boot_deadline,omitempty" cbor:"boot_deadline,omitempty"`
	Revision                    uint64                     `json:"revision" cbor:"revision"`
}

// NewUpdateSession returns the first-boot session of a device.
func NewUpdateSession(deviceID string) *UpdateSession {
	return &UpdateSession{
		DeviceID:         deviceID,
		DimensionContext: make(map[string]string),
		ResourceVersions: make(map[string]ResourceVersion),
		State:            StateIdle,
	}
}

// Clone returns a deep copy. The release configs are treated as immutable
// and shared.
func (s *UpdateSession) Clone() *UpdateSession {
	c := *s
	c.DimensionContext = maps.Clone(s.DimensionContext)
	c.ResourceVersions = maps.Clone(s.ResourceVersions)
	c.RolledBackVersions = slices.Clone(s.RolledBackVersions)
	return &c
}

// IsRolledBack reports whether the package version was rolled back on this
// device before.
func (s *UpdateSession) IsRolledBack(packageVersion int) bool {
	return slices.Contains(s.RolledBackVersions, packageVersion)
}

// Healthy reports whether the active version is the last-known-good one.
func (s *UpdateSession) Healthy() bool {
	return s.ActiveConfigVersion == s.LastKnownGoodConfigVersion &&
		s.ActivePackageVersion == s.LastKnownGoodPackageVersion
}
