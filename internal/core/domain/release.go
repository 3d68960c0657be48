package domain

import (
	"crypto/rand"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Release constraints and client defaults.
const (
	ReleaseIDPrefix = "rel-"

	MaxFilterEntries   = 32
	MaxReleaseResource = 256

	// DefaultReleaseConfigTimeout bounds a device's config fetch (ms).
	DefaultReleaseConfigTimeout int64 = 3000
	// DefaultBootTimeout bounds a device's boot confirmation (ms).
	DefaultBootTimeout int64 = 7000
)

// ReleaseStatus is the lifecycle position of a release.
//
//	created -> active <-> paused
//	active|paused -> completed      (terminal, frozen at 100%)
//	created|active|paused -> rolled_back (terminal)
type ReleaseStatus string

const (
	ReleaseCreated    ReleaseStatus = "created"
	ReleaseActive     ReleaseStatus = "active"
	ReleasePaused     ReleaseStatus = "paused"
	ReleaseCompleted  ReleaseStatus = "completed"
	ReleaseRolledBack ReleaseStatus = "rolled_back"
)

// Valid reports whether s is a known status.
func (s ReleaseStatus) Valid() bool {
	switch s {
	case ReleaseCreated, ReleaseActive, ReleasePaused, ReleaseCompleted, ReleaseRolledBack:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s ReleaseStatus) Terminal() bool {
	return s == ReleaseCompleted || s == ReleaseRolledBack
}

// Servable reports whether releases in this status take part in resolution.
// A completed release stays served at full rollout.
func (s ReleaseStatus) Servable() bool {
	return s == ReleaseActive || s == ReleaseCompleted
}

// Experiment carries the rollout state of a release.
type Experiment struct {
	Status            ReleaseStatus `json:"status" cbor:"status"`
	RolloutPercentage int           `json:"rollout_percentage" cbor:"rollout_percentage"`
}

// ReleaseSettings is the configuration block delivered to devices.
type ReleaseSettings struct {
	Version              string         `json:"version" cbor:"version"`
	ReleaseConfigTimeout int64          `json:"release_config_timeout" cbor:"release_config_timeout"`
	BootTimeout          int64          `json:"boot_timeout" cbor:"boot_timeout"`
	Properties           map[string]any `json:"properties,omitempty" cbor:"properties,omitempty"`
}

// Release binds a package version to a dimension filter and rollout state.
type Release struct {
	ID              string            `json:"id" cbor:"id"`
	Name            string            `json:"name,omitempty" cbor:"name,omitempty"`
	PackageVersion  int               `json:"package_version" cbor:"package_version"`
	DimensionFilter map[string]string `json:"dimension_filter" cbor:"dimension_filter"`
	Experiment      Experiment        `json:"experiment" cbor:"experiment"`
	Config          ReleaseSettings   `json:"config" cbor:"config"`
	Resources       []string          `json:"resources,omitempty" cbor:"resources,omitempty"`
	CreatedAt       int64             `json:"created_at" cbor:"created_at"`
	UpdatedAt       int64             `json:"updated_at" cbor:"updated_at"`
}

// NewRelease creates a release in the created status with a generated ID.
func NewRelease(packageVersion int, filter map[string]string) (*Release, error) {
	id, err := GenerateReleaseID()
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = make(map[string]string)
	}

	now := time.Now().UnixMilli()
	return &Release{
		ID:              id,
		PackageVersion:  packageVersion,
		DimensionFilter: filter,
		Experiment:      Experiment{Status: ReleaseCreated},
		Config: ReleaseSettings{
			Version:              id,
			ReleaseConfigTimeout: DefaultReleaseConfigTimeout,
			BootTimeout:          DefaultBootTimeout,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GenerateReleaseID returns "rel-" followed by a lowercase ULID.
func GenerateReleaseID() (string, error) {
	return generateID(ReleaseIDPrefix)
}

func generateID(prefix string) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternalServer.WithCause(err)
	}
	return prefix + strings.ToLower(id.String()), nil
}

// Status returns the lifecycle status.
func (r *Release) Status() ReleaseStatus {
	return r.Experiment.Status
}

// Clone returns a deep copy of the release.
func (r *Release) Clone() *Release {
	c := *r
	c.DimensionFilter = maps.Clone(r.DimensionFilter)
	c.Config.Properties = maps.Clone(r.Config.Properties)
	c.Resources = slices.Clone(r.Resources)
	return &c
}

// Validate checks the release fields. Filter keys are checked against the
// dimension registry by the catalog.
func (r *Release) Validate() error {
	var violations []string

	if r.ID == "" {
		violations = append(violations, "id is required")
	}
	if r.PackageVersion <= 0 {
		violations = append(violations, "package_version must be positive")
	}
	if !r.Experiment.Status.Valid() {
		violations = append(violations, fmt.Sprintf("unknown status %q", r.Experiment.Status))
	}
	if p := r.Experiment.RolloutPercentage; p < 0 || p > 100 {
		violations = append(violations, "rollout_percentage must be within 0..100")
	}
	if r.Config.ReleaseConfigTimeout <= 0 {
		violations = append(violations, "release_config_timeout must be positive")
	}
	if r.Config.BootTimeout <= 0 {
		violations = append(violations, "boot_timeout must be positive")
	}
	if len(r.DimensionFilter) > MaxFilterEntries {
		violations = append(violations, fmt.Sprintf("dimension_filter exceeds %d entries", MaxFilterEntries))
	}
	for k, v := range r.DimensionFilter {
		if k == "" || v == "" {
			violations = append(violations, "dimension_filter keys and values must be non-empty")
			break
		}
	}
	if len(r.Resources) > MaxReleaseResource {
		violations = append(violations, fmt.Sprintf("resources exceed %d entries", MaxReleaseResource))
	}

	if len(violations) > 0 {
		return ErrReleaseValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// Publish moves a created release to active.
func (r *Release) Publish() error {
	return r.transition(ReleaseActive, ReleaseCreated)
}

// Pause stops serving an active release.
func (r *Release) Pause() error {
	return r.transition(ReleasePaused, ReleaseActive)
}

// Resume serves a paused release again.
func (r *Release) Resume() error {
	return r.transition(ReleaseActive, ReleasePaused)
}

// Ramp changes the rollout percentage of a non-terminal release.
func (r *Release) Ramp(percentage int) error {
	if percentage < 0 || percentage > 100 {
		return ErrReleaseValidation.WithDetails("rollout_percentage must be within 0..100")
	}
	if r.Status().Terminal() {
		return ErrReleaseTransition.WithDetailsf("cannot ramp a %s release", r.Status())
	}
	r.Experiment.RolloutPercentage = percentage
	r.touch()
	return nil
}

// Conclude finishes the rollout at 100%.
func (r *Release) Conclude() error {
	if err := r.transition(ReleaseCompleted, ReleaseActive, ReleasePaused); err != nil {
		return err
	}
	r.Experiment.RolloutPercentage = 100
	return nil
}

// Rollback withdraws the release; traffic falls back to the next-best release.
func (r *Release) Rollback() error {
	return r.transition(ReleaseRolledBack, ReleaseCreated, ReleaseActive, ReleasePaused)
}

func (r *Release) transition(to ReleaseStatus, from ...ReleaseStatus) error {
	if !slices.Contains(from, r.Status()) {
		return ErrReleaseTransition.WithDetailsf("%s -> %s", r.Status(), to)
	}
	r.Experiment.Status = to
	r.touch()
	return nil
}

func (r *Release) touch() {
	now := time.Now().UnixMilli()
	if now <= r.UpdatedAt {
		now = r.UpdatedAt + 1
	}
	r.UpdatedAt = now
}
