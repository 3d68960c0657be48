// Package domain defines the core domain models for OTAMesh.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling. This package contains:
//
//   - Dimension: targeting attribute with a global priority
//   - Cohort: derived dimension values and the pluggable matcher
//   - Release: package binding, dimension filter and rollout lifecycle
//   - File, Package: versioned artifacts with integrity data
//   - ReleaseConfig: the manifest served to devices
//   - Event: client telemetry vocabulary
//   - Errors: domain error codes
package domain
