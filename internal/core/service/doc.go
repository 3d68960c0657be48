// Package service implements the OTAMesh control plane on top of the domain
// model.
//
// Services define the repository interfaces they need; the storage package
// provides the implementations. This package contains:
//
//   - DimensionService: ordered dimension registry and cohort definitions
//   - FileService, PackageService: versioned files and package groups
//   - ReleaseService: release creation and the rollout lifecycle
//   - ServeService: snapshot refresh and release-config materialisation
//   - AnalyticsService: telemetry ingestion and adoption reports
//
// Every catalog mutation triggers a snapshot refresh through the change
// callback, so devices observe it on their next resolution.
package service
