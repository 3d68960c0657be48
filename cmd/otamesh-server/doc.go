// Package main provides the entry point for otamesh-server.
//
// The server hosts the release catalog and serves:
//
//   - Device API: release configuration lookup and telemetry ingestion
//   - Admin API for dimensions, files, packages, releases and analytics
//   - Health, readiness and Prometheus metrics endpoints
//
// Usage:
//
//	otamesh-server [flags]
//	otamesh-server --config /path/to/config.yaml
//
// Settings come from flags, OTAMESH_* environment variables and the YAML
// file, in that order of precedence. Editing log.level in the file takes
// effect without a restart.
package main
