// Package storage persists OTAMesh state in an ordered key-value engine.
//
// Two engines implement KVEngine:
//
//   - BadgerEngine: durable LSM store used by the server and the agent
//   - MemoryEngine: volatile store for tests and throwaway deployments
//
// On top of the engine sit three stores:
//
//   - CatalogStore: dimensions, releases, files, package groups, packages
//   - AnalyticsStore: deduplicated telemetry counters bucketed by time
//   - SessionStore: the single update session record of a device
//
// Records are CBOR encoded. Multi-key changes go through KVEngine.Update so
// that they commit or fail as a unit.
package storage
