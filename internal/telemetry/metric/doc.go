// Package metric exposes OTAMesh metrics in Prometheus format.
//
// A Registry owns its own prometheus.Registry so tests and multiple servers
// in one process do not collide. The server publishes it at /metrics.
package metric
