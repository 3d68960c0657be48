// Package httpserver provides the HTTP/HTTPS server for otamesh.
//
// Routes:
//
//   - Device API: /v1/release-config, /v1/events (rate limited per IP)
//   - Admin API: /admin/v1/*
//   - Health endpoints: /health, /ready, /metrics
//
// Every request passes RequestID, Recover, Audit and Metrics middleware.
package httpserver
