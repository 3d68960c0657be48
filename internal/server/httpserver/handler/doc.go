// Package handler implements the OTAMesh HTTP API.
//
// Device endpoints (/v1) serve release configs and accept telemetry.
// Management endpoints (/admin/v1) edit the catalog. Every JSON response
// except the device release config uses the Response envelope; errors also
// carry the code in the X-Error-Code header.
package handler
