// Package agent runs the update state machine on a device.
//
// An Agent owns the device identity, the badger-backed session store, the
// workspace and the event buffer. It checks for updates on an interval,
// confirms boot once the new package index is readable and flushes
// telemetry to the server.
package agent
