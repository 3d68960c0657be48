// Package connection provides the HTTP client otamesh-cli uses to reach the
// admin API.
//
// Every admin response is wrapped in the server's envelope. The client
// unwraps the data field on success and turns error envelopes into
// *APIError, keeping the error code and request ID for support.
package connection
