// Package tlsroots loads TLS trust anchors and serving certificates.
//
// Pool builds the root set an agent uses to verify the update server when
// it is signed by a private CA. KeyPair serves the server certificate and
// swaps it in place when the files on disk are replaced.
package tlsroots
