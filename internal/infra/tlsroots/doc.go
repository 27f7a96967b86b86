// Package tlsroots builds the TLS configuration for the quic transport:
// a trust pool from CA files and a server/client key pair that is reloaded
// when the files on disk change.
//
// With no files configured the quic transport falls back to an ephemeral
// self-signed certificate and unauthenticated dialing.
package tlsroots
