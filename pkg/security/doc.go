// Package security holds the request hardening used by the HTTP API and
// the remote capability transport: per-client rate limiting, redaction of
// errors returned to clients, outbound endpoint validation and screening
// of user questions for prompt injection.
package security
