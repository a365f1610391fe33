// Package session owns the meeting backend wire contract.
//
// Ownership boundary:
// - session registration request/response bodies
// - inbound frame envelope and frame types
// - outbound meeting_event envelope
// - retry/backoff/outbox primitives
// - endpoint security checks
//
// Nothing in this package performs I/O beyond encoding to and decoding from
// readers and writers handed to it.
package session
