// Package realtime owns the live session with the meeting backend.
//
// Ownership boundary:
// - session negotiation and release
// - the single persistent channel per session and its reconnect policy
// - inbound frame classification and subscriber fan-out
// - redundant outbound delivery (channel + request endpoint)
// - fallback content activation when the backend is unreachable
//
// Lifecycle order:
// - negotiate -> open -> connected -> (loss -> connecting ... -> connected | error)
//
// - explicit Close from any state -> disconnected
//
// Every state transition, inbound frame, and fallback delivery is processed
// under one event lock, so subscribers see events in channel order and never
// concurrently. Subscribers and state observers must not call Close, Reconnect
// or Connect synchronously; Send is safe.
package realtime
