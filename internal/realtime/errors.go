package realtime

import (
	"errors"
	"fmt"
)

var (
	ErrNegotiation      = errors.New("realtime: session negotiation failed")
	ErrTransport        = errors.New("realtime: transport failure")
	ErrRetriesExhausted = errors.New("realtime: reconnect attempts exhausted")
	ErrParse            = errors.New("realtime: malformed inbound frame")
	ErrDelivery         = errors.New("realtime: outbound delivery failed")
	ErrClosed           = errors.New("realtime: client closed")
	ErrNoSession        = errors.New("realtime: no active session")
	ErrSuperseded       = errors.New("realtime: superseded by a newer attempt")
)

// NegotiationError reports a failed session request.
type NegotiationError struct {
	Platform  string
	MeetingID string
	Err       error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("realtime: negotiate platform=%s meeting=%s: %v", e.Platform, e.MeetingID, e.Err)
}

func (e *NegotiationError) Unwrap() []error {
	return []error{ErrNegotiation, e.Err}
}

// TransportError reports a channel that failed to open or was lost.
type TransportError struct {
	SessionID string
	Attempts  int
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("realtime: transport session=%s attempts=%d: %v", e.SessionID, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}
