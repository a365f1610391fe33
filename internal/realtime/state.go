package realtime

import (
	"time"

	"github.com/danmuck/meetlink/internal/meeting"
)

// ConnectionState is the supervisor's single current state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is the server-issued handle for one meeting registration.
type Session struct {
	ID        string
	Platform  meeting.Platform
	MeetingID string
	UserID    string
	CreatedAt time.Time
}

// StateObserver receives every state change with the error that caused it, if any.
type StateObserver func(state ConnectionState, err error)
