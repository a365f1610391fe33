// Package transport abstracts the persistent channel so the supervisor can be
// driven by a real websocket or by an in-memory fake.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrConnClosed = errors.New("transport: connection closed")
	ErrDial       = errors.New("transport: dial failed")
)

// Conn is one open channel. ReadFrame blocks until a whole frame arrives or the
// channel ends. WriteFrame and Close are safe to call concurrently with ReadFrame.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(ctx context.Context, frame []byte) error
	Close() error
	// Open reports whether the channel is still usable for writes.
	Open() bool
}

// Dialer opens a channel. A nil error means the handshake completed.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// DialerFunc adapts a function into a Dialer.
type DialerFunc func(ctx context.Context, target string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, target string) (Conn, error) {
	return f(ctx, target)
}

// SessionURL builds {wsBase}/ws/meetings/{sessionID}?token={token}.
func SessionURL(wsBase, sessionID, token string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(wsBase), "/")
	if base == "" {
		return "", fmt.Errorf("transport: empty ws base")
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("transport: empty session id")
	}
	u, err := url.Parse(base + "/ws/meetings/" + url.PathEscape(sessionID))
	if err != nil {
		return "", fmt.Errorf("transport: parse session url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Redact hides the token query value for logs.
func Redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "redacted")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
