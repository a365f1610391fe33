package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"

	"github.com/danmuck/meetlink/internal/observability"
)

// MaxFrameBytes bounds a single inbound frame.
const MaxFrameBytes = 1 << 20

// WebsocketDialer opens text-frame websocket channels.
type WebsocketDialer struct {
	// Origin defaults to the http(s) form of the target host.
	Origin       string
	Header       http.Header
	WriteTimeout time.Duration
	// TLSConfig applies to wss targets; nil uses the system roots.
	TLSConfig *tls.Config
}

func (d WebsocketDialer) Dial(ctx context.Context, target string) (Conn, error) {
	origin := d.Origin
	if origin == "" {
		o, err := originFor(target)
		if err != nil {
			return nil, err
		}
		origin = o
	}
	cfg, err := websocket.NewConfig(target, origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDial, err)
	}
	if len(d.Header) > 0 {
		cfg.Header = d.Header.Clone()
	}
	if d.TLSConfig != nil {
		cfg.TlsConfig = d.TLSConfig.Clone()
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDial, err)
	}
	ws.MaxPayloadBytes = MaxFrameBytes
	return &wsConn{ws: ws, writeTimeout: d.WriteTimeout}, nil
}

func originFor(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDial, err)
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closed       atomic.Bool
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		var frame string
		err := websocket.Message.Receive(c.ws, &frame)
		if err == nil {
			return []byte(frame), nil
		}
		// The codec drains the oversized payload on the next Receive.
		if errors.Is(err, websocket.ErrFrameTooLarge) {
			observability.RecordInboundFrame("oversized", "malformed")
			log.Warn().Int("limit", MaxFrameBytes).Msg("transport.wsConn.ReadFrame dropped oversized frame")
			continue
		}
		c.closed.Store(true)
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, ErrConnClosed
		}
		return nil, err
	}
}

func (c *wsConn) WriteFrame(ctx context.Context, frame []byte) error {
	if !c.Open() {
		return ErrConnClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if c.writeTimeout > 0 {
		if d := time.Now().Add(c.writeTimeout); deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return websocket.Message.Send(c.ws, string(frame))
}

func (c *wsConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.ws.Close()
}

func (c *wsConn) Open() bool {
	return !c.closed.Load()
}
