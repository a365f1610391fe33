package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/danmuck/meetlink/internal/testutil/testlog"
	"github.com/danmuck/meetlink/internal/testutil/tlstest"
)

func TestSessionURL(t *testing.T) {
	testlog.Start(t)
	got, err := SessionURL("ws://localhost:8000/", "sess-1", "tok en")
	if err != nil {
		t.Fatalf("session url: %v", err)
	}
	if got != "ws://localhost:8000/ws/meetings/sess-1?token=tok+en" {
		t.Fatalf("unexpected url=%q", got)
	}
	if _, err := SessionURL("", "sess-1", "tok"); err == nil {
		t.Fatalf("expected empty base error")
	}
	if _, err := SessionURL("ws://localhost:8000", " ", "tok"); err == nil {
		t.Fatalf("expected empty session error")
	}
	if red := Redact(got); red != "ws://localhost:8000/ws/meetings/sess-1?token=redacted" {
		t.Fatalf("token not redacted: %q", red)
	}
}

func newEchoServer(t *testing.T, seen chan<- string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws/meetings/", websocket.Handler(func(conn *websocket.Conn) {
		seen <- conn.Request().URL.String()
		for {
			var msg string
			if err := websocket.Message.Receive(conn, &msg); err != nil {
				return
			}
			if msg == "bye" {
				return
			}
			if err := websocket.Message.Send(conn, "echo:"+msg); err != nil {
				return
			}
		}
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWebsocketDialerRoundTrip(t *testing.T) {
	testlog.Start(t)
	seen := make(chan string, 1)
	srv := newEchoServer(t, seen)
	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")

	target, err := SessionURL(wsBase, "sess-9", "tok-9")
	if err != nil {
		t.Fatalf("session url: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := WebsocketDialer{WriteTimeout: time.Second}.Dial(ctx, target)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case path := <-seen:
		if path != "/ws/meetings/sess-9?token=tok-9" {
			t.Fatalf("unexpected server path=%q", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never saw the connection")
	}

	if err := conn.WriteFrame(ctx, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	frame, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(frame) != `echo:{"type":"ping"}` {
		t.Fatalf("unexpected frame=%q", frame)
	}

	if err := conn.WriteFrame(ctx, []byte("bye")); err != nil {
		t.Fatalf("write bye: %v", err)
	}
	if _, err := conn.ReadFrame(); err == nil {
		t.Fatalf("expected read error after peer close")
	}
	if conn.Open() {
		t.Fatalf("conn should report closed after peer close")
	}
	if err := conn.WriteFrame(ctx, []byte("late")); err != ErrConnClosed {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
}

func TestWebsocketOversizedFrameKeepsChannel(t *testing.T) {
	testlog.Start(t)
	mux := http.NewServeMux()
	mux.Handle("/ws/meetings/", websocket.Handler(func(conn *websocket.Conn) {
		_ = websocket.Message.Send(conn, strings.Repeat("x", MaxFrameBytes+10))
		_ = websocket.Message.Send(conn, `{"type":"questions_update","payload":[]}`)
		var msg string
		_ = websocket.Message.Receive(conn, &msg)
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	target := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/meetings/sess-big?token=t"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := WebsocketDialer{}.Dial(ctx, target)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frame, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("read after oversized frame: %v", err)
	}
	if string(frame) != `{"type":"questions_update","payload":[]}` {
		t.Fatalf("unexpected frame=%q", frame)
	}
	if !conn.Open() {
		t.Fatalf("oversized frame closed the channel")
	}
}

func TestWebsocketDialerFailure(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	target := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/meetings/missing?token=x"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := (WebsocketDialer{}).Dial(ctx, target); err == nil {
		t.Fatalf("expected dial failure against non-websocket endpoint")
	}
}

func TestWebsocketDialerPrivateCA(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir)

	mux := http.NewServeMux()
	mux.Handle("/ws/meetings/", websocket.Handler(func(conn *websocket.Conn) {
		_ = websocket.Message.Send(conn, `{"type":"meeting_stage_change","payload":{"stage":"end"}}`)
	}))
	srv := httptest.NewUnstartedServer(mux)
	srv.TLS = ca.ServerConfig(t)
	srv.StartTLS()
	t.Cleanup(srv.Close)
	target := "wss" + strings.TrimPrefix(srv.URL, "https") + "/ws/meetings/sess-tls?token=t"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := (WebsocketDialer{}).Dial(ctx, target); err == nil {
		t.Fatalf("expected untrusted certificate to fail")
	}

	tlsCfg, err := ClientTLS(ca.CAFile())
	if err != nil {
		t.Fatalf("client tls: %v", err)
	}
	conn, err := WebsocketDialer{TLSConfig: tlsCfg}.Dial(ctx, target)
	if err != nil {
		t.Fatalf("dial with private ca: %v", err)
	}
	defer conn.Close()
	frame, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !strings.Contains(string(frame), `"stage":"end"`) {
		t.Fatalf("unexpected frame=%q", frame)
	}

	resp, err := HTTPClient(tlsCfg).Get(srv.URL + "/ws/meetings/plain")
	if err != nil {
		t.Fatalf("https with private ca: %v", err)
	}
	_ = resp.Body.Close()
}

func TestClientTLS(t *testing.T) {
	testlog.Start(t)
	if cfg, err := ClientTLS(""); cfg != nil || err != nil {
		t.Fatalf("expected nil config for empty path got=%v err=%v", cfg, err)
	}
	if _, err := ClientTLS(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatalf("expected missing file error")
	}
	bogus := filepath.Join(t.TempDir(), "bogus.pem")
	if err := os.WriteFile(bogus, []byte("not a cert"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ClientTLS(bogus); err == nil {
		t.Fatalf("expected empty bundle error")
	}
	if HTTPClient(nil) == nil {
		t.Fatalf("expected default client")
	}
}
