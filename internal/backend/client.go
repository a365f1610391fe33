// Package backend is the request/response side of the meeting backend:
// session create/delete and the reliable event endpoint.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/danmuck/meetlink/internal/auth"
	"github.com/danmuck/meetlink/internal/observability"
	"github.com/danmuck/meetlink/internal/protocol/session"
)

const (
	SessionsPath = "/api/meetings/sessions"
	EventsPath   = "/api/meetings/events"
)

var (
	ErrBaseURLRequired = errors.New("backend: base url required")
	ErrTokenRequired   = errors.New("backend: token source required")
	ErrUnexpectedCode  = errors.New("backend: unexpected status")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("backend: %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedCode
}

type Config struct {
	BaseURL    string
	Tokens     auth.TokenSource
	HTTPClient *http.Client
	Timeout    time.Duration
}

type Client struct {
	base    *url.URL
	tokens  auth.TokenSource
	http    *http.Client
	timeout time.Duration
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, ErrBaseURLRequired
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if cfg.Tokens == nil {
		return nil, ErrTokenRequired
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = session.DefaultConfig().RequestTimeout
	}
	return &Client{
		base:    base,
		tokens:  cfg.Tokens,
		http:    httpClient,
		timeout: timeout,
	}, nil
}

// CreateSession registers a meeting and returns the server-issued session.
func (c *Client) CreateSession(ctx context.Context, reg session.Registration) (session.RegistrationAck, error) {
	if err := reg.Validate(); err != nil {
		return session.RegistrationAck{}, err
	}
	var body bytes.Buffer
	if err := session.WriteRegistration(&body, reg); err != nil {
		return session.RegistrationAck{}, err
	}

	var ack session.RegistrationAck
	err := c.do(ctx, "create_session", http.MethodPost, SessionsPath, &body, func(resp *http.Response) error {
		got, err := session.ReadRegistrationAck(resp.Body)
		if err != nil {
			return err
		}
		ack = got
		return nil
	}, attribute.String("meeting.platform", reg.Platform), attribute.String("meeting.id", reg.MeetingID))
	if err != nil {
		return session.RegistrationAck{}, err
	}
	return ack, nil
}

// DeleteSession notifies the backend that a session is finished.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("backend: delete session: empty session id")
	}
	path := SessionsPath + "/" + url.PathEscape(sessionID)
	return c.do(ctx, "delete_session", http.MethodDelete, path, nil, nil, attribute.String("session.id", sessionID))
}

// PostEvent delivers one meeting event over the reliable request channel.
func (c *Client) PostEvent(ctx context.Context, event session.MeetingEvent) error {
	payload, err := session.EncodeMeetingEvent(event)
	if err != nil {
		return err
	}
	return c.do(ctx, "post_event", http.MethodPost, EventsPath, bytes.NewReader(payload), nil,
		attribute.String("session.id", event.SessionID),
		attribute.String("event.type", event.EventType),
	)
}

func (c *Client) do(
	ctx context.Context,
	op string,
	method string,
	path string,
	body io.Reader,
	decode func(*http.Response) error,
	attrs ...attribute.KeyValue,
) error {
	ctx, span := observability.Tracer().Start(ctx, "backend."+op)
	defer span.End()
	span.SetAttributes(attrs...)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.tokens.Token()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token")
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.RecordAPIRequest(op, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return err
	}
	defer resp.Body.Close()
	observability.RecordAPIRequest(op, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		span.RecordError(err)
		span.SetStatus(codes.Error, "status")
		return err
	}
	if decode == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := decode(resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode")
		return err
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.base.String(), "/") + path
}

// DecodeEvent reads a meeting event body; used by backends and tests.
func DecodeEvent(r io.Reader) (session.MeetingEvent, error) {
	var event session.MeetingEvent
	if err := json.NewDecoder(r).Decode(&event); err != nil {
		return session.MeetingEvent{}, err
	}
	return event, event.Validate()
}
