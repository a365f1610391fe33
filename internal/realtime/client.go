package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/meetlink/internal/auth"
	"github.com/danmuck/meetlink/internal/fallback"
	"github.com/danmuck/meetlink/internal/meeting"
	"github.com/danmuck/meetlink/internal/observability"
	"github.com/danmuck/meetlink/internal/protocol/session"
	"github.com/danmuck/meetlink/internal/transport"
)

const (
	fallbackCauseNegotiation = "negotiation"
	fallbackCauseTransport   = "transport"
	fallbackCauseExhausted   = "retries_exhausted"
)

// Backend is the request/response API a client needs.
type Backend interface {
	SessionAPI
	EventPoster
}

type ClientConfig struct {
	Meeting   meeting.Context
	WSBaseURL string
	UserID    string
	Tokens    auth.TokenSource
	Session   session.Config
	Scheduler Scheduler
	// Fallback serves offline content when the backend is unreachable. Nil disables it.
	Fallback *fallback.Provider
}

// Client binds one meeting context to one backend session and owns every
// component that serves it.
type Client struct {
	mc       meeting.Context
	fallback *fallback.Provider

	negotiator *Negotiator
	supervisor *Supervisor
	dispatcher *Dispatcher
	gateway    *Gateway
	unwatch    func()

	mu             sync.Mutex
	negGen         uint64
	closed         bool
	fallbackActive bool
	lastErr        error
}

func NewClient(cfg ClientConfig, api Backend, dialer transport.Dialer) (*Client, error) {
	if err := cfg.Meeting.Validate(); err != nil {
		return nil, err
	}
	if api == nil {
		return nil, errors.New("realtime: backend required")
	}
	cfg.Session = cfg.Session.WithDefaults()

	c := &Client{
		mc:         cfg.Meeting,
		fallback:   cfg.Fallback,
		negotiator: NewNegotiator(api, cfg.UserID),
		dispatcher: NewDispatcher(),
	}
	sup, err := NewSupervisor(SupervisorConfig{
		WSBaseURL: cfg.WSBaseURL,
		Tokens:    cfg.Tokens,
		Session:   cfg.Session,
		Scheduler: cfg.Scheduler,
		Platform:  string(cfg.Meeting.Platform),
	}, dialer, func(raw []byte) { _ = c.dispatcher.Dispatch(raw) })
	if err != nil {
		return nil, err
	}
	c.supervisor = sup
	c.gateway = NewGateway(GatewayConfig{
		QueueSize:      cfg.Session.OutboundQueueSize,
		WriteTimeout:   cfg.Session.WriteTimeout,
		RequestTimeout: cfg.Session.RequestTimeout,
	}, api, sup.Session, sup.LiveConn)
	c.unwatch = sup.WatchState(c.observe)
	return c, nil
}

func (c *Client) Meeting() meeting.Context {
	return c.mc
}

// Connect negotiates a session and opens its channel. On failure the fallback
// content is delivered, when enabled, and the error is still returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.negGen++
	gen := c.negGen
	c.mu.Unlock()

	sess, err := c.negotiator.Negotiate(ctx, c.mc)
	c.mu.Lock()
	stale := c.closed || gen != c.negGen
	c.mu.Unlock()
	if stale {
		if err == nil {
			c.negotiator.Release(context.WithoutCancel(ctx), sess)
		}
		return ErrSuperseded
	}
	if err != nil {
		c.fail(err, fallbackCauseNegotiation)
		return err
	}
	return c.open(ctx, sess)
}

func (c *Client) open(ctx context.Context, sess Session) error {
	err := c.supervisor.Open(ctx, sess)
	switch {
	case err == nil:
		c.clearFallback()
		return nil
	case errors.Is(err, ErrClosed):
		c.negotiator.Release(context.WithoutCancel(ctx), sess)
		return err
	case errors.Is(err, ErrSuperseded):
		return err
	default:
		c.fail(err, fallbackCauseTransport)
		return err
	}
}

// Reconnect resets backoff and reopens the channel. The held session is reused
// while it is fresh; otherwise it is released and a new one negotiated.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if c.supervisor.SessionReusable() {
		err := c.supervisor.Reopen(ctx)
		switch {
		case err == nil:
			c.clearFallback()
		case errors.Is(err, ErrClosed), errors.Is(err, ErrSuperseded):
		default:
			c.fail(err, fallbackCauseTransport)
		}
		return err
	}
	if old, ok := c.supervisor.Close(); ok {
		log.Info().Str("session_id", old.ID).Msg("realtime.Client.Reconnect session stale, renegotiating")
		c.negotiator.Release(ctx, old)
	}
	return c.Connect(ctx)
}

// Close cancels pending retries, closes the channel, drains queued events and
// releases the session. No handler fires after Close returns.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.negGen++
	c.mu.Unlock()

	c.unwatch()
	sess, held := c.supervisor.Shutdown()
	err := c.gateway.Flush(ctx)
	if err != nil {
		for _, ev := range c.gateway.Pending() {
			log.Warn().
				Str("event_id", ev.EventID).
				Str("event_type", ev.EventType).
				Strs("awaiting", ev.Awaiting).
				Msg("realtime.Client.Close event still in flight")
		}
	}
	c.gateway.Close()
	if held {
		c.negotiator.Release(ctx, sess)
	}
	log.Debug().Str("meeting_id", c.mc.ID).Msg("realtime.Client.Close done")
	return err
}

// Subscribe registers content handlers. See Dispatcher.Subscribe.
func (c *Client) Subscribe(h Handlers) (cancel func()) {
	return c.dispatcher.Subscribe(h)
}

func (c *Client) WatchState(fn StateObserver) (cancel func()) {
	return c.supervisor.WatchState(fn)
}

// State is the supervisor's raw connection state.
func (c *Client) State() ConnectionState {
	return c.supervisor.State()
}

// Status is the state shown to users: fallback mode reads as disconnected.
func (c *Client) Status() ConnectionState {
	if c.FallbackActive() {
		return StateDisconnected
	}
	return c.supervisor.State()
}

func (c *Client) FallbackActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallbackActive
}

func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) Session() (Session, bool) {
	return c.supervisor.Session()
}

func (c *Client) Send(eventType string, data any) error {
	return c.gateway.Send(eventType, data)
}

func (c *Client) SendUserInteraction(in Interaction) error {
	return c.gateway.SendUserInteraction(in)
}

func (c *Client) UpdateParticipants(participants []string) error {
	return c.gateway.UpdateParticipants(participants)
}

func (c *Client) SendTranscriptUpdate(transcript string) error {
	return c.gateway.SendTranscriptUpdate(transcript)
}

func (c *Client) Pending() []session.PendingEvent {
	return c.gateway.Pending()
}

// observe runs on the supervisor event lock.
func (c *Client) observe(state ConnectionState, err error) {
	switch {
	case state == StateConnected:
		c.clearFallback()
	case state == StateError && errors.Is(err, ErrRetriesExhausted):
		c.setErr(err)
		c.activateFallbackLocked(fallbackCauseExhausted)
	}
}

func (c *Client) fail(err error, cause string) {
	c.setErr(err)
	c.supervisor.Exclusive(func() { c.activateFallbackLocked(cause) })
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Client) clearFallback() {
	c.mu.Lock()
	c.lastErr = nil
	c.fallbackActive = false
	c.mu.Unlock()
}

// activateFallbackLocked must run on the supervisor event lock so fallback
// content is ordered with inbound frames.
func (c *Client) activateFallbackLocked(cause string) {
	if c.fallback == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.fallbackActive = true
	c.mu.Unlock()

	content := c.fallback.Content(c.mc.Kind)
	c.dispatcher.PublishQuestions(content.Questions)
	c.dispatcher.PublishCues(content.Cues)
	c.dispatcher.PublishAISuggestions(content.Suggestions)
	c.dispatcher.PublishStage(content.Stage)
	observability.RecordFallbackActivation(string(c.mc.Kind), cause)
	log.Info().
		Str("meeting_id", c.mc.ID).
		Str("kind", string(c.mc.Kind)).
		Str("cause", cause).
		Int("questions", len(content.Questions)).
		Int("cues", len(content.Cues)).
		Msg("realtime.Client fallback activated")
}
