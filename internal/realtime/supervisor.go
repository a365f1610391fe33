package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/meetlink/internal/auth"
	"github.com/danmuck/meetlink/internal/observability"
	"github.com/danmuck/meetlink/internal/protocol/session"
	"github.com/danmuck/meetlink/internal/transport"
)

var (
	ErrWSBaseRequired = errors.New("realtime: ws base url required")
	ErrDialerRequired = errors.New("realtime: dialer required")
	ErrTokensRequired = errors.New("realtime: token source required")
)

type SupervisorConfig struct {
	WSBaseURL string
	Tokens    auth.TokenSource
	Session   session.Config
	Scheduler Scheduler
	// Platform labels metrics and logs.
	Platform string
}

type observerEntry struct {
	fn StateObserver
}

// Supervisor owns the one persistent channel for a session and runs the
// reconnect state machine. Nothing else opens or closes the channel.
type Supervisor struct {
	cfg     SupervisorConfig
	dialer  transport.Dialer
	onFrame func([]byte)
	now     func() time.Time

	baseCtx    context.Context
	cancelBase context.CancelFunc

	// loop serializes transitions, frame delivery and observer callbacks.
	loop sync.Mutex

	mu          sync.RWMutex
	state       ConnectionState
	lastErr     error
	sess        *Session
	conn        transport.Conn
	gen         uint64
	attempt     int
	retry       Timer
	lastHealthy time.Time
	shutdown    bool
	observers   []*observerEntry
}

func NewSupervisor(cfg SupervisorConfig, dialer transport.Dialer, onFrame func([]byte)) (*Supervisor, error) {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		return nil, ErrWSBaseRequired
	}
	if dialer == nil {
		return nil, ErrDialerRequired
	}
	if cfg.Tokens == nil {
		return nil, ErrTokensRequired
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = wallScheduler{}
	}
	if onFrame == nil {
		onFrame = func([]byte) {}
	}
	cfg.Session = cfg.Session.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:        cfg,
		dialer:     dialer,
		onFrame:    onFrame,
		now:        time.Now,
		baseCtx:    ctx,
		cancelBase: cancel,
		state:      StateDisconnected,
	}, nil
}

// State returns the current connection state.
func (s *Supervisor) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error attached to the latest transition, if any.
func (s *Supervisor) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Attempt returns the automatic retry counter.
func (s *Supervisor) Attempt() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempt
}

func (s *Supervisor) Session() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sess == nil {
		return Session{}, false
	}
	return *s.sess, true
}

// SessionReusable reports whether the held session was healthy recently
// enough to reopen without renegotiating.
func (s *Supervisor) SessionReusable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sess == nil {
		return false
	}
	if s.state == StateConnected {
		return true
	}
	last := s.lastHealthy
	if last.IsZero() {
		last = s.sess.CreatedAt
	}
	return s.now().Sub(last) <= s.cfg.Session.SessionReuseWindow
}

// LiveConn returns the channel only while connected and open.
func (s *Supervisor) LiveConn() transport.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected || s.conn == nil || !s.conn.Open() {
		return nil
	}
	return s.conn
}

// WatchState registers an observer for state changes.
func (s *Supervisor) WatchState(fn StateObserver) (cancel func()) {
	entry := &observerEntry{fn: fn}
	s.mu.Lock()
	s.observers = append(s.observers, entry)
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, o := range s.observers {
				if o == entry {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Exclusive runs fn on the event lock unless the supervisor is shut down.
func (s *Supervisor) Exclusive(fn func()) bool {
	s.loop.Lock()
	defer s.loop.Unlock()
	if s.isShutdown() {
		return false
	}
	fn()
	return true
}

// Open replaces any current channel with one for sess and waits for the handshake.
func (s *Supervisor) Open(ctx context.Context, sess Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return ErrNoSession
	}
	s.loop.Lock()
	if s.isShutdown() {
		s.loop.Unlock()
		return ErrClosed
	}
	s.mu.Lock()
	held := sess
	s.sess = &held
	s.lastHealthy = time.Time{}
	s.mu.Unlock()
	gen := s.beginLocked()
	s.loop.Unlock()
	return s.dial(ctx, gen, false)
}

// Reopen closes the channel and opens a new one for the held session with the
// backoff state reset.
func (s *Supervisor) Reopen(ctx context.Context) error {
	s.loop.Lock()
	if s.isShutdown() {
		s.loop.Unlock()
		return ErrClosed
	}
	if _, ok := s.Session(); !ok {
		s.loop.Unlock()
		return ErrNoSession
	}
	gen := s.beginLocked()
	s.loop.Unlock()
	return s.dial(ctx, gen, false)
}

// Close tears the channel down, cancels any pending retry and releases the
// session, which is returned for the caller to deregister.
func (s *Supervisor) Close() (Session, bool) {
	s.loop.Lock()
	defer s.loop.Unlock()
	return s.closeLocked()
}

// Shutdown is Close plus a permanent stop: later Open/Reopen calls fail with
// ErrClosed and no observer or frame callback fires once it returns.
func (s *Supervisor) Shutdown() (Session, bool) {
	s.loop.Lock()
	defer s.loop.Unlock()
	released, ok := s.closeLocked()
	s.mu.Lock()
	s.shutdown = true
	s.observers = nil
	s.mu.Unlock()
	s.cancelBase()
	return released, ok
}

func (s *Supervisor) closeLocked() (Session, bool) {
	s.stopRetryLocked()
	s.nextGenLocked()
	s.dropConnLocked()
	s.mu.Lock()
	released := s.sess
	s.sess = nil
	s.attempt = 0
	s.mu.Unlock()
	s.transitionLocked(StateDisconnected, nil)
	if released == nil {
		return Session{}, false
	}
	log.Info().Str("session_id", released.ID).Msg("realtime.Supervisor.Close channel closed")
	return *released, true
}

func (s *Supervisor) beginLocked() uint64 {
	s.stopRetryLocked()
	s.dropConnLocked()
	s.mu.Lock()
	s.attempt = 0
	s.mu.Unlock()
	gen := s.nextGenLocked()
	s.transitionLocked(StateConnecting, nil)
	return gen
}

func (s *Supervisor) dial(ctx context.Context, gen uint64, auto bool) error {
	sess, ok := s.Session()
	if !ok {
		return ErrNoSession
	}
	conn, err := s.connect(ctx, sess.ID)

	s.loop.Lock()
	defer s.loop.Unlock()
	if gen != s.currentGen() {
		if conn != nil {
			_ = conn.Close()
		}
		return ErrSuperseded
	}
	if err != nil {
		terr := &TransportError{SessionID: sess.ID, Attempts: s.Attempt(), Err: err}
		log.Warn().Err(err).Str("session_id", sess.ID).Bool("auto", auto).Msg("realtime.Supervisor.dial failed")
		if auto {
			s.handleLossLocked(terr)
			return terr
		}
		s.nextGenLocked()
		s.transitionLocked(StateError, terr)
		return terr
	}

	s.mu.Lock()
	s.conn = conn
	s.attempt = 0
	s.lastHealthy = s.now()
	s.mu.Unlock()
	s.transitionLocked(StateConnected, nil)
	log.Info().Str("session_id", sess.ID).Msg("realtime.Supervisor.dial connected")
	go s.readLoop(gen, conn)
	return nil
}

func (s *Supervisor) connect(ctx context.Context, sessionID string) (transport.Conn, error) {
	token, err := s.cfg.Tokens.Token()
	if err != nil {
		return nil, err
	}
	target, err := transport.SessionURL(s.cfg.WSBaseURL, sessionID, token)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.Session.HandshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	log.Debug().Str("target", transport.Redact(target)).Msg("realtime.Supervisor.connect dialing")
	conn, err := s.dialer.Dial(dialCtx, target)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: dialer returned no connection", transport.ErrDial)
	}
	return conn, nil
}

func (s *Supervisor) readLoop(gen uint64, conn transport.Conn) {
	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			s.channelLost(gen, conn, err)
			return
		}
		s.deliver(gen, raw)
	}
}

func (s *Supervisor) deliver(gen uint64, raw []byte) {
	s.loop.Lock()
	defer s.loop.Unlock()
	if gen != s.currentGen() {
		return
	}
	s.onFrame(raw)
}

func (s *Supervisor) channelLost(gen uint64, conn transport.Conn, cause error) {
	s.loop.Lock()
	defer s.loop.Unlock()
	_ = conn.Close()
	if gen != s.currentGen() {
		return
	}
	s.mu.Lock()
	s.conn = nil
	s.lastHealthy = s.now()
	sessionID := ""
	if s.sess != nil {
		sessionID = s.sess.ID
	}
	s.mu.Unlock()
	log.Warn().Err(cause).Str("session_id", sessionID).Msg("realtime.Supervisor.channelLost")
	s.handleLossLocked(&TransportError{SessionID: sessionID, Attempts: s.Attempt(), Err: cause})
}

// handleLossLocked schedules the next reopen or gives up once the retry budget
// is spent.
func (s *Supervisor) handleLossLocked(cause *TransportError) {
	backoff := s.cfg.Session.Backoff
	attempts := s.Attempt()
	if !backoff.RetryAllowed(attempts) {
		s.nextGenLocked()
		final := &TransportError{
			SessionID: cause.SessionID,
			Attempts:  attempts,
			Err:       errors.Join(ErrRetriesExhausted, cause.Err),
		}
		log.Error().Err(final).Msg("realtime.Supervisor.handleLoss giving up")
		s.transitionLocked(StateError, final)
		return
	}

	attempt := attempts + 1
	delay := session.NextBackoffDelay(backoff, attempt, nil)
	gen := s.nextGenLocked()
	s.mu.Lock()
	s.attempt = attempt
	s.mu.Unlock()
	s.transitionLocked(StateConnecting, nil)

	timer := s.cfg.Scheduler.AfterFunc(delay, func() { s.fireRetry(gen) })
	s.mu.Lock()
	s.retry = timer
	s.mu.Unlock()
	observability.RecordReconnectAttempt(s.cfg.Platform, attempt)
	log.Info().
		Str("session_id", cause.SessionID).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("realtime.Supervisor.handleLoss reconnect scheduled")
}

func (s *Supervisor) fireRetry(gen uint64) {
	s.loop.Lock()
	if gen != s.currentGen() {
		s.loop.Unlock()
		return
	}
	s.mu.Lock()
	s.retry = nil
	s.mu.Unlock()
	s.loop.Unlock()
	_ = s.dial(s.baseCtx, gen, true)
}

func (s *Supervisor) stopRetryLocked() {
	s.mu.Lock()
	timer := s.retry
	s.retry = nil
	s.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (s *Supervisor) dropConnLocked() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Supervisor) nextGenLocked() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

func (s *Supervisor) currentGen() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

func (s *Supervisor) isShutdown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdown
}

func (s *Supervisor) transitionLocked(next ConnectionState, err error) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.lastErr = err
	observers := make([]*observerEntry, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()
	if prev == next {
		return
	}
	observability.RecordStateTransition(s.cfg.Platform, next.String())
	log.Debug().
		Str("from", prev.String()).
		Str("to", next.String()).
		AnErr("cause", err).
		Msg("realtime.Supervisor.transition")
	for _, o := range observers {
		o.fn(next, err)
	}
}
