package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/meetlink/internal/auth"
	"github.com/danmuck/meetlink/internal/fallback"
	"github.com/danmuck/meetlink/internal/meeting"
	"github.com/danmuck/meetlink/internal/protocol/session"
	"github.com/danmuck/meetlink/internal/transport"
)

var errPeerGone = errors.New("peer went away")

type fakeConn struct {
	frames chan []byte
	done   chan struct{}

	mu       sync.Mutex
	closed   bool
	dropErr  error
	writes   [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.dropErr != nil {
			return nil, c.dropErr
		}
		return nil, transport.ErrConnClosed
	}
}

func (c *fakeConn) WriteFrame(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrConnClosed
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), frame...))
	return nil
}

func (c *fakeConn) Close() error {
	c.drop(nil)
	return nil
}

func (c *fakeConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// drop simulates the peer closing the channel.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.dropErr = err
	close(c.done)
}

func (c *fakeConn) push(frame string) {
	c.frames <- []byte(frame)
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

type fakeDialer struct {
	mu      sync.Mutex
	fail    error
	targets []string
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, target string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets = append(d.targets, target)
	if d.fail != nil {
		return nil, d.fail
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// manualScheduler records timers and runs them only when a test fires them.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *manualScheduler) timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

// fire runs timer i even if it was stopped, like a timer racing its Stop.
func (s *manualScheduler) fire(i int) {
	s.timer(i).fn()
}

func (s *manualScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.delay)
	}
	return out
}

type fakeAPI struct {
	mu        sync.Mutex
	createErr error
	postErr   error
	block     chan struct{}
	entered   chan struct{}
	postBlock chan struct{}
	seq       int
	created   []session.Registration
	deleted   []string
	events    []session.MeetingEvent
}

func (f *fakeAPI) CreateSession(_ context.Context, reg session.Registration) (session.RegistrationAck, error) {
	f.mu.Lock()
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, reg)
	if f.createErr != nil {
		return session.RegistrationAck{}, f.createErr
	}
	f.seq++
	return session.RegistrationAck{SessionID: fmt.Sprintf("sess-%d", f.seq), UserID: reg.UserID}, nil
}

func (f *fakeAPI) DeleteSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeAPI) PostEvent(_ context.Context, event session.MeetingEvent) error {
	f.mu.Lock()
	block := f.postBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.postErr
}

func (f *fakeAPI) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeAPI) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeAPI) postedEvents() []session.MeetingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.MeetingEvent(nil), f.events...)
}

// recorder captures handler and state callbacks.
type recorder struct {
	mu          sync.Mutex
	states      []ConnectionState
	stateErrs   []error
	questions   [][]meeting.Question
	cues        [][]meeting.Cue
	suggestions [][]meeting.AISuggestion
	stages      []meeting.Stage
	errors      []string
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnQuestionsUpdate: func(q []meeting.Question) {
			r.mu.Lock()
			r.questions = append(r.questions, q)
			r.mu.Unlock()
		},
		OnCuesUpdate: func(c []meeting.Cue) {
			r.mu.Lock()
			r.cues = append(r.cues, c)
			r.mu.Unlock()
		},
		OnAISuggestionsUpdate: func(s []meeting.AISuggestion) {
			r.mu.Lock()
			r.suggestions = append(r.suggestions, s)
			r.mu.Unlock()
		},
		OnMeetingStageChange: func(s meeting.Stage) {
			r.mu.Lock()
			r.stages = append(r.stages, s)
			r.mu.Unlock()
		},
		OnError: func(msg string) {
			r.mu.Lock()
			r.errors = append(r.errors, msg)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) observe(state ConnectionState, err error) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.stateErrs = append(r.stateErrs, err)
	r.mu.Unlock()
}

func (r *recorder) stateList() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionState(nil), r.states...)
}

func (r *recorder) questionCalls() [][]meeting.Question {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]meeting.Question(nil), r.questions...)
}

func (r *recorder) cueCalls() [][]meeting.Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]meeting.Cue(nil), r.cues...)
}

func (r *recorder) errorCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

func testMeeting(kind meeting.Kind) meeting.Context {
	return meeting.Context{
		Platform:         meeting.PlatformZoom,
		ID:               "meeting-1",
		Title:            "Daily Standup",
		Kind:             kind,
		Phase:            meeting.PhaseActive,
		DurationMinutes:  15,
		ParticipantCount: 3,
	}
}

type harness struct {
	client *Client
	api    *fakeAPI
	dialer *fakeDialer
	sched  *manualScheduler
	rec    *recorder
}

func newHarness(t *testing.T, kind meeting.Kind, withFallback bool) *harness {
	t.Helper()
	h := &harness{
		api:    &fakeAPI{},
		dialer: &fakeDialer{},
		sched:  &manualScheduler{},
		rec:    &recorder{},
	}
	cfg := ClientConfig{
		Meeting:   testMeeting(kind),
		WSBaseURL: "ws://localhost:8000",
		UserID:    "user-1",
		Tokens:    auth.StaticSource("demo-token"),
		Session:   session.DefaultConfig(),
		Scheduler: h.sched,
	}
	if withFallback {
		cfg.Fallback = fallback.Default()
	}
	client, err := NewClient(cfg, h.api, h.dialer)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	h.client = client
	client.Subscribe(h.rec.handlers())
	client.WatchState(h.rec.observe)
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
