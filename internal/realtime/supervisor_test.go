package realtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/meetlink/internal/meeting"
	"github.com/danmuck/meetlink/internal/testutil/testlog"
)

func TestConnectStateOrder(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, meeting.KindStandup, true)

	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	got := h.rec.stateList()
	want := []ConnectionState{StateConnecting, StateConnected}
	if len(got) != len(want) {
		t.Fatalf("unexpected states got=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected state[%d] got=%s want=%s", i, got[i], want[i])
		}
	}
	if h.client.Status() != StateConnected {
		t.Fatalf("expected connected status got=%s", h.client.Status())
	}
	if h.dialer.dials() != 1 {
		t.Fatalf("expected one dial got=%d", h.dialer.dials())
	}
	target := h.dialer.targets[0]
	if !strings.HasPrefix(target, "ws://localhost:8000/ws/meetings/sess-1?") || !strings.Contains(target, "token=demo-token") {
		t.Fatalf("unexpected channel target: %s", target)
	}
}

func TestReconnectBackoffScheduleAndExhaustion(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, meeting.KindPlanning, true)
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	h.dialer.setFail(errors.New("connection refused"))
	h.dialer.lastConn().drop(errPeerGone)
	waitFor(t, "first retry timer", func() bool { return h.sched.count() == 1 })
	if h.client.State() != StateConnecting {
		t.Fatalf("expected connecting after loss got=%s", h.client.State())
	}

	for i := 0; i < 5; i++ {
		if h.sched.count() != i+1 {
			t.Fatalf("expected %d timers before firing got=%d", i+1, h.sched.count())
		}
		h.sched.fire(i)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	got := h.sched.delays()
	if len(got) != len(want) {
		t.Fatalf("unexpected retry count got=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected delay[%d] got=%v want=%v", i, got[i], want[i])
		}
	}
	if h.dialer.dials() != 6 {
		t.Fatalf("expected initial dial plus five retries got=%d", h.dialer.dials())
	}
	if h.client.State() != StateError {
		t.Fatalf("expected error after exhaustion got=%s", h.client.State())
	}
	err := h.client.LastError()
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, ErrTransport) {
		t.Fatalf("expected exhausted transport error got=%v", err)
	}
	var terr *TransportError
	if !errors.As(err, &terr) || terr.Attempts != 5 || terr.SessionID != "sess-1" {
		t.Fatalf("unexpected transport error: %+v", terr)
	}
	if !h.client.FallbackActive() || h.client.Status() != StateDisconnected {
		t.Fatalf("expected silent fallback got active=%v status=%s", h.client.FallbackActive(), h.client.Status())
	}
	if len(h.rec.questionCalls()) != 1 || len(h.rec.cueCalls()) != 1 {
		t.Fatalf("expected one fallback delivery got questions=%d cues=%d", len(h.rec.questionCalls()), len(h.rec.cueCalls()))
	}

	// No sixth attempt is ever scheduled.
	time.Sleep(20 * time.Millisecond)
	if h.sched.count() != 5 {
		t.Fatalf("expected no further retries got=%d", h.sched.count())
	}
}

func TestSuccessfulReopenResetsAttempts(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, meeting.KindReview, false)
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	h.dialer.setFail(errors.New("refused"))
	h.dialer.lastConn().drop(errPeerGone)
	waitFor(t, "first retry", func() bool { return h.sched.count() == 1 })
	h.sched.fire(0)
	if h.client.supervisor.Attempt() != 2 {
		t.Fatalf("expected attempt 2 after failed reopen got=%d", h.client.supervisor.Attempt())
	}

	h.dialer.setFail(nil)
	h.sched.fire(1)
	if h.client.State() != StateConnected {
		t.Fatalf("expected connected got=%s", h.client.State())
	}
	if h.client.supervisor.Attempt() != 0 {
		t.Fatalf("expected attempt reset got=%d", h.client.supervisor.Attempt())
	}

	h.dialer.lastConn().drop(errPeerGone)
	waitFor(t, "retry after reset", func() bool { return h.sched.count() == 3 })
	if d := h.sched.delays()[2]; d != 2*time.Second {
		t.Fatalf("expected backoff restart at 2s got=%v", d)
	}
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, meeting.KindStandup, true)
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.dialer.lastConn().drop(errPeerGone)
	waitFor(t, "retry timer", func() bool { return h.sched.count() == 1 })

	if err := h.client.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !h.sched.timer(0).isStopped() {
		t.Fatalf("expected pending retry timer to be stopped")
	}
	states := len(h.rec.stateList())
	dials := h.dialer.dials()

	h.sched.fire(0)
	time.Sleep(20 * time.Millisecond)

	if h.dialer.dials() != dials {
		t.Fatalf("expected no dial after close got=%d want=%d", h.dialer.dials(), dials)
	}
	if len(h.rec.stateList()) != states {
		t.Fatalf("expected no transition after close got=%v", h.rec.stateList())
	}
	if h.client.State() != StateDisconnected {
		t.Fatalf("expected disconnected got=%s", h.client.State())
	}
	if ids := h.api.deletedIDs(); len(ids) != 1 || ids[0] != "sess-1" {
		t.Fatalf("expected session release got=%v", ids)
	}
	if err := h.client.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed client to refuse connect got=%v", err)
	}
}

func TestFramesAfterCloseAreNotDelivered(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, meeting.KindStandup, false)
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := h.dialer.lastConn()
	if err := h.client.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	h.client.supervisor.deliver(1, []byte(`{"type":"questions_update","payload":[]}`))
	select {
	case conn.frames <- []byte(`{"type":"error","payload":{"message":"late"}}`):
	default:
	}
	time.Sleep(20 * time.Millisecond)
	if len(h.rec.questionCalls()) != 0 || len(h.rec.errorCalls()) != 0 {
		t.Fatalf("expected no handler after close got questions=%d errors=%d", len(h.rec.questionCalls()), len(h.rec.errorCalls()))
	}
}

func TestInitialDialFailureReportsTransportError(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, meeting.KindBrainstorm, true)
	h.dialer.setFail(errors.New("handshake rejected"))

	err := h.client.Connect(context.Background())
	var terr *TransportError
	if !errors.As(err, &terr) || !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error got=%v", err)
	}
	if h.client.State() != StateError {
		t.Fatalf("expected error state got=%s", h.client.State())
	}
	if h.sched.count() != 0 {
		t.Fatalf("initial failure must not schedule retries got=%d", h.sched.count())
	}
	if !h.client.FallbackActive() || len(h.rec.questionCalls()) != 1 {
		t.Fatalf("expected fallback delivery after initial failure")
	}
}

func TestReconnectReusesFreshSession(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, meeting.KindStandup, false)
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := h.dialer.lastConn()

	if err := h.client.Reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if h.api.createdCount() != 1 {
		t.Fatalf("expected session reuse got creates=%d", h.api.createdCount())
	}
	if first.Open() {
		t.Fatalf("expected prior channel closed before reopening")
	}
	if h.dialer.dials() != 2 || h.client.State() != StateConnected {
		t.Fatalf("expected reopened channel got dials=%d state=%s", h.dialer.dials(), h.client.State())
	}
}

func TestReconnectRenegotiatesStaleSession(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, meeting.KindStandup, false)
	if err := h.client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.dialer.setFail(errors.New("refused"))
	h.dialer.lastConn().drop(errPeerGone)
	waitFor(t, "retry timer", func() bool { return h.sched.count() == 1 })
	for i := 0; i < 5; i++ {
		h.sched.fire(i)
	}
	if h.client.State() != StateError {
		t.Fatalf("expected error got=%s", h.client.State())
	}

	later := time.Now().Add(10 * time.Minute)
	h.client.supervisor.now = func() time.Time { return later }
	h.dialer.setFail(nil)
	if err := h.client.Reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if h.api.createdCount() != 2 {
		t.Fatalf("expected renegotiation got creates=%d", h.api.createdCount())
	}
	if ids := h.api.deletedIDs(); len(ids) != 1 || ids[0] != "sess-1" {
		t.Fatalf("expected stale session released got=%v", ids)
	}
	sess, ok := h.client.Session()
	if !ok || sess.ID != "sess-2" {
		t.Fatalf("expected new session got=%+v ok=%v", sess, ok)
	}
	if h.client.State() != StateConnected || h.client.LastError() != nil {
		t.Fatalf("expected connected without error got=%s err=%v", h.client.State(), h.client.LastError())
	}
}

func TestNewSupervisorValidatesConfig(t *testing.T) {
	testlog.Start(t)
	if _, err := NewSupervisor(SupervisorConfig{}, &fakeDialer{}, nil); !errors.Is(err, ErrWSBaseRequired) {
		t.Fatalf("expected ws base error got=%v", err)
	}
	if _, err := NewSupervisor(SupervisorConfig{WSBaseURL: "ws://x"}, nil, nil); !errors.Is(err, ErrDialerRequired) {
		t.Fatalf("expected dialer error got=%v", err)
	}
	if _, err := NewSupervisor(SupervisorConfig{WSBaseURL: "ws://x"}, &fakeDialer{}, nil); !errors.Is(err, ErrTokensRequired) {
		t.Fatalf("expected token source error got=%v", err)
	}
}
