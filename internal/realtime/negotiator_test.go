package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/meetlink/internal/meeting"
	"github.com/danmuck/meetlink/internal/testutil/testlog"
)

func TestNegotiateBuildsRegistration(t *testing.T) {
	testlog.Start(t)
	api := &fakeAPI{}
	n := NewNegotiator(api, " user-7 ")
	fixed := time.UnixMilli(1_700_000_000_000)
	n.now = func() time.Time { return fixed }

	mc := testMeeting(meeting.KindRetrospective)
	s, err := n.Negotiate(context.Background(), mc)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	reg := api.created[0]
	if reg.Platform != "zoom" || reg.MeetingID != mc.ID || reg.MeetingType != "retrospective" || reg.UserID != "user-7" {
		t.Fatalf("unexpected registration: %+v", reg)
	}
	if reg.Timestamp != fixed.UnixMilli() {
		t.Fatalf("unexpected timestamp got=%d", reg.Timestamp)
	}
	if s.ID != "sess-1" || s.UserID != "user-7" || !s.CreatedAt.Equal(fixed) || s.MeetingID != mc.ID {
		t.Fatalf("unexpected session: %+v", s)
	}

	again, err := n.Negotiate(context.Background(), mc)
	if err != nil || again.ID == s.ID {
		t.Fatalf("expected a distinct session got=%+v err=%v", again, err)
	}
}

func TestNegotiateErrors(t *testing.T) {
	testlog.Start(t)
	api := &fakeAPI{}
	n := NewNegotiator(api, "u")

	_, err := n.Negotiate(context.Background(), meeting.Context{Platform: "webex", ID: "x", Kind: meeting.KindReview})
	if !errors.Is(err, ErrNegotiation) || !errors.Is(err, meeting.ErrInvalidContext) {
		t.Fatalf("expected invalid context negotiation error got=%v", err)
	}
	if api.createdCount() != 0 {
		t.Fatalf("invalid context must not reach the backend")
	}

	api.createErr = errors.New("503")
	_, err = n.Negotiate(context.Background(), testMeeting(meeting.KindReview))
	var nerr *NegotiationError
	if !errors.As(err, &nerr) || nerr.Platform != "zoom" || nerr.MeetingID != "meeting-1" {
		t.Fatalf("unexpected negotiation error: %v", err)
	}
}

func TestReleaseSkipsEmptySession(t *testing.T) {
	testlog.Start(t)
	api := &fakeAPI{}
	n := NewNegotiator(api, "u")
	n.Release(context.Background(), Session{})
	n.Release(context.Background(), Session{ID: "sess-9"})
	if ids := api.deletedIDs(); len(ids) != 1 || ids[0] != "sess-9" {
		t.Fatalf("unexpected deletes got=%v", ids)
	}
}
