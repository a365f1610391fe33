package realtime

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/meetlink/internal/meeting"
	"github.com/danmuck/meetlink/internal/protocol/session"
)

// SessionAPI is the request/response side used for session lifecycle.
type SessionAPI interface {
	CreateSession(ctx context.Context, reg session.Registration) (session.RegistrationAck, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Negotiator performs the single request that binds a meeting to a session.
type Negotiator struct {
	api    SessionAPI
	userID string
	now    func() time.Time
}

func NewNegotiator(api SessionAPI, userID string) *Negotiator {
	return &Negotiator{api: api, userID: strings.TrimSpace(userID), now: time.Now}
}

// Negotiate registers mc and returns a fresh session. Repeated calls yield
// distinct sessions; the server owns uniqueness.
func (n *Negotiator) Negotiate(ctx context.Context, mc meeting.Context) (Session, error) {
	fail := func(err error) (Session, error) {
		return Session{}, &NegotiationError{Platform: string(mc.Platform), MeetingID: mc.ID, Err: err}
	}
	if err := mc.Validate(); err != nil {
		return fail(err)
	}
	now := n.now()
	ack, err := n.api.CreateSession(ctx, session.Registration{
		Platform:    string(mc.Platform),
		MeetingID:   mc.ID,
		MeetingType: string(mc.Kind),
		UserID:      n.userID,
		Timestamp:   now.UnixMilli(),
	})
	if err != nil {
		return fail(err)
	}
	userID := strings.TrimSpace(ack.UserID)
	if userID == "" {
		userID = n.userID
	}
	s := Session{
		ID:        strings.TrimSpace(ack.SessionID),
		Platform:  mc.Platform,
		MeetingID: mc.ID,
		UserID:    userID,
		CreatedAt: now,
	}
	log.Info().
		Str("session_id", s.ID).
		Str("platform", string(s.Platform)).
		Str("meeting_id", s.MeetingID).
		Msg("realtime.Negotiator.Negotiate session created")
	return s, nil
}

// Release tells the backend the session is over. Failures are logged only.
func (n *Negotiator) Release(ctx context.Context, s Session) {
	if strings.TrimSpace(s.ID) == "" {
		return
	}
	if err := n.api.DeleteSession(ctx, s.ID); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("realtime.Negotiator.Release failed")
		return
	}
	log.Debug().Str("session_id", s.ID).Msg("realtime.Negotiator.Release ok")
}
