package meeting

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidContext  = errors.New("meeting: invalid context")
	ErrUnknownPlatform = errors.New("meeting: unknown platform")
	ErrUnknownKind     = errors.New("meeting: unknown meeting kind")
)

type Platform string

const (
	PlatformZoom  Platform = "zoom"
	PlatformTeams Platform = "teams"
	PlatformMeet  Platform = "meet"
)

// Platforms lists every supported host platform.
func Platforms() []Platform {
	return []Platform{PlatformZoom, PlatformTeams, PlatformMeet}
}

func ParsePlatform(raw string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case PlatformZoom, PlatformTeams, PlatformMeet:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, raw)
	}
}

// Kind is the declared type of meeting, used to pick relevant content.
type Kind string

const (
	KindStandup       Kind = "standup"
	KindPlanning      Kind = "planning"
	KindRetrospective Kind = "retrospective"
	KindBrainstorm    Kind = "brainstorm"
	KindReview        Kind = "review"
	KindAllHands      Kind = "all-hands"
)

// Kinds lists every supported meeting kind.
func Kinds() []Kind {
	return []Kind{KindStandup, KindPlanning, KindRetrospective, KindBrainstorm, KindReview, KindAllHands}
}

func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

// Phase is the lifecycle phase reported by the host platform.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseStarting Phase = "starting"
	PhaseActive   Phase = "active"
	PhaseEnding   Phase = "ending"
)

// Context identifies one meeting as seen by the side panel.
type Context struct {
	Platform         Platform
	ID               string
	Title            string
	Kind             Kind
	Phase            Phase
	DurationMinutes  int
	ParticipantCount int
	Participants     []string
	StartTime        time.Time
	IsRecording      bool
	IsScreenSharing  bool
}

func (c Context) Validate() error {
	if _, err := ParsePlatform(string(c.Platform)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidContext)
	}
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	if c.ParticipantCount < 0 {
		return fmt.Errorf("%w: negative participant count", ErrInvalidContext)
	}
	return nil
}

// Same reports whether two contexts address the same meeting.
func (c Context) Same(other Context) bool {
	return c.Platform == other.Platform && c.ID == other.ID && c.Kind == other.Kind
}
