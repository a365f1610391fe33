package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/meetlink/internal/meeting"
	"github.com/danmuck/meetlink/internal/observability"
	"github.com/danmuck/meetlink/internal/protocol/session"
)

// Handlers receive whole-value replacements. Nil fields are skipped.
// Slices are shared between subscribers and must be treated as read-only.
type Handlers struct {
	OnQuestionsUpdate     func([]meeting.Question)
	OnCuesUpdate          func([]meeting.Cue)
	OnAISuggestionsUpdate func([]meeting.AISuggestion)
	OnMeetingStageChange  func(meeting.Stage)
	OnError               func(message string)
}

type subscription struct {
	handlers Handlers
	active   atomic.Bool
}

// Dispatcher classifies inbound frames and fans them out to subscribers in
// subscription order.
type Dispatcher struct {
	mu   sync.RWMutex
	subs []*subscription
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers h. The returned cancel func is idempotent; after it
// returns the handlers are never invoked again.
func (d *Dispatcher) Subscribe(h Handlers) (cancel func()) {
	sub := &subscription{handlers: h}
	sub.active.Store(true)
	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, s := range d.subs {
				if s == sub {
					d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (d *Dispatcher) each(fn func(Handlers)) {
	d.mu.RLock()
	subs := make([]*subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()
	for _, s := range subs {
		if s.active.Load() {
			fn(s.handlers)
		}
	}
}

// Dispatch routes one raw frame. Malformed frames are logged and reported as
// ErrParse without notifying anyone; unknown types are ignored.
func (d *Dispatcher) Dispatch(raw []byte) error {
	frame, err := session.DecodeFrame(raw)
	if err != nil {
		observability.RecordInboundFrame("unknown", "malformed")
		log.Warn().Err(err).Int("bytes", len(raw)).Msg("realtime.Dispatcher.Dispatch dropped frame")
		return fmt.Errorf("%w: %v", ErrParse, err)
	}

	switch frame.Type {
	case session.FrameQuestionsUpdate:
		var questions []meeting.Question
		if err := d.decodePayload(frame, &questions); err != nil {
			return err
		}
		d.PublishQuestions(questions)
	case session.FrameCuesUpdate:
		var cues []meeting.Cue
		if err := d.decodePayload(frame, &cues); err != nil {
			return err
		}
		d.PublishCues(cues)
	case session.FrameAISuggestionsUpdate:
		var suggestions []meeting.AISuggestion
		if err := d.decodePayload(frame, &suggestions); err != nil {
			return err
		}
		d.PublishAISuggestions(suggestions)
	case session.FrameMeetingStageChange:
		var payload session.StagePayload
		if err := d.decodePayload(frame, &payload); err != nil {
			return err
		}
		stage, err := meeting.ParseStage(payload.Stage)
		if err != nil {
			observability.RecordInboundFrame(frame.Type, "malformed")
			log.Warn().Err(err).Msg("realtime.Dispatcher.Dispatch dropped stage change")
			return fmt.Errorf("%w: %v", ErrParse, err)
		}
		d.PublishStage(stage)
	case session.FrameError:
		var payload session.ErrorPayload
		if err := d.decodePayload(frame, &payload); err != nil {
			return err
		}
		d.PublishError(payload.Message)
	default:
		observability.RecordInboundFrame(frame.Type, "ignored")
		log.Debug().Str("type", frame.Type).Msg("realtime.Dispatcher.Dispatch unknown frame type")
		return nil
	}
	observability.RecordInboundFrame(frame.Type, "dispatched")
	return nil
}

func (d *Dispatcher) decodePayload(frame session.Frame, v any) error {
	if err := json.Unmarshal(frame.Payload, v); err != nil {
		observability.RecordInboundFrame(frame.Type, "malformed")
		log.Warn().Err(err).Str("type", frame.Type).Msg("realtime.Dispatcher.Dispatch dropped payload")
		return fmt.Errorf("%w: %s payload: %v", ErrParse, frame.Type, err)
	}
	return nil
}

func (d *Dispatcher) PublishQuestions(questions []meeting.Question) {
	d.each(func(h Handlers) {
		if h.OnQuestionsUpdate != nil {
			h.OnQuestionsUpdate(questions)
		}
	})
}

func (d *Dispatcher) PublishCues(cues []meeting.Cue) {
	d.each(func(h Handlers) {
		if h.OnCuesUpdate != nil {
			h.OnCuesUpdate(cues)
		}
	})
}

func (d *Dispatcher) PublishAISuggestions(suggestions []meeting.AISuggestion) {
	d.each(func(h Handlers) {
		if h.OnAISuggestionsUpdate != nil {
			h.OnAISuggestionsUpdate(suggestions)
		}
	})
}

func (d *Dispatcher) PublishStage(stage meeting.Stage) {
	d.each(func(h Handlers) {
		if h.OnMeetingStageChange != nil {
			h.OnMeetingStageChange(stage)
		}
	})
}

func (d *Dispatcher) PublishError(message string) {
	d.each(func(h Handlers) {
		if h.OnError != nil {
			h.OnError(message)
		}
	})
}
