package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound frame types pushed by the backend.
const (
	FrameQuestionsUpdate     = "questions_update"
	FrameCuesUpdate          = "cues_update"
	FrameAISuggestionsUpdate = "ai_suggestions_update"
	FrameMeetingStageChange  = "meeting_stage_change"
	FrameError               = "error"

	// FrameMeetingEvent wraps every outbound event.
	FrameMeetingEvent = "meeting_event"
)

var (
	ErrMalformedFrame = errors.New("session: malformed frame")
	ErrInvalidEvent   = errors.New("session: invalid meeting event")
)

// Frame is the inbound envelope. Payload shape depends on Type.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type StagePayload struct {
	Stage string `json:"stage"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// DecodeFrame parses the envelope only; payload decoding is left to the dispatcher.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	f.Type = strings.TrimSpace(f.Type)
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return f, nil
}

func EncodeFrame(frameType string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: frameType, Payload: body})
}

// MeetingEvent is the outbound envelope shared by the socket and the events endpoint.
type MeetingEvent struct {
	Type      string `json:"type"`
	EventID   string `json:"eventId,omitempty"`
	SessionID string `json:"sessionId"`
	EventType string `json:"eventType"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

func (e MeetingEvent) Validate() error {
	if e.Type != FrameMeetingEvent {
		return fmt.Errorf("%w: type %q", ErrInvalidEvent, e.Type)
	}
	if strings.TrimSpace(e.SessionID) == "" {
		return fmt.Errorf("%w: missing sessionId", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("%w: missing eventType", ErrInvalidEvent)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	return nil
}

func EncodeMeetingEvent(e MeetingEvent) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}
