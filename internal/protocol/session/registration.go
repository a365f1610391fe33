package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrInvalidRegistration    = errors.New("session: invalid registration")
	ErrInvalidRegistrationAck = errors.New("session: invalid registration ack")
	ErrBodyTooLarge           = errors.New("session: response body too large")
)

// MaxControlBody bounds registration responses read from the backend.
const MaxControlBody = 128 * 1024

// Registration is the client->backend session-create body.
type Registration struct {
	Platform    string `json:"platform"`
	MeetingID   string `json:"meetingId"`
	MeetingType string `json:"meetingType"`
	UserID      string `json:"userId"`
	Timestamp   int64  `json:"timestamp"`
}

func (r Registration) Validate() error {
	if strings.TrimSpace(r.Platform) == "" {
		return fmt.Errorf("%w: missing platform", ErrInvalidRegistration)
	}
	if strings.TrimSpace(r.MeetingID) == "" {
		return fmt.Errorf("%w: missing meetingId", ErrInvalidRegistration)
	}
	if strings.TrimSpace(r.MeetingType) == "" {
		return fmt.Errorf("%w: missing meetingType", ErrInvalidRegistration)
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: missing userId", ErrInvalidRegistration)
	}
	if r.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidRegistration)
	}
	return nil
}

// RegistrationAck is the backend->client session-create response.
type RegistrationAck struct {
	SessionID string `json:"sessionId"`
	Platform  string `json:"platform"`
	MeetingID string `json:"meetingId"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// Validate only insists on sessionId; echoed fields are advisory.
func (a RegistrationAck) Validate() error {
	if strings.TrimSpace(a.SessionID) == "" {
		return fmt.Errorf("%w: missing sessionId", ErrInvalidRegistrationAck)
	}
	return nil
}

func WriteRegistration(w io.Writer, reg Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(reg)
}

func ReadRegistration(r io.Reader) (Registration, error) {
	var reg Registration
	if err := decodeBounded(r, &reg); err != nil {
		return Registration{}, fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
	}
	if err := reg.Validate(); err != nil {
		return Registration{}, err
	}
	return reg, nil
}

func WriteRegistrationAck(w io.Writer, ack RegistrationAck) error {
	if err := ack.Validate(); err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(ack)
}

func ReadRegistrationAck(r io.Reader) (RegistrationAck, error) {
	var ack RegistrationAck
	if err := decodeBounded(r, &ack); err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			return RegistrationAck{}, err
		}
		return RegistrationAck{}, fmt.Errorf("%w: %v", ErrInvalidRegistrationAck, err)
	}
	if err := ack.Validate(); err != nil {
		return RegistrationAck{}, err
	}
	return ack, nil
}

func decodeBounded(r io.Reader, v any) error {
	body, err := io.ReadAll(io.LimitReader(r, MaxControlBody+1))
	if err != nil {
		return err
	}
	if len(body) > MaxControlBody {
		return ErrBodyTooLarge
	}
	return json.Unmarshal(body, v)
}
