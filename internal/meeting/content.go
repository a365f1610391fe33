package meeting

import (
	"fmt"
	"strings"
	"time"
)

// Stage is the conversational stage pushed by the backend.
type Stage string

const (
	StageStart  Stage = "start"
	StageMiddle Stage = "middle"
	StageEnd    Stage = "end"
)

func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StageStart, StageMiddle, StageEnd:
		return s, nil
	default:
		return "", fmt.Errorf("meeting: unknown stage %q", raw)
	}
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// TimingAny marks a question usable at every stage.
const TimingAny = "any"

type Question struct {
	ID           string   `json:"id" toml:"id"`
	Text         string   `json:"text" toml:"text"`
	Category     string   `json:"category" toml:"category"`
	MeetingTypes []Kind   `json:"meetingTypes" toml:"meeting_types"`
	Icon         string   `json:"icon" toml:"icon"`
	Priority     Priority `json:"priority" toml:"priority"`
	Timing       string   `json:"timing" toml:"timing"`
}

// AppliesTo reports whether the question is tagged for kind.
func (q Question) AppliesTo(kind Kind) bool {
	for _, k := range q.MeetingTypes {
		if k == kind {
			return true
		}
	}
	return false
}

type Cue struct {
	ID           string  `json:"id" toml:"id"`
	Title        string  `json:"title" toml:"title"`
	Content      string  `json:"content" toml:"content"`
	Category     string  `json:"category" toml:"category"`
	Icon         string  `json:"icon" toml:"icon"`
	Trigger      string  `json:"trigger" toml:"trigger"`
	MeetingStage []Phase `json:"meetingStage" toml:"meeting_stage"`
}

func (c Cue) ActiveIn(phase Phase) bool {
	for _, p := range c.MeetingStage {
		if p == phase {
			return true
		}
	}
	return false
}

type SuggestionType string

const (
	SuggestionAction   SuggestionType = "action"
	SuggestionReminder SuggestionType = "reminder"
	SuggestionInsight  SuggestionType = "insight"
	SuggestionWarning  SuggestionType = "warning"
)

type AISuggestion struct {
	ID          string         `json:"id" toml:"id"`
	Type        SuggestionType `json:"type" toml:"type"`
	Title       string         `json:"title" toml:"title"`
	Description string         `json:"description" toml:"description"`
	Priority    Priority       `json:"priority" toml:"priority"`
	Timestamp   time.Time      `json:"timestamp" toml:"-"`
	Platform    string         `json:"platform,omitempty" toml:"platform"`
}
