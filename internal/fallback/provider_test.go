package fallback

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/meetlink/internal/meeting"
	"github.com/danmuck/meetlink/internal/testutil/testlog"
)

func TestEveryKindYieldsContent(t *testing.T) {
	testlog.Start(t)
	p := Default()
	for _, kind := range meeting.Kinds() {
		c := p.Content(kind)
		if len(c.Questions) == 0 {
			t.Fatalf("kind=%s has no fallback questions", kind)
		}
		if len(c.Cues) == 0 {
			t.Fatalf("kind=%s has no fallback cues", kind)
		}
		if len(c.Suggestions) != DefaultSuggestionLimit {
			t.Fatalf("kind=%s suggestions=%d", kind, len(c.Suggestions))
		}
		if c.Stage != meeting.StageStart {
			t.Fatalf("kind=%s stage=%q", kind, c.Stage)
		}
	}
}

func TestQuestionsForFiltersKindAndStage(t *testing.T) {
	testlog.Start(t)
	p := Default()
	got := p.QuestionsFor(meeting.KindStandup, meeting.StageStart)
	if len(got) != 2 || got[0].ID != "q1" || got[1].ID != "q2" {
		t.Fatalf("unexpected standup/start questions: %+v", got)
	}
	got = p.QuestionsFor(meeting.KindReview, meeting.StageEnd)
	ids := []string{"q8", "q9", "q10"}
	if len(got) != len(ids) {
		t.Fatalf("unexpected review/end count=%d", len(got))
	}
	for i, id := range ids {
		if got[i].ID != id {
			t.Fatalf("review/end[%d] got=%s want=%s", i, got[i].ID, id)
		}
	}
	got = p.QuestionsFor(meeting.KindAllHands, meeting.StageMiddle)
	if len(got) != 1 || got[0].ID != "q15" {
		t.Fatalf("any-timing question should match: %+v", got)
	}
}

func TestQuestionsForWidens(t *testing.T) {
	testlog.Start(t)
	p, err := New(Catalog{
		Questions: []meeting.Question{
			{ID: "a", MeetingTypes: []meeting.Kind{meeting.KindStandup}, Timing: "end"},
			{ID: "b", MeetingTypes: []meeting.Kind{meeting.KindStandup, meeting.KindReview}, Timing: "end"},
		},
		Cues: []meeting.Cue{{ID: "c", MeetingStage: []meeting.Phase{meeting.PhaseEnding}}},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if got := p.QuestionsFor(meeting.KindStandup, meeting.StageStart); len(got) != 2 {
		t.Fatalf("expected kind-wide widening, got=%+v", got)
	}
	if got := p.QuestionsFor(meeting.KindBrainstorm, meeting.StageStart); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected universal widening, got=%+v", got)
	}
	if got := p.CuesFor(meeting.PhaseActive); len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("expected all cues when phase has none, got=%+v", got)
	}
}

func TestSuggestionsStampedAndBounded(t *testing.T) {
	testlog.Start(t)
	p := Default()
	fixed := time.Unix(1700000000, 0)
	p.now = func() time.Time { return fixed }
	got := p.Suggestions(2)
	if len(got) != 2 || got[0].ID != "s1" || got[1].ID != "s2" {
		t.Fatalf("unexpected suggestions: %+v", got)
	}
	if !got[0].Timestamp.Equal(fixed) {
		t.Fatalf("suggestion not stamped: %v", got[0].Timestamp)
	}
	if all := p.Suggestions(-1); len(all) != 4 {
		t.Fatalf("negative limit should return all, got=%d", len(all))
	}
}

func TestScenarios(t *testing.T) {
	testlog.Start(t)
	p := Default()
	all := p.Scenarios()
	if len(all) != 3 {
		t.Fatalf("unexpected scenarios=%d", len(all))
	}
	for _, s := range all {
		if err := s.Validate(); err != nil {
			t.Fatalf("scenario %s invalid: %v", s.ID, err)
		}
	}
	if all[2].ParticipantCount != 12 || all[0].ParticipantCount != 6 {
		t.Fatalf("unexpected participant counts: %d %d", all[0].ParticipantCount, all[2].ParticipantCount)
	}

	got, ok := p.ScenarioFor(meeting.PlatformTeams, rand.New(rand.NewSource(1)))
	if !ok || got.ID != "sprint-planning" {
		t.Fatalf("unexpected teams scenario: %+v", got)
	}
	got, ok = p.ScenarioFor("webex", nil)
	if !ok || got.ID != "daily-standup" {
		t.Fatalf("unknown platform should return first scenario: %+v", got)
	}
}

func TestPlatformFeatures(t *testing.T) {
	testlog.Start(t)
	p := Default()
	meet := p.PlatformFeatures(meeting.PlatformMeet)
	if meet["can_get_participants"] || !meet["supports_google_workspace"] {
		t.Fatalf("unexpected meet features: %v", meet)
	}
	meet["can_get_participants"] = true
	if p.PlatformFeatures(meeting.PlatformMeet)["can_get_participants"] {
		t.Fatalf("features map must be a copy")
	}
	if len(p.PlatformFeatures("webex")) != 0 {
		t.Fatalf("unknown platform should have no features")
	}
}

func TestLoadOverridesSections(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "catalog.toml")
	doc := `
[[cues]]
id = "custom"
title = "Custom Cue"
meeting_stage = ["active"]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cues := p.CuesFor(meeting.PhaseActive)
	if len(cues) != 1 || cues[0].ID != "custom" {
		t.Fatalf("cue override not applied: %+v", cues)
	}
	if qs := p.QuestionsFor(meeting.KindStandup, meeting.StageStart); len(qs) != 2 {
		t.Fatalf("questions should keep embedded content: %+v", qs)
	}

	if _, err := Parse(`questions = []`); !errors.Is(err, ErrEmptyCatalog) {
		t.Fatalf("expected ErrEmptyCatalog, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
