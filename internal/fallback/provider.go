// Package fallback serves locally generated panel content when no live backend
// connection exists. It never touches the network.
package fallback

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/meetlink/internal/meeting"
)

//go:embed content.toml
var embeddedCatalog string

var ErrEmptyCatalog = errors.New("fallback: catalog has no questions or cues")

const (
	// DefaultStage is the conversational stage fallback questions are picked for.
	DefaultStage = meeting.StageStart
	// DefaultPhase is the meeting phase fallback cues are picked for.
	DefaultPhase = meeting.PhaseActive
	// DefaultSuggestionLimit caps the fallback AI suggestions.
	DefaultSuggestionLimit = 3
)

type scenarioEntry struct {
	ID               string   `toml:"id"`
	Title            string   `toml:"title"`
	Platform         string   `toml:"platform"`
	Kind             string   `toml:"kind"`
	DurationMinutes  int      `toml:"duration_minutes"`
	ParticipantCount int      `toml:"participant_count"`
	Participants     []string `toml:"participants"`
	Phase            string   `toml:"phase"`
	Recording        bool     `toml:"recording"`
	ScreenSharing    bool     `toml:"screen_sharing"`
}

// Catalog is the raw offline content set.
type Catalog struct {
	Questions   []meeting.Question         `toml:"questions"`
	Cues        []meeting.Cue              `toml:"cues"`
	Suggestions []meeting.AISuggestion     `toml:"suggestions"`
	Scenarios   []scenarioEntry            `toml:"scenarios"`
	Features    map[string]map[string]bool `toml:"features"`
}

// Content is one activation's worth of panel data.
type Content struct {
	Questions   []meeting.Question
	Cues        []meeting.Cue
	Suggestions []meeting.AISuggestion
	Stage       meeting.Stage
}

type Provider struct {
	catalog Catalog
	now     func() time.Time
}

// Default returns a provider over the embedded catalog.
func Default() *Provider {
	p, err := Parse(embeddedCatalog)
	if err != nil {
		panic(fmt.Sprintf("fallback: embedded catalog: %v", err))
	}
	return p
}

// Load reads a catalog file. Sections missing from the file keep the embedded content.
func Load(path string) (*Provider, error) {
	base := Default().catalog
	var override Catalog
	meta, err := toml.DecodeFile(path, &override)
	if err != nil {
		return nil, fmt.Errorf("load fallback catalog: %w", err)
	}
	if meta.IsDefined("questions") {
		base.Questions = override.Questions
	}
	if meta.IsDefined("cues") {
		base.Cues = override.Cues
	}
	if meta.IsDefined("suggestions") {
		base.Suggestions = override.Suggestions
	}
	if meta.IsDefined("scenarios") {
		base.Scenarios = override.Scenarios
	}
	if meta.IsDefined("features") {
		base.Features = override.Features
	}
	return New(base)
}

func Parse(doc string) (*Provider, error) {
	var c Catalog
	if _, err := toml.Decode(doc, &c); err != nil {
		return nil, fmt.Errorf("parse fallback catalog: %w", err)
	}
	return New(c)
}

func New(c Catalog) (*Provider, error) {
	if len(c.Questions) == 0 || len(c.Cues) == 0 {
		return nil, ErrEmptyCatalog
	}
	return &Provider{catalog: c, now: time.Now}, nil
}

// Content builds the activation payload for a meeting kind.
func (p *Provider) Content(kind meeting.Kind) Content {
	return Content{
		Questions:   p.QuestionsFor(kind, DefaultStage),
		Cues:        p.CuesFor(DefaultPhase),
		Suggestions: p.Suggestions(DefaultSuggestionLimit),
		Stage:       DefaultStage,
	}
}

// QuestionsFor filters by kind and stage timing. When nothing matches it widens
// to any timing for the kind, then to the questions shared by most kinds, so the
// panel is never empty.
func (p *Provider) QuestionsFor(kind meeting.Kind, stage meeting.Stage) []meeting.Question {
	var exact, anyTiming []meeting.Question
	for _, q := range p.catalog.Questions {
		if !q.AppliesTo(kind) {
			continue
		}
		anyTiming = append(anyTiming, q)
		if q.Timing == string(stage) || q.Timing == meeting.TimingAny {
			exact = append(exact, q)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	if len(anyTiming) > 0 {
		return anyTiming
	}
	return p.universalQuestions()
}

func (p *Provider) universalQuestions() []meeting.Question {
	best := 0
	for _, q := range p.catalog.Questions {
		if len(q.MeetingTypes) > best {
			best = len(q.MeetingTypes)
		}
	}
	var out []meeting.Question
	for _, q := range p.catalog.Questions {
		if len(q.MeetingTypes) == best {
			out = append(out, q)
		}
	}
	return out
}

// CuesFor returns cues tagged for phase, or every cue when none are.
func (p *Provider) CuesFor(phase meeting.Phase) []meeting.Cue {
	var out []meeting.Cue
	for _, c := range p.catalog.Cues {
		if c.ActiveIn(phase) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		out = append(out, p.catalog.Cues...)
	}
	return out
}

// Suggestions returns up to limit suggestions stamped with the current time.
func (p *Provider) Suggestions(limit int) []meeting.AISuggestion {
	n := len(p.catalog.Suggestions)
	if limit >= 0 && limit < n {
		n = limit
	}
	now := p.now()
	out := make([]meeting.AISuggestion, n)
	copy(out, p.catalog.Suggestions[:n])
	for i := range out {
		out[i].Timestamp = now
	}
	return out
}

// Scenarios returns the demo meeting contexts.
func (p *Provider) Scenarios() []meeting.Context {
	now := p.now()
	out := make([]meeting.Context, 0, len(p.catalog.Scenarios))
	for _, s := range p.catalog.Scenarios {
		count := s.ParticipantCount
		if count == 0 {
			count = len(s.Participants)
		}
		out = append(out, meeting.Context{
			Platform:         meeting.Platform(strings.ToLower(s.Platform)),
			ID:               s.ID,
			Title:            s.Title,
			Kind:             meeting.Kind(strings.ToLower(s.Kind)),
			Phase:            meeting.Phase(strings.ToLower(s.Phase)),
			DurationMinutes:  s.DurationMinutes,
			ParticipantCount: count,
			Participants:     append([]string(nil), s.Participants...),
			StartTime:        now,
			IsRecording:      s.Recording,
			IsScreenSharing:  s.ScreenSharing,
		})
	}
	return out
}

// ScenarioFor picks a random demo context for platform, or the first scenario.
func (p *Provider) ScenarioFor(platform meeting.Platform, rng *rand.Rand) (meeting.Context, bool) {
	all := p.Scenarios()
	if len(all) == 0 {
		return meeting.Context{}, false
	}
	var matches []meeting.Context
	for _, s := range all {
		if s.Platform == platform {
			matches = append(matches, s)
		}
	}
	if len(matches) == 0 {
		return all[0], true
	}
	if rng == nil {
		return matches[0], true
	}
	return matches[rng.Intn(len(matches))], true
}

// PlatformFeatures reports what the host SDK is known to expose.
func (p *Provider) PlatformFeatures(platform meeting.Platform) map[string]bool {
	src := p.catalog.Features[string(platform)]
	out := make(map[string]bool, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
