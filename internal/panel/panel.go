// Package panel holds the per-meeting view state for a side panel. It owns
// exactly one realtime client at a time and replaces it when the meeting
// changes.
package panel

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/meetlink/internal/auth"
	"github.com/danmuck/meetlink/internal/fallback"
	"github.com/danmuck/meetlink/internal/meeting"
	"github.com/danmuck/meetlink/internal/protocol/session"
	"github.com/danmuck/meetlink/internal/realtime"
	"github.com/danmuck/meetlink/internal/transport"
)

var (
	ErrNotMounted   = errors.New("panel: no meeting mounted")
	ErrNotConnected = errors.New("panel: not connected")
)

// Snapshot is the full view state. List fields are whole-value replacements
// and must not be modified.
type Snapshot struct {
	Meeting       meeting.Context
	Questions     []meeting.Question
	Cues          []meeting.Cue
	AISuggestions []meeting.AISuggestion
	MeetingStage  meeting.Stage
	Status        realtime.ConnectionState
	Error         error
	Fallback      bool
	Loading       bool
}

// Factory builds an unconnected client for one meeting.
type Factory func(mc meeting.Context) (*realtime.Client, error)

type FactoryConfig struct {
	WSBaseURL string
	UserID    string
	Tokens    auth.TokenSource
	Session   session.Config
	Fallback  *fallback.Provider
	Backend   realtime.Backend
	Dialer    transport.Dialer
	Scheduler realtime.Scheduler
}

func NewFactory(cfg FactoryConfig) Factory {
	return func(mc meeting.Context) (*realtime.Client, error) {
		return realtime.NewClient(realtime.ClientConfig{
			Meeting:   mc,
			WSBaseURL: cfg.WSBaseURL,
			UserID:    cfg.UserID,
			Tokens:    cfg.Tokens,
			Session:   cfg.Session,
			Scheduler: cfg.Scheduler,
			Fallback:  cfg.Fallback,
		}, cfg.Backend, cfg.Dialer)
	}
}

type watcher struct {
	fn func(Snapshot)
}

type Panel struct {
	factory Factory

	// mount serializes Mount and Close.
	mount sync.Mutex

	mu       sync.Mutex
	client   *realtime.Client
	cancels  []func()
	snap     Snapshot
	watchers []*watcher
}

func New(factory Factory) *Panel {
	return &Panel{factory: factory, snap: Snapshot{Status: realtime.StateDisconnected}}
}

// Mount binds the panel to mc. The same meeting keeps its client; a different
// one fully tears down the previous client before the next is built. The
// connect error is returned but the panel stays usable in fallback mode.
func (p *Panel) Mount(ctx context.Context, mc meeting.Context) error {
	p.mount.Lock()
	defer p.mount.Unlock()

	p.mu.Lock()
	current := p.client
	same := current != nil && p.snap.Meeting.Same(mc)
	p.mu.Unlock()
	if same {
		p.update(current, func(s *Snapshot) { s.Meeting = mc })
		return nil
	}

	p.teardown(ctx)
	if err := mc.Validate(); err != nil {
		return err
	}
	client, err := p.factory(mc)
	if err != nil {
		p.set(Snapshot{Meeting: mc, Status: realtime.StateDisconnected, Error: err})
		return err
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
	p.set(Snapshot{
		Meeting:      mc,
		MeetingStage: meeting.StageStart,
		Status:       realtime.StateDisconnected,
		Loading:      true,
	})
	cancels := []func(){
		client.Subscribe(p.handlers(client)),
		client.WatchState(func(realtime.ConnectionState, error) { p.syncStatus(client, true) }),
	}
	p.mu.Lock()
	p.cancels = cancels
	p.mu.Unlock()

	log.Info().
		Str("platform", string(mc.Platform)).
		Str("meeting_id", mc.ID).
		Str("kind", string(mc.Kind)).
		Msg("panel.Panel.Mount")
	err = client.Connect(ctx)
	p.syncStatus(client, false)
	return err
}

// Close tears the current client down and resets the view.
func (p *Panel) Close(ctx context.Context) error {
	p.mount.Lock()
	defer p.mount.Unlock()
	err := p.teardown(ctx)
	p.set(Snapshot{Status: realtime.StateDisconnected})
	return err
}

func (p *Panel) Reconnect(ctx context.Context) error {
	client := p.current()
	if client == nil {
		return ErrNotMounted
	}
	p.update(client, func(s *Snapshot) { s.Loading = true })
	err := client.Reconnect(ctx)
	p.syncStatus(client, false)
	return err
}

func (p *Panel) SendUserInteraction(in realtime.Interaction) error {
	client, err := p.connected("user_interaction")
	if err != nil {
		return err
	}
	return client.SendUserInteraction(in)
}

func (p *Panel) UpdateParticipants(participants []string) error {
	client, err := p.connected("participants_update")
	if err != nil {
		return err
	}
	return client.UpdateParticipants(participants)
}

func (p *Panel) SendTranscriptUpdate(transcript string) error {
	client, err := p.connected("transcript_update")
	if err != nil {
		return err
	}
	return client.SendTranscriptUpdate(transcript)
}

// Snapshot returns the current view state.
func (p *Panel) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Watch calls fn with every new snapshot. fn may run on the client's event
// goroutine and must not call Mount, Close or Reconnect.
func (p *Panel) Watch(fn func(Snapshot)) (cancel func()) {
	w := &watcher{fn: fn}
	p.mu.Lock()
	p.watchers = append(p.watchers, w)
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, o := range p.watchers {
				if o == w {
					p.watchers = append(p.watchers[:i:i], p.watchers[i+1:]...)
					return
				}
			}
		})
	}
}

func (p *Panel) current() *realtime.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// connected gates sends on a live channel.
func (p *Panel) connected(eventType string) (*realtime.Client, error) {
	client := p.current()
	if client == nil {
		log.Warn().Str("event_type", eventType).Msg("panel.Panel send without meeting")
		return nil, ErrNotMounted
	}
	if client.State() != realtime.StateConnected {
		log.Warn().Str("event_type", eventType).Str("state", client.State().String()).Msg("panel.Panel send while not connected")
		return nil, ErrNotConnected
	}
	return client, nil
}

func (p *Panel) teardown(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	cancels := p.cancels
	p.client = nil
	p.cancels = nil
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	if client == nil {
		return nil
	}
	log.Debug().Str("meeting_id", client.Meeting().ID).Msg("panel.Panel teardown")
	return client.Close(ctx)
}

func (p *Panel) handlers(client *realtime.Client) realtime.Handlers {
	return realtime.Handlers{
		OnQuestionsUpdate: func(q []meeting.Question) {
			p.update(client, func(s *Snapshot) { s.Questions = q; s.Loading = false })
		},
		OnCuesUpdate: func(c []meeting.Cue) {
			p.update(client, func(s *Snapshot) { s.Cues = c; s.Loading = false })
		},
		OnAISuggestionsUpdate: func(a []meeting.AISuggestion) {
			p.update(client, func(s *Snapshot) { s.AISuggestions = a; s.Loading = false })
		},
		OnMeetingStageChange: func(stage meeting.Stage) {
			p.update(client, func(s *Snapshot) { s.MeetingStage = stage })
		},
		OnError: func(msg string) {
			p.update(client, func(s *Snapshot) { s.Error = errors.New(msg) })
		},
	}
}

func (p *Panel) syncStatus(client *realtime.Client, keepLoading bool) {
	status := client.Status()
	lastErr := client.LastError()
	fb := client.FallbackActive()
	p.update(client, func(s *Snapshot) {
		s.Status = status
		s.Fallback = fb
		if lastErr != nil {
			s.Error = lastErr
		} else if status == realtime.StateConnected {
			s.Error = nil
		}
		if !keepLoading || status == realtime.StateConnected || fb {
			s.Loading = false
		}
	})
}

// update applies fn only while client is still the mounted one.
func (p *Panel) update(client *realtime.Client, fn func(*Snapshot)) {
	p.mu.Lock()
	if p.client != client {
		p.mu.Unlock()
		return
	}
	fn(&p.snap)
	snap := p.snap
	watchers := make([]*watcher, len(p.watchers))
	copy(watchers, p.watchers)
	p.mu.Unlock()
	for _, w := range watchers {
		w.fn(snap)
	}
}

func (p *Panel) set(snap Snapshot) {
	p.mu.Lock()
	p.snap = snap
	watchers := make([]*watcher, len(p.watchers))
	copy(watchers, p.watchers)
	p.mu.Unlock()
	for _, w := range watchers {
		w.fn(snap)
	}
}
