package realtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/meetlink/internal/observability"
	"github.com/danmuck/meetlink/internal/protocol/session"
	"github.com/danmuck/meetlink/internal/transport"
)

const (
	EventUserInteraction    = "user_interaction"
	EventParticipantsUpdate = "participants_update"
	EventTranscriptUpdate   = "transcript_update"
)

const (
	deliverySocket  = "socket"
	deliveryRequest = "request"
	deliveryQueue   = "queue"
)

// InteractionType names a user action on panel content.
type InteractionType string

const (
	InteractionQuestionCopied   InteractionType = "question_copied"
	InteractionCueApplied       InteractionType = "cue_applied"
	InteractionAISuggestionUsed InteractionType = "ai_suggestion_used"
)

type Interaction struct {
	Type     InteractionType `json:"type"`
	ItemID   string          `json:"itemId"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// EventPoster is the request channel used for every outbound event.
type EventPoster interface {
	PostEvent(ctx context.Context, event session.MeetingEvent) error
}

type GatewayConfig struct {
	QueueSize      int
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
}

type gatewayJob struct {
	event   session.MeetingEvent
	payload []byte
	conn    transport.Conn
	flushed chan struct{}
}

// deliveryLane is one channel's ordered queue and worker.
type deliveryLane struct {
	channel string
	jobs    chan gatewayJob
	attempt func(gatewayJob) error
}

// Gateway sends each outbound event over the live channel, when there is one,
// and always over the request channel. Each channel has its own queue and
// worker, so callers never block, per-channel order is kept and a slow
// request endpoint never delays socket writes.
type Gateway struct {
	cfg     GatewayConfig
	poster  EventPoster
	session func() (Session, bool)
	live    func() transport.Conn
	outbox  *session.EventOutbox
	now     func() time.Time
	newID   func() string

	mu      sync.Mutex
	closed  bool
	socket  *deliveryLane
	request *deliveryLane
	wg      sync.WaitGroup
}

func NewGateway(cfg GatewayConfig, poster EventPoster, sessionFn func() (Session, bool), live func() transport.Conn) *Gateway {
	d := session.DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.OutboundQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = d.RequestTimeout
	}
	if live == nil {
		live = func() transport.Conn { return nil }
	}
	g := &Gateway{
		cfg:     cfg,
		poster:  poster,
		session: sessionFn,
		live:    live,
		outbox:  session.NewEventOutbox(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	g.socket = &deliveryLane{channel: deliverySocket, jobs: make(chan gatewayJob, cfg.QueueSize), attempt: g.writeSocket}
	g.request = &deliveryLane{channel: deliveryRequest, jobs: make(chan gatewayJob, cfg.QueueSize), attempt: g.postRequest}
	for _, lane := range g.lanes() {
		g.wg.Add(1)
		go g.run(lane)
	}
	return g
}

func (g *Gateway) lanes() []*deliveryLane {
	return []*deliveryLane{g.socket, g.request}
}

// Send queues eventType with data. Channel availability is checked now, not at
// delivery time. Errors are informational; delivery failures are never returned.
func (g *Gateway) Send(eventType string, data any) error {
	eventType = strings.TrimSpace(eventType)
	sess, ok := g.session()
	if !ok {
		log.Warn().Str("event_type", eventType).Msg("realtime.Gateway.Send no session, dropped")
		return ErrNoSession
	}
	now := g.now()
	event := session.MeetingEvent{
		Type:      session.FrameMeetingEvent,
		EventID:   g.newID(),
		SessionID: sess.ID,
		EventType: eventType,
		Data:      data,
		Timestamp: now.UnixMilli(),
	}
	if err := event.Validate(); err != nil {
		log.Warn().Err(err).Msg("realtime.Gateway.Send invalid event, dropped")
		return err
	}
	payload, err := session.EncodeMeetingEvent(event)
	if err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("realtime.Gateway.Send encode failed, dropped")
		return err
	}
	job := gatewayJob{event: event, payload: payload, conn: g.live()}

	targets := make([]*deliveryLane, 0, 2)
	if job.conn != nil {
		targets = append(targets, g.socket)
	}
	if g.poster != nil {
		targets = append(targets, g.request)
	}
	channels := make([]string, 0, len(targets))
	for _, lane := range targets {
		channels = append(channels, lane.channel)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	// Tracked before enqueueing so a fast worker always finds the entry.
	g.outbox.Track(event, channels, now)
	var dropped bool
	for _, lane := range targets {
		select {
		case lane.jobs <- job:
		default:
			dropped = true
			g.outbox.Settle(event.EventID, lane.channel, ErrDelivery)
			observability.RecordDelivery(deliveryQueue, eventType, false)
			log.Warn().
				Str("channel", lane.channel).
				Str("event_type", eventType).
				Int("queue", cap(lane.jobs)).
				Msg("realtime.Gateway.Send queue full, dropped")
		}
	}
	if dropped {
		return ErrDelivery
	}
	return nil
}

func (g *Gateway) SendUserInteraction(in Interaction) error {
	return g.Send(EventUserInteraction, in)
}

func (g *Gateway) UpdateParticipants(participants []string) error {
	return g.Send(EventParticipantsUpdate, map[string]any{"participants": participants})
}

func (g *Gateway) SendTranscriptUpdate(transcript string) error {
	return g.Send(EventTranscriptUpdate, map[string]any{"transcript": transcript})
}

// Pending lists events some channel has yet to attempt, oldest first.
func (g *Gateway) Pending() []session.PendingEvent {
	return g.outbox.List()
}

// Flush waits until every channel has attempted everything queued before the call.
func (g *Gateway) Flush(ctx context.Context) error {
	lanes := g.lanes()
	markers := make([]chan struct{}, 0, len(lanes))
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	for _, lane := range lanes {
		marker := gatewayJob{flushed: make(chan struct{})}
		select {
		case lane.jobs <- marker:
			markers = append(markers, marker.flushed)
		case <-ctx.Done():
			g.mu.Unlock()
			return ctx.Err()
		}
	}
	g.mu.Unlock()

	for _, flushed := range markers {
		select {
		case <-flushed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops accepting events and waits for both workers to drain their queues.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	for _, lane := range g.lanes() {
		close(lane.jobs)
	}
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *Gateway) run(lane *deliveryLane) {
	defer g.wg.Done()
	for job := range lane.jobs {
		if job.flushed != nil {
			close(job.flushed)
			continue
		}
		err := lane.attempt(job)
		g.record(lane.channel, job.event, err)
	}
}

func (g *Gateway) writeSocket(job gatewayJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.WriteTimeout)
	defer cancel()
	return job.conn.WriteFrame(ctx, job.payload)
}

func (g *Gateway) postRequest(job gatewayJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RequestTimeout)
	defer cancel()
	return g.poster.PostEvent(ctx, job.event)
}

func (g *Gateway) record(channel string, event session.MeetingEvent, err error) {
	observability.RecordDelivery(channel, event.EventType, err == nil)
	if err != nil {
		log.Warn().
			Err(err).
			Str("channel", channel).
			Str("event_id", event.EventID).
			Str("event_type", event.EventType).
			Msg("realtime.Gateway.deliver failed")
	}
	g.outbox.Settle(event.EventID, channel, err)
}
