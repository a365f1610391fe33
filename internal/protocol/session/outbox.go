package session

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// PendingEvent is an outbound event some delivery channel has yet to attempt.
type PendingEvent struct {
	EventID   string
	EventType string
	SessionID string
	QueuedAt  time.Time
	// Awaiting lists channels that still owe an attempt.
	Awaiting []string
	// Failed lists channels whose attempt errored.
	Failed    []string
	LastError string
}

// EventOutbox tracks in-flight events by event id until every channel has settled.
type EventOutbox struct {
	mu    sync.RWMutex
	items map[string]PendingEvent
}

func NewEventOutbox() *EventOutbox {
	return &EventOutbox{
		items: make(map[string]PendingEvent),
	}
}

// Track records event as awaiting the given channels. Empty ids or channel
// lists are ignored.
func (o *EventOutbox) Track(event MeetingEvent, channels []string, at time.Time) {
	key := strings.TrimSpace(event.EventID)
	if key == "" || len(channels) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[key] = PendingEvent{
		EventID:   key,
		EventType: event.EventType,
		SessionID: event.SessionID,
		QueuedAt:  at,
		Awaiting:  slices.Clone(channels),
	}
}

// Settle marks channel as attempted for eventID. The event leaves the outbox
// once nothing is awaited; done reports that moment.
func (o *EventOutbox) Settle(eventID, channel string, err error) (done bool) {
	key := strings.TrimSpace(eventID)
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return false
	}
	idx := slices.Index(item.Awaiting, channel)
	if idx < 0 {
		return false
	}
	item.Awaiting = slices.Delete(slices.Clone(item.Awaiting), idx, idx+1)
	if err != nil {
		item.Failed = append(slices.Clone(item.Failed), channel)
		item.LastError = err.Error()
	}
	if len(item.Awaiting) == 0 {
		delete(o.items, key)
		return true
	}
	o.items[key] = item
	return false
}

func (o *EventOutbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}

// List returns pending events oldest first.
func (o *EventOutbox) List() []PendingEvent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingEvent, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out
}
