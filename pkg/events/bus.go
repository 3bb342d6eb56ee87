package events

import (
	"sync"
	"time"

	"github.com/realtime-ai/footstep/pkg/decision"
)

// EventType classifies a bus event.
type EventType string

const (
	EventFootstep        EventType = "footstep"
	EventInferenceFailed EventType = "inference_failed"
	EventStateChanged    EventType = "state_changed"
	EventCycleOverrun    EventType = "cycle_overrun"
)

// Event is a diagnostic message published by the detector.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Cycle     uint64    `json:"cycle,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// StateChange is the payload of EventStateChanged.
type StateChange struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Error string `json:"error,omitempty"`
}

// Overrun is the payload of EventCycleOverrun.
type Overrun struct {
	Elapsed time.Duration `json:"elapsed"`
	Budget  time.Duration `json:"budget"`
}

// Bus fans detector events out to subscriber channels.
//
// Publish never blocks: an event is dropped for a subscriber whose channel is
// full, so a slow consumer cannot stall the detection loop.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]chan<- Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]chan<- Event)}
}

// Subscribe registers ch for events of type t.
func (b *Bus) Subscribe(t EventType, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], ch)
}

// SubscribeAll registers ch for every event type.
func (b *Bus) SubscribeAll(ch chan<- Event) {
	for _, t := range []EventType{EventFootstep, EventInferenceFailed, EventStateChanged, EventCycleOverrun} {
		b.Subscribe(t, ch)
	}
}

// Unsubscribe removes ch from events of type t.
func (b *Bus) Unsubscribe(t EventType, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[t]
	for i, c := range subs {
		if c == ch {
			b.subs[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes ch from every event type.
func (b *Bus) UnsubscribeAll(ch chan<- Event) {
	for _, t := range []EventType{EventFootstep, EventInferenceFailed, EventStateChanged, EventCycleOverrun} {
		b.Unsubscribe(t, ch)
	}
}

// Publish delivers evt to every subscriber of its type. It returns true only
// if every subscriber received it; false when there were none or any were full.
func (b *Bus) Publish(evt Event) bool {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subs[evt.Type]
	if len(subs) == 0 {
		return false
	}
	delivered := true
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			delivered = false
		}
	}
	return delivered
}

// Notify implements Sink by publishing footstep events.
func (b *Bus) Notify(evt decision.Event) {
	b.Publish(Event{
		Type:      EventFootstep,
		Timestamp: evt.Time,
		Cycle:     evt.Cycle,
		Payload:   evt,
	})
}
