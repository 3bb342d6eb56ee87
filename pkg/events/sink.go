// Package events delivers detector output: the event sink the detection loop
// notifies on every footstep, and a diagnostic bus for everything else.
package events

import (
	"log"

	"github.com/realtime-ai/footstep/pkg/decision"
)

// Sink receives footstep events. Notify is called on the detection loop's
// goroutine at most once per cycle and must not block.
type Sink interface {
	Notify(evt decision.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(evt decision.Event)

// Notify implements Sink.
func (f SinkFunc) Notify(evt decision.Event) { f(evt) }

// Notifier adapts a zero-argument notification, such as toggling an output
// line, to Sink.
type Notifier func()

// Notify implements Sink.
func (f Notifier) Notify(decision.Event) { f() }

// LogSink logs every event.
type LogSink struct{}

// Notify implements Sink.
func (LogSink) Notify(evt decision.Event) {
	log.Printf("[Detector] Footstep detected: cycle=%d probability=%.3f id=%s", evt.Cycle, evt.Probability, evt.ID)
}

// Multi fans an event out to several sinks in order. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) Notify(evt decision.Event) {
	for _, s := range m {
		s.Notify(evt)
	}
}
