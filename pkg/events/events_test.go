package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtime-ai/footstep/pkg/decision"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch := make(chan Event, 1)
	bus.Subscribe(EventInferenceFailed, ch)

	delivered := bus.Publish(Event{Type: EventInferenceFailed, Cycle: 3, Payload: "boom"})
	assert.True(t, delivered)

	received := <-ch
	assert.Equal(t, EventInferenceFailed, received.Type)
	assert.Equal(t, uint64(3), received.Cycle)
	assert.Equal(t, "boom", received.Payload)
	assert.False(t, received.Timestamp.IsZero(), "timestamp is filled in")
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	ch := make(chan Event, 1)

	bus.Subscribe(EventStateChanged, ch)
	bus.Unsubscribe(EventStateChanged, ch)

	assert.False(t, bus.Publish(Event{Type: EventStateChanged}))
	select {
	case <-ch:
		t.Error("Should not receive event after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	ch1 := make(chan Event, 1)
	ch2 := make(chan Event, 1)
	bus.Subscribe(EventCycleOverrun, ch1)
	bus.SubscribeAll(ch2)

	bus.Publish(Event{Type: EventCycleOverrun})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			assert.Equal(t, EventCycleOverrun, received.Type)
		case <-time.After(100 * time.Millisecond):
			t.Error("Timeout waiting for event")
		}
	}

	bus.UnsubscribeAll(ch2)
	bus.Publish(Event{Type: EventStateChanged})
	assert.Empty(t, ch2)
}

func TestBusPublishDoesNotBlock(t *testing.T) {
	bus := NewBus()
	ch := make(chan Event, 1)
	bus.Subscribe(EventFootstep, ch)

	require.True(t, bus.Publish(Event{Type: EventFootstep, Payload: "first"}))

	done := make(chan bool)
	go func() {
		done <- bus.Publish(Event{Type: EventFootstep, Payload: "second"})
	}()

	select {
	case delivered := <-done:
		assert.False(t, delivered, "second event should be dropped when channel is full")
	case <-time.After(100 * time.Millisecond):
		t.Error("Publish blocked when channel was full")
	}

	assert.Equal(t, "first", (<-ch).Payload)
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := NewBus()
	ch := make(chan Event, 100)
	bus.Subscribe(EventFootstep, ch)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				bus.Publish(Event{Type: EventFootstep})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ch, 100)
}

func TestBusAsSink(t *testing.T) {
	bus := NewBus()
	ch := make(chan Event, 1)
	bus.Subscribe(EventFootstep, ch)

	evt, ok := decision.Default().Evaluate(0.9, 7)
	require.True(t, ok)

	var sink Sink = bus
	sink.Notify(evt)

	received := <-ch
	assert.Equal(t, uint64(7), received.Cycle)
	assert.Equal(t, evt, received.Payload)
}

func TestNotifierIgnoresPayload(t *testing.T) {
	calls := 0
	var sink Sink = Notifier(func() { calls++ })

	sink.Notify(decision.Event{})
	sink.Notify(decision.Event{})
	assert.Equal(t, 2, calls)
}

func TestMulti(t *testing.T) {
	var got []string
	a := SinkFunc(func(decision.Event) { got = append(got, "a") })
	b := SinkFunc(func(decision.Event) { got = append(got, "b") })

	Multi(a, nil, b, LogSink{}).Notify(decision.Event{Cycle: 1})
	assert.Equal(t, []string{"a", "b"}, got)
}
