package detector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/realtime-ai/footstep/pkg/decision"
	"github.com/realtime-ai/footstep/pkg/engine"
	"github.com/realtime-ai/footstep/pkg/events"
	"github.com/realtime-ai/footstep/pkg/frame"
	"github.com/realtime-ai/footstep/pkg/model"
	"github.com/realtime-ai/footstep/pkg/sensor"
)

// countingChannel returns a constant sample and counts reads.
type countingChannel struct {
	value int16
	reads atomic.Int64
}

func (c *countingChannel) Read() int16 {
	c.reads.Add(1)
	return c.value
}

// countingSink records every event it is notified of.
type countingSink struct {
	events []decision.Event
}

func (s *countingSink) Notify(evt decision.Event) {
	s.events = append(s.events, evt)
}

func newTestDetector(t *testing.T, opts Options) (*Detector, *countingChannel, *countingSink) {
	t.Helper()
	ch := &countingChannel{}
	sink := &countingSink{}
	if opts.Source == nil {
		opts.Source = sensor.NewFrameSource(ch)
	}
	if opts.Sink == nil {
		opts.Sink = sink
	}
	d := New(opts)
	t.Cleanup(func() { d.Close() })
	return d, ch, sink
}

func TestStartReachesReady(t *testing.T) {
	d, ch, _ := newTestDetector(t, Options{})
	assert.Equal(t, Uninitialized, d.State())

	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, Ready, d.State())
	assert.NoError(t, d.Err())
	assert.Equal(t, int64(0), ch.reads.Load(), "validation does not sample")

	stats := d.Stats()
	assert.Equal(t, "micro", stats.Backend)
	assert.Equal(t, "ready", stats.State)
	assert.Equal(t, engine.DefaultArenaSize, stats.ArenaSize)
	assert.Positive(t, stats.ArenaUsed)
	assert.Equal(t, d.RunID(), stats.RunID)

	select {
	case <-d.Halted():
		t.Fatal("ready detector must not be halted")
	default:
	}
}

func TestStartFailuresHalt(t *testing.T) {
	restricted := engine.NewMockBackend()
	restricted.Supported = engine.NewOpSet("Abs")

	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{
			name:    "schema mismatch",
			opts:    Options{Model: model.FootstepGraph(frame.Size).SetSchemaVersion(model.SchemaVersion + 1).Bytes()},
			wantErr: engine.ErrSchemaMismatch,
		},
		{
			name:    "arena too small",
			opts:    Options{ArenaSize: 100},
			wantErr: engine.ErrArenaExhausted,
		},
		{
			name:    "unsupported operator",
			opts:    Options{Backend: restricted},
			wantErr: engine.ErrUnsupportedOperator,
		},
		{
			name:    "invalid model",
			opts:    Options{Model: []byte{0xff, 0xff}},
			wantErr: model.ErrInvalidModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var halts []*FatalError
			tt.opts.OnHalt = func(err *FatalError) { halts = append(halts, err) }

			d, ch, sink := newTestDetector(t, tt.opts)
			err := d.Start(context.Background())

			var ferr *FatalError
			require.ErrorAs(t, err, &ferr)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, Validating, ferr.State)

			assert.Equal(t, Halted, d.State())
			assert.Same(t, ferr, d.Err())
			require.Len(t, halts, 1)
			assert.Same(t, ferr, halts[0])

			select {
			case <-d.Halted():
			default:
				t.Fatal("Halted channel must be closed")
			}

			// No cycle can run after a halt.
			res := d.Step(context.Background())
			assert.ErrorIs(t, res.Err, ErrNotReady)
			assert.ErrorIs(t, d.Run(context.Background()), tt.wantErr)
			assert.Equal(t, int64(0), ch.reads.Load())
			assert.Empty(t, sink.events)
			assert.Equal(t, uint64(0), d.Stats().Cycles)
			assert.NotEmpty(t, d.Stats().Error)
		})
	}
}

func TestHaltClosesBackend(t *testing.T) {
	backend := engine.NewMockBackend()
	d, _, _ := newTestDetector(t, Options{
		Backend: backend,
		Model:   model.FootstepGraph(frame.Size).SetSchemaVersion(1).Bytes(),
	})

	require.Error(t, d.Start(context.Background()))
	assert.True(t, backend.CloseCalled)
	assert.Equal(t, 0, backend.GetInvokeCallCount())
}

func TestStartWithoutSource(t *testing.T) {
	d := New(Options{})
	err := d.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoSource)
	assert.Equal(t, Halted, d.State())
}

func TestStartTwice(t *testing.T) {
	d, _, _ := newTestDetector(t, Options{})
	require.NoError(t, d.Start(context.Background()))
	assert.ErrorIs(t, d.Start(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, Ready, d.State())
}

func TestStepBeforeStart(t *testing.T) {
	d, ch, _ := newTestDetector(t, Options{})
	res := d.Step(context.Background())
	assert.ErrorIs(t, res.Err, ErrNotReady)
	assert.Equal(t, int64(0), ch.reads.Load())
}

func TestConstantOutputEvents(t *testing.T) {
	tests := []struct {
		name   string
		output float32
		want   int
	}{
		{name: "above threshold", output: 0.9, want: 5},
		{name: "below threshold", output: 0.1, want: 0},
		{name: "at threshold", output: 0.5, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ch, sink := newTestDetector(t, Options{Backend: engine.NewMockBackendWithOutput(tt.output)})
			require.NoError(t, d.Start(context.Background()))

			for i := 1; i <= 5; i++ {
				res := d.Step(context.Background())
				require.NoError(t, res.Err)
				assert.Equal(t, uint64(i), res.Cycle)
				assert.Equal(t, tt.output, res.Probability)
			}

			assert.Len(t, sink.events, tt.want)
			assert.Equal(t, int64(5*frame.Size), ch.reads.Load())
			assert.Equal(t, Running, d.State())

			stats := d.Stats()
			assert.Equal(t, uint64(5), stats.Cycles)
			assert.Equal(t, uint64(tt.want), stats.Events)
			assert.Equal(t, tt.output, stats.LastProbability)
		})
	}
}

func TestEventsCarryCycle(t *testing.T) {
	d, _, sink := newTestDetector(t, Options{Backend: engine.NewMockBackendWithOutput(1)})
	require.NoError(t, d.Start(context.Background()))

	d.Step(context.Background())
	d.Step(context.Background())

	require.Len(t, sink.events, 2)
	assert.Equal(t, uint64(1), sink.events[0].Cycle)
	assert.Equal(t, uint64(2), sink.events[1].Cycle)
	assert.Equal(t, decision.FootstepDetected, sink.events[1].Kind)
}

func TestInferenceFailureDoesNotHalt(t *testing.T) {
	backend := engine.NewMockBackendWithSequence([]engine.MockStep{
		{Output: 0.9},
		{Err: errors.New("transient")},
		{Output: 0.9},
	})
	bus := events.NewBus()
	failures := make(chan events.Event, 4)
	bus.Subscribe(events.EventInferenceFailed, failures)

	d, ch, sink := newTestDetector(t, Options{Backend: backend, Bus: bus})
	require.NoError(t, d.Start(context.Background()))

	first := d.Step(context.Background())
	require.NoError(t, first.Err)
	assert.True(t, first.Detected)

	second := d.Step(context.Background())
	var ierr *engine.InferenceError
	require.ErrorAs(t, second.Err, &ierr)
	assert.False(t, second.Detected, "decision is skipped on failure")
	assert.Equal(t, 1, len(sink.events))
	assert.Equal(t, uint64(1), d.Stats().FailureStreak)

	third := d.Step(context.Background())
	require.NoError(t, third.Err)
	assert.True(t, third.Detected)

	// Every cycle, failed or not, fills, normalizes and invokes in full.
	assert.Equal(t, int64(3*frame.Size), ch.reads.Load())
	assert.Equal(t, 3, backend.GetInvokeCallCount())
	assert.Len(t, sink.events, 2)
	assert.Equal(t, Running, d.State())
	assert.NoError(t, d.Err())

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.InferenceFailures)
	assert.Equal(t, uint64(0), stats.FailureStreak)

	select {
	case evt := <-failures:
		assert.Equal(t, uint64(2), evt.Cycle)
		assert.Contains(t, evt.Payload, "transient")
	default:
		t.Fatal("inference failure not published")
	}
}

func TestNormalizedFrameReachesModel(t *testing.T) {
	backend := engine.NewMockBackend()
	ch := &countingChannel{value: 2048}
	d, _, _ := newTestDetector(t, Options{Backend: backend, Source: sensor.NewFrameSource(ch)})
	require.NoError(t, d.Start(context.Background()))

	d.Step(context.Background())
	ch.value = -2048
	d.Step(context.Background())
	ch.value = 0
	d.Step(context.Background())

	require.Len(t, backend.InvokeCalls, 3)
	for i, want := range []float32{1, -1, 0} {
		require.Len(t, backend.InvokeCalls[i], frame.Size)
		for _, v := range backend.InvokeCalls[i] {
			assert.Equal(t, want, v)
		}
	}
}

func TestSyntheticWalk(t *testing.T) {
	d, _, sink := newTestDetector(t, Options{
		Source: sensor.NewFrameSource(sensor.NewSyntheticChannel(sensor.DefaultSyntheticConfig())),
	})
	require.NoError(t, d.Start(context.Background()))

	detected := map[uint64]bool{}
	for i := 0; i < 60; i++ {
		res := d.Step(context.Background())
		require.NoError(t, res.Err)
		detected[res.Cycle] = res.Detected
	}

	// Steps start every 50 frames.
	assert.True(t, detected[1], "onset of the first step")
	assert.True(t, detected[51], "onset of the second step")
	for c := uint64(11); c <= 50; c++ {
		assert.False(t, detected[c], "cycle %d is between steps", c)
	}
	assert.GreaterOrEqual(t, len(sink.events), 2)
}

func TestOverrunIsCountedNotAborted(t *testing.T) {
	backend := engine.NewMockBackend()
	backend.InvokeFunc = func(input []float32) (float32, error) {
		time.Sleep(5 * time.Millisecond)
		return 0.9, nil
	}
	bus := events.NewBus()
	overruns := make(chan events.Event, 1)
	bus.Subscribe(events.EventCycleOverrun, overruns)

	d, _, sink := newTestDetector(t, Options{Backend: backend, Bus: bus, Budget: time.Millisecond})
	require.NoError(t, d.Start(context.Background()))

	res := d.Step(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, res.Overrun)
	assert.True(t, res.Detected, "an overrun cycle still completes")
	assert.Len(t, sink.events, 1)
	assert.Equal(t, uint64(1), d.Stats().Overruns)

	evt := <-overruns
	overrun, ok := evt.Payload.(events.Overrun)
	require.True(t, ok)
	assert.Equal(t, time.Millisecond, overrun.Budget)
}

func TestStateChangesOnBus(t *testing.T) {
	bus := events.NewBus()
	changes := make(chan events.Event, 8)
	bus.Subscribe(events.EventStateChanged, changes)

	d, _, _ := newTestDetector(t, Options{Bus: bus, Backend: engine.NewMockBackend()})
	require.NoError(t, d.Start(context.Background()))
	d.Step(context.Background())
	d.Step(context.Background())

	var got []string
	for len(changes) > 0 {
		evt := <-changes
		got = append(got, evt.Payload.(events.StateChange).To)
	}
	assert.Equal(t, []string{"validating", "ready", "running"}, got)
}

func TestFootstepsPublishedOnBus(t *testing.T) {
	bus := events.NewBus()
	footsteps := make(chan events.Event, 4)
	bus.Subscribe(events.EventFootstep, footsteps)

	d, _, sink := newTestDetector(t, Options{Bus: bus, Backend: engine.NewMockBackendWithOutput(0.8)})
	require.NoError(t, d.Start(context.Background()))
	d.Step(context.Background())

	require.Len(t, sink.events, 1)
	evt := <-footsteps
	assert.Equal(t, sink.events[0], evt.Payload)
}

func TestRunUntilCancelled(t *testing.T) {
	backend := engine.NewMockBackendWithOutput(0.9)
	ch := &countingChannel{}

	var notified atomic.Int64
	d := New(Options{
		Backend: backend,
		Source:  sensor.NewFrameSource(ch),
		Sink:    events.Notifier(func() { notified.Add(1) }),
		Delay:   time.Millisecond,
	})
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return notified.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, Running, d.State())
	assert.NoError(t, d.Err())
}

func TestRunWithoutDelay(t *testing.T) {
	d, _, _ := newTestDetector(t, Options{Backend: engine.NewMockBackendWithOutput(0.1), Delay: -1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Stats().Cycles >= 100 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCycleSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	backend := engine.NewMockBackendWithSequence([]engine.MockStep{
		{Output: 0.9},
		{Err: errors.New("transient")},
	})
	d, _, _ := newTestDetector(t, Options{Backend: backend, Tracer: tp.Tracer("test")})
	require.NoError(t, d.Start(context.Background()))
	d.Step(context.Background())
	d.Step(context.Background())

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "detector.startup", spans[0].Name())
	assert.Equal(t, "detector.cycle", spans[1].Name())
	assert.Equal(t, "detector.cycle", spans[2].Name())
	assert.Len(t, spans[2].Events(), 1, "inference error is recorded")
}
