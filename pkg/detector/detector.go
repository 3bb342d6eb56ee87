// Package detector runs the footstep detection loop.
//
// A Detector owns one frame source, one inference adapter and one decision
// policy. Start validates and binds the model once; every cycle afterwards
// fills a frame, normalizes it straight into the model input tensor, runs one
// inference and, if that succeeded, hands the output to the decision policy.
//
// Startup failures are fatal: the detector enters Halted, closes the channel
// returned by Halted and never runs a cycle. Inference failures are not: the
// cycle is logged and skipped, and the next one runs in full.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/realtime-ai/footstep/pkg/decision"
	"github.com/realtime-ai/footstep/pkg/engine"
	"github.com/realtime-ai/footstep/pkg/events"
	"github.com/realtime-ai/footstep/pkg/frame"
	"github.com/realtime-ai/footstep/pkg/model"
	"github.com/realtime-ai/footstep/pkg/preprocess"
	"github.com/realtime-ai/footstep/pkg/sensor"
	"github.com/realtime-ai/footstep/pkg/trace"
)

// DefaultDelay is the pause between the end of one cycle and the start of
// the next.
const DefaultDelay = 10 * time.Millisecond

var (
	// ErrNotReady is returned when a cycle is requested before a successful Start.
	ErrNotReady = errors.New("detector is not ready")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("detector already started")
	// ErrNoSource is returned when no frame source was configured.
	ErrNoSource = errors.New("no frame source")
)

// Options configures a Detector. Zero values select the defaults.
type Options struct {
	// Model is the serialized model. Defaults to the embedded footstep model.
	Model []byte
	// Backend runs the model. Defaults to the micro backend.
	Backend engine.Backend
	// Source provides the frames. Required.
	Source *sensor.FrameSource
	// Sink is notified of every footstep. Defaults to events.LogSink.
	Sink events.Sink
	// Bus, if set, receives diagnostic events.
	Bus *events.Bus
	// Delay is the post-cycle pause. Defaults to DefaultDelay; negative
	// disables it.
	Delay time.Duration
	// Budget is the processing time a cycle may take before it counts as an
	// overrun. Defaults to frame.Duration.
	Budget time.Duration
	// ArenaSize and SchemaVersion override the engine defaults.
	ArenaSize     int
	SchemaVersion int64
	// Tracer overrides the global tracer.
	Tracer oteltrace.Tracer
	// OnHalt is called once, on the goroutine that called Start, when the
	// detector halts.
	OnHalt func(err *FatalError)
}

// runtime is everything bound during validation. It is built once and only
// touched by the goroutine driving the cycles.
type runtime struct {
	adapter *engine.Adapter
	source  *sensor.FrameSource
	policy  decision.Policy
	raw     frame.Raw
	cycle   uint64
}

// CycleResult is the outcome of one cycle.
type CycleResult struct {
	Cycle       uint64
	Probability float32
	Detected    bool
	Event       decision.Event
	// Err is a per-cycle inference error, or ErrNotReady.
	Err     error
	Elapsed time.Duration
	Overrun bool
}

// Stats is a snapshot of detector counters.
type Stats struct {
	RunID             string  `json:"run_id"`
	State             string  `json:"state"`
	Backend           string  `json:"backend,omitempty"`
	Cycles            uint64  `json:"cycles"`
	Events            uint64  `json:"events"`
	InferenceFailures uint64  `json:"inference_failures"`
	FailureStreak     uint64  `json:"failure_streak"`
	Overruns          uint64  `json:"overruns"`
	LastProbability   float32 `json:"last_probability"`
	ArenaUsed         int     `json:"arena_used"`
	ArenaSize         int     `json:"arena_size"`
	Error             string  `json:"error,omitempty"`
}

// Detector is the footstep detection loop.
type Detector struct {
	opts   Options
	runID  string
	tracer oteltrace.Tracer

	state  atomic.Int32
	rt     *runtime
	halted chan struct{}

	mu    sync.Mutex
	stats Stats
	err   *FatalError
}

// New creates a detector in the Uninitialized state.
func New(opts Options) *Detector {
	if opts.Model == nil {
		opts.Model = model.Embedded()
	}
	if opts.Backend == nil {
		opts.Backend = engine.NewMicroBackend()
	}
	if opts.Sink == nil {
		opts.Sink = events.LogSink{}
	}
	if opts.Delay == 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Budget == 0 {
		opts.Budget = frame.Duration
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.GetTracer()
	}

	return &Detector{
		opts:   opts,
		runID:  uuid.NewString(),
		tracer: tracer,
		halted: make(chan struct{}),
	}
}

// RunID identifies this detector instance in logs and events.
func (d *Detector) RunID() string { return d.runID }

// State returns the current state.
func (d *Detector) State() State { return State(d.state.Load()) }

// Halted returns a channel closed when the detector halts.
func (d *Detector) Halted() <-chan struct{} { return d.halted }

// Err returns the fatal error once halted, nil otherwise.
func (d *Detector) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err == nil {
		return nil
	}
	return d.err
}

// Stats returns a snapshot of the counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.RunID = d.runID
	s.State = d.State().String()
	if d.err != nil {
		s.Error = d.err.Error()
	}
	return s
}

func (d *Detector) setState(ctx context.Context, to State, cause error) {
	from := State(d.state.Swap(int32(to)))
	if from != to {
		d.announce(ctx, from, to, cause)
	}
}

func (d *Detector) announce(ctx context.Context, from, to State, cause error) {
	log.Printf("[Detector] State %s -> %s", from, to)
	trace.AddEvent(oteltrace.SpanFromContext(ctx), trace.EventStateChange, trace.StateAttrs(from.String(), to.String())...)

	if d.opts.Bus != nil {
		change := events.StateChange{From: from.String(), To: to.String()}
		if cause != nil {
			change.Error = cause.Error()
		}
		d.opts.Bus.Publish(events.Event{Type: events.EventStateChanged, Payload: change})
	}
}

// Start runs validation: it loads the model, checks its schema version and
// allocates its tensors. On success the detector is Ready. On failure it is
// Halted and the returned error is a *FatalError.
func (d *Detector) Start(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(Uninitialized), int32(Validating)) {
		return ErrAlreadyStarted
	}

	var ferr *FatalError
	_ = trace.WithSpan(ctx, d.tracer, trace.SpanStartup, func(ctx context.Context, span oteltrace.Span) error {
		d.announce(ctx, Uninitialized, Validating, nil)

		rt, err := d.validate()
		if err != nil {
			ferr = &FatalError{State: Validating, Err: err}
			d.halt(ctx, ferr)
			return ferr
		}

		d.rt = rt
		used, size := rt.adapter.ArenaUsage()
		art := rt.adapter.Artifact()
		span.SetAttributes(trace.ModelAttrs(art.GraphName(), art.SchemaVersion(), art.OpsetVersion(),
			art.Ops(), rt.adapter.BackendName(), used, size)...)

		d.mu.Lock()
		d.stats.Backend = rt.adapter.BackendName()
		d.stats.ArenaUsed = used
		d.stats.ArenaSize = size
		d.mu.Unlock()

		d.setState(ctx, Ready, nil)
		return nil
	})
	if ferr != nil {
		return ferr
	}
	return nil
}

func (d *Detector) validate() (*runtime, error) {
	if d.opts.Source == nil {
		return nil, ErrNoSource
	}

	adapter, err := engine.Open(d.opts.Model, d.opts.Backend, engine.Config{
		ArenaSize:     d.opts.ArenaSize,
		SchemaVersion: d.opts.SchemaVersion,
	})
	if err != nil {
		return nil, err
	}

	return &runtime{
		adapter: adapter,
		source:  d.opts.Source,
		policy:  decision.Default(),
	}, nil
}

func (d *Detector) halt(ctx context.Context, ferr *FatalError) {
	if err := d.opts.Backend.Close(); err != nil {
		log.Printf("[Detector] Failed to close %s backend: %v", d.opts.Backend.Name(), err)
	}

	d.mu.Lock()
	d.err = ferr
	d.mu.Unlock()

	log.Printf("[Detector] FATAL: %v", ferr)
	d.setState(ctx, Halted, ferr)
	close(d.halted)

	if d.opts.OnHalt != nil {
		d.opts.OnHalt(ferr)
	}
}

// Step runs one cycle without the post-cycle delay. The detector must be
// Ready or Running.
func (d *Detector) Step(ctx context.Context) CycleResult {
	switch d.State() {
	case Ready:
		d.setState(ctx, Running, nil)
	case Running:
	default:
		return CycleResult{Err: ErrNotReady}
	}

	rt := d.rt
	if rt == nil {
		return CycleResult{Err: ErrNotReady}
	}
	rt.cycle++
	res := CycleResult{Cycle: rt.cycle}

	ctx, span := d.tracer.Start(ctx, trace.SpanCycle)
	defer span.End()

	rt.source.Fill(&rt.raw)

	start := time.Now()
	preprocess.Normalize(&rt.raw, rt.adapter.Input())
	err := rt.adapter.Invoke()
	if err == nil {
		res.Probability = rt.adapter.Output()
		res.Event, res.Detected = rt.policy.Evaluate(res.Probability, res.Cycle)
	}
	res.Elapsed = time.Since(start)
	res.Overrun = res.Elapsed > d.opts.Budget
	res.Err = err

	d.record(ctx, span, res)

	if res.Detected {
		d.opts.Sink.Notify(res.Event)
		if d.opts.Bus != nil {
			d.opts.Bus.Notify(res.Event)
		}
	}
	return res
}

func (d *Detector) record(ctx context.Context, span oteltrace.Span, res CycleResult) {
	d.mu.Lock()
	d.stats.Cycles = res.Cycle
	if res.Err != nil {
		d.stats.InferenceFailures++
		d.stats.FailureStreak++
	} else {
		d.stats.FailureStreak = 0
		d.stats.LastProbability = res.Probability
	}
	if res.Detected {
		d.stats.Events++
	}
	if res.Overrun {
		d.stats.Overruns++
	}
	streak := d.stats.FailureStreak
	d.mu.Unlock()

	span.SetAttributes(trace.CycleAttrs(res.Cycle, res.Probability, res.Detected)...)

	if res.Err != nil {
		trace.RecordError(span, res.Err)
		span.SetAttributes(trace.FailureStreakAttr(streak))
		log.Print(trace.LogWithTrace(ctx, fmt.Sprintf("[Detector] Inference failed (cycle=%d, streak=%d): %v", res.Cycle, streak, res.Err)))
		if d.opts.Bus != nil {
			d.opts.Bus.Publish(events.Event{Type: events.EventInferenceFailed, Cycle: res.Cycle, Payload: res.Err.Error()})
		}
	}

	if res.Overrun {
		span.SetAttributes(trace.OverrunAttr(res.Elapsed))
		log.Printf("[Detector] Cycle %d overran its budget: %v > %v", res.Cycle, res.Elapsed, d.opts.Budget)
		if d.opts.Bus != nil {
			d.opts.Bus.Publish(events.Event{
				Type:    events.EventCycleOverrun,
				Cycle:   res.Cycle,
				Payload: events.Overrun{Elapsed: res.Elapsed, Budget: d.opts.Budget},
			})
		}
	}
}

// Run starts the detector if needed and executes cycles until ctx is done.
// It returns the *FatalError if the detector is or becomes Halted, and
// ctx.Err() when cancelled.
func (d *Detector) Run(ctx context.Context) error {
	if d.State() == Uninitialized {
		if err := d.Start(ctx); err != nil {
			return err
		}
	}
	if err := d.Err(); err != nil {
		return err
	}
	if d.rt == nil {
		return ErrNotReady
	}

	log.Printf("[Detector] Running: run_id=%s delay=%v", d.runID, d.opts.Delay)

	var timer *time.Timer
	if d.opts.Delay > 0 {
		timer = time.NewTimer(d.opts.Delay)
		defer timer.Stop()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		d.Step(ctx)

		if timer == nil {
			continue
		}
		timer.Reset(d.opts.Delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Close releases the model. The detector must not be stepped afterwards.
func (d *Detector) Close() error {
	if d.rt == nil {
		return nil
	}
	err := d.rt.adapter.Close()
	d.rt = nil
	return err
}
