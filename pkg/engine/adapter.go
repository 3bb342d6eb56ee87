package engine

import (
	"fmt"
	"log"
	"math"

	"github.com/realtime-ai/footstep/pkg/frame"
	"github.com/realtime-ai/footstep/pkg/model"
)

// Config holds adapter settings. Zero values select the compiled-in defaults.
type Config struct {
	// ArenaSize is the tensor arena budget in bytes.
	ArenaSize int
	// SchemaVersion is the artifact schema version this runtime accepts.
	SchemaVersion int64
}

func (c Config) withDefaults() Config {
	if c.ArenaSize == 0 {
		c.ArenaSize = DefaultArenaSize
	}
	if c.SchemaVersion == 0 {
		c.SchemaVersion = model.SchemaVersion
	}
	return c
}

// Adapter binds one model to one backend and one arena for the lifetime of
// the process.
//
// An Adapter is not safe for concurrent use. The detection loop is its only
// caller.
type Adapter struct {
	artifact *model.Artifact
	backend  Backend
	arena    *Arena

	input  *frame.Normalized
	output []float32
}

// Open runs the startup sequence and returns an adapter ready for Invoke.
//
// Every error returned by Open is fatal for the caller: the model cannot be
// run. Schema errors wrap ErrSchemaMismatch; allocation errors wrap
// ErrUnsupportedOperator, ErrShapeMismatch or ErrArenaExhausted. On failure
// the backend is not closed.
func Open(data []byte, backend Backend, cfg Config) (*Adapter, error) {
	cfg = cfg.withDefaults()

	art, err := model.Load(data)
	if err != nil {
		return nil, err
	}
	if art.SchemaVersion() != cfg.SchemaVersion {
		return nil, fmt.Errorf("%w: artifact has %d, runtime supports %d",
			ErrSchemaMismatch, art.SchemaVersion(), cfg.SchemaVersion)
	}

	if missing := backend.Ops().Missing(art.Ops()); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s backend cannot run %v", ErrUnsupportedOperator, backend.Name(), missing)
	}

	if err := checkSignature(art); err != nil {
		return nil, err
	}

	a := &Adapter{
		artifact: art,
		backend:  backend,
		arena:    NewArena(cfg.ArenaSize),
	}

	in, err := a.arena.Alloc(frame.Size)
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	a.output, err = a.arena.Alloc(1)
	if err != nil {
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}
	a.input = (*frame.Normalized)(in)

	if err := backend.Allocate(art, a.arena, in, a.output); err != nil {
		return nil, fmt.Errorf("%s backend allocate: %w", backend.Name(), err)
	}

	log.Printf("[Engine] Model loaded: backend=%s schema=%d opset=%d ops=%v arena=%d/%d bytes",
		backend.Name(), art.SchemaVersion(), art.OpsetVersion(), art.Ops(), a.arena.Used(), a.arena.Size())

	return a, nil
}

func checkSignature(art *model.Artifact) error {
	ins, outs := art.Inputs(), art.Outputs()
	if len(ins) != 1 || len(outs) != 1 {
		return fmt.Errorf("%w: want 1 input and 1 output, got %d and %d", ErrShapeMismatch, len(ins), len(outs))
	}
	if in := ins[0]; in.DataType != model.DataTypeFloat || in.Elements() != frame.Size {
		return fmt.Errorf("%w: input %s, want %d float32 values", ErrShapeMismatch, in, frame.Size)
	}
	if out := outs[0]; out.DataType != model.DataTypeFloat || out.Elements() != 1 {
		return fmt.Errorf("%w: output %s, want one float32 value", ErrShapeMismatch, out)
	}
	return nil
}

// Input returns the model input tensor. The pointer is stable for the
// adapter's lifetime; writing to it is how frames reach the model.
func (a *Adapter) Input() *frame.Normalized {
	return a.input
}

// Output returns the scalar written by the last successful Invoke.
func (a *Adapter) Output() float32 {
	return a.output[0]
}

// Invoke runs one inference. Failures are returned as *InferenceError.
func (a *Adapter) Invoke() error {
	if err := a.backend.Invoke(); err != nil {
		return &InferenceError{Backend: a.backend.Name(), Err: err}
	}
	if v := float64(a.output[0]); math.IsNaN(v) || math.IsInf(v, 0) {
		return &InferenceError{Backend: a.backend.Name(), Err: ErrNonFinite}
	}
	return nil
}

// Artifact returns the loaded model.
func (a *Adapter) Artifact() *model.Artifact {
	return a.artifact
}

// BackendName returns the name of the bound backend.
func (a *Adapter) BackendName() string {
	return a.backend.Name()
}

// ArenaUsage returns the bytes in use and the arena capacity.
func (a *Adapter) ArenaUsage() (used, size int) {
	return a.arena.Used(), a.arena.Size()
}

// Close releases the backend.
func (a *Adapter) Close() error {
	return a.backend.Close()
}
