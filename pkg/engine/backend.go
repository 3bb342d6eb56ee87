// Package engine runs the footstep model.
//
// An Adapter owns the tensor arena and a Backend. Opening an adapter performs
// the whole startup sequence once: the artifact is decoded, its schema version
// is checked, its operators are resolved against the backend's operator set,
// the input and output tensors are carved out of the arena and the backend
// allocates its working memory. After that, Invoke runs one inference over the
// input tensor and never allocates.
//
// Backends:
//   - micro: pure-Go interpreter for a small fixed operator set, with every
//     intermediate tensor living in the arena.
//   - onnx: ONNX Runtime through onnxruntime_go. Requires the `onnx` build
//     tag and the onnxruntime shared library.
//   - MockBackend: scripted outputs for tests.
package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/realtime-ai/footstep/pkg/model"
)

var (
	// ErrSchemaMismatch is returned when the artifact's schema version differs
	// from the supported one.
	ErrSchemaMismatch = errors.New("model schema version mismatch")
	// ErrUnsupportedOperator is returned when the backend cannot resolve an
	// operator used by the model.
	ErrUnsupportedOperator = errors.New("unsupported operator")
	// ErrShapeMismatch is returned when the model signature does not match the
	// frame layout.
	ErrShapeMismatch = errors.New("model signature mismatch")
	// ErrBackendUnavailable is returned when a backend was not compiled in.
	ErrBackendUnavailable = errors.New("inference backend unavailable")
	// ErrNonFinite is returned when an inference produces NaN or Inf.
	ErrNonFinite = errors.New("non-finite inference output")
)

// Backend executes a model over tensors owned by the adapter.
type Backend interface {
	// Name identifies the backend in logs and traces.
	Name() string

	// Ops returns the operators this backend can execute. A nil set resolves
	// every operator.
	Ops() OpSet

	// Allocate prepares the backend to run art. input and output are the
	// adapter's tensors, already carved from arena; any working memory the
	// backend needs must also come from arena.
	Allocate(art *model.Artifact, arena *Arena, input, output []float32) error

	// Invoke runs one inference, reading input and writing output.
	Invoke() error

	// Close releases backend resources.
	Close() error
}

// OpSet is a fixed set of operator types.
type OpSet map[string]struct{}

// NewOpSet builds a set from operator names.
func NewOpSet(ops ...string) OpSet {
	s := make(OpSet, len(ops))
	for _, op := range ops {
		s[op] = struct{}{}
	}
	return s
}

// Missing returns the operators of ops not in the set, sorted. A nil set
// resolves everything.
func (s OpSet) Missing(ops []string) []string {
	if s == nil {
		return nil
	}
	var missing []string
	for _, op := range ops {
		if _, ok := s[op]; !ok {
			missing = append(missing, op)
		}
	}
	sort.Strings(missing)
	return missing
}

// Names returns the operators in the set, sorted.
func (s OpSet) Names() []string {
	names := make([]string, 0, len(s))
	for op := range s {
		names = append(names, op)
	}
	sort.Strings(names)
	return names
}

// InferenceError reports a failed inference. It is recoverable: the adapter
// stays usable and the next Invoke starts from a clean slate.
type InferenceError struct {
	Backend string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference failed: %v", e.Backend, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
