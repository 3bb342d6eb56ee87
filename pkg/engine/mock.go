package engine

import (
	"sync"

	"github.com/realtime-ai/footstep/pkg/model"
)

// MockBackend is a scripted Backend for testing.
// It allows customizing the behavior of Invoke through the InvokeFunc field.
type MockBackend struct {
	// InvokeFunc is called with the input tensor when Invoke is invoked.
	// Its result is written to the output tensor unless it returns an error.
	// If nil, the output is 0.0.
	InvokeFunc func(input []float32) (float32, error)

	// Supported is returned by Ops. Nil resolves every operator.
	Supported OpSet

	// AllocateErr, if set, is returned by Allocate.
	AllocateErr error

	// InvokeCalls records a copy of the input tensor for every Invoke.
	InvokeCalls [][]float32

	// AllocateCalled tracks if Allocate was called.
	AllocateCalled bool

	// CloseCalled tracks if Close was called.
	CloseCalled bool

	input  []float32
	output []float32
	mu     sync.Mutex
}

// NewMockBackend creates a new MockBackend with default behavior.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		InvokeCalls: make([][]float32, 0),
	}
}

// NewMockBackendWithOutput creates a MockBackend that always outputs prob.
func NewMockBackendWithOutput(prob float32) *MockBackend {
	return &MockBackend{
		InvokeFunc: func(input []float32) (float32, error) {
			return prob, nil
		},
		InvokeCalls: make([][]float32, 0),
	}
}

// MockStep is one scripted result of a sequenced MockBackend.
type MockStep struct {
	Output float32
	Err    error
}

// NewMockBackendWithSequence creates a MockBackend that replays steps in order.
// After all steps are returned, it cycles back to the beginning.
func NewMockBackendWithSequence(steps []MockStep) *MockBackend {
	idx := 0
	return &MockBackend{
		InvokeFunc: func(input []float32) (float32, error) {
			if len(steps) == 0 {
				return 0, nil
			}
			step := steps[idx]
			idx = (idx + 1) % len(steps)
			return step.Output, step.Err
		},
		InvokeCalls: make([][]float32, 0),
	}
}

// Name implements Backend.
func (m *MockBackend) Name() string { return "mock" }

// Ops implements Backend.
func (m *MockBackend) Ops() OpSet { return m.Supported }

// Allocate implements Backend.
func (m *MockBackend) Allocate(art *model.Artifact, arena *Arena, input, output []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AllocateCalled = true
	if m.AllocateErr != nil {
		return m.AllocateErr
	}
	m.input = input
	m.output = output
	return nil
}

// Invoke implements Backend.
func (m *MockBackend) Invoke() error {
	m.mu.Lock()
	// Make a copy because the input tensor is rewritten every cycle
	inputCopy := make([]float32, len(m.input))
	copy(inputCopy, m.input)
	m.InvokeCalls = append(m.InvokeCalls, inputCopy)
	m.mu.Unlock()

	out := float32(0)
	if m.InvokeFunc != nil {
		var err error
		out, err = m.InvokeFunc(m.input)
		if err != nil {
			return err
		}
	}
	if len(m.output) > 0 {
		m.output[0] = out
	}
	return nil
}

// Close implements Backend.
func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalled = true
	return nil
}

// GetInvokeCallCount returns the number of times Invoke was called.
func (m *MockBackend) GetInvokeCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InvokeCalls)
}

// Ensure MockBackend implements Backend at compile time.
var _ Backend = (*MockBackend)(nil)
