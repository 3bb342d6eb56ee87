//go:build onnx

package engine

import (
	"fmt"
	"log"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/realtime-ai/footstep/pkg/model"
)

// onnxEnv is the process-wide ONNX Runtime environment, shared by every
// allocated backend. It is created by the first acquire and destroyed when
// the last backend closes.
var onnxEnv struct {
	mu      sync.Mutex
	users   int
	library string
}

func acquireONNXEnv(library string) error {
	onnxEnv.mu.Lock()
	defer onnxEnv.mu.Unlock()

	if onnxEnv.users > 0 {
		if library != onnxEnv.library {
			return fmt.Errorf("%w: onnx runtime already loaded from %s", ErrBackendUnavailable, onnxEnv.library)
		}
		onnxEnv.users++
		return nil
	}

	ort.SetSharedLibraryPath(library)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: initialize onnx runtime: %v", ErrBackendUnavailable, err)
	}
	onnxEnv.users = 1
	onnxEnv.library = library
	log.Printf("[Engine] ONNX runtime loaded from %s", library)
	return nil
}

func releaseONNXEnv() error {
	onnxEnv.mu.Lock()
	defer onnxEnv.mu.Unlock()

	if onnxEnv.users == 0 {
		return nil
	}
	onnxEnv.users--
	if onnxEnv.users > 0 {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("destroy onnx runtime: %w", err)
	}
	log.Printf("[Engine] ONNX runtime released")
	return nil
}

// ONNXBackend runs the model with ONNX Runtime.
//
// The session's input and output tensors wrap the adapter's arena slices, so
// the preprocessor writes straight into the runtime's input buffer and the
// result lands in the adapter's output tensor. Intermediate tensors are
// managed by the runtime itself and are outside the arena budget.
type ONNXBackend struct {
	library  string
	acquired bool

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXBackend returns a backend that loads ONNX Runtime from
// libraryPath, or from the library FindONNXLibrary discovers when empty.
// The library is located now and loaded on Allocate.
func NewONNXBackend(libraryPath string) (*ONNXBackend, error) {
	library, err := FindONNXLibrary(libraryPath)
	if err != nil {
		return nil, err
	}
	return &ONNXBackend{library: library}, nil
}

// Name implements Backend.
func (b *ONNXBackend) Name() string { return "onnx" }

// Ops implements Backend. ONNX Runtime resolves every standard operator.
func (b *ONNXBackend) Ops() OpSet { return nil }

// Allocate implements Backend.
func (b *ONNXBackend) Allocate(art *model.Artifact, arena *Arena, input, output []float32) error {
	if err := acquireONNXEnv(b.library); err != nil {
		return err
	}
	b.acquired = true

	in, out := art.Inputs()[0], art.Outputs()[0]

	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(1); err != nil {
		return fmt.Errorf("failed to set intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return fmt.Errorf("failed to set inter-op threads: %w", err)
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return fmt.Errorf("failed to set graph optimization level: %w", err)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(in.Shape...), input)
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewTensor(ort.NewShape(out.Shape...), output)
	if err != nil {
		inputTensor.Destroy()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(art.Bytes(),
		[]string{in.Name},
		[]string{out.Name},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		options)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return fmt.Errorf("failed to create session: %w", err)
	}

	b.session = session
	b.input = inputTensor
	b.output = outputTensor
	return nil
}

// Invoke implements Backend.
func (b *ONNXBackend) Invoke() error {
	if b.session == nil {
		return fmt.Errorf("onnx backend not allocated")
	}
	return b.session.Run()
}

// Close implements Backend.
func (b *ONNXBackend) Close() error {
	if b.session != nil {
		if err := b.session.Destroy(); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
		b.session = nil
	}
	if b.input != nil {
		b.input.Destroy()
		b.input = nil
	}
	if b.output != nil {
		b.output.Destroy()
		b.output = nil
	}
	if b.acquired {
		b.acquired = false
		return releaseONNXEnv()
	}
	return nil
}

var _ Backend = (*ONNXBackend)(nil)
