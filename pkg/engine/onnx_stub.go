//go:build !onnx

package engine

import (
	"fmt"

	"github.com/realtime-ai/footstep/pkg/model"
)

// ONNXBackend is a stub implementation when built without the 'onnx' build tag.
type ONNXBackend struct{}

// NewONNXBackend always fails without the 'onnx' build tag.
func NewONNXBackend(libraryPath string) (*ONNXBackend, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags onnx to use ONNX Runtime", ErrBackendUnavailable)
}

func (b *ONNXBackend) Name() string { return "onnx" }

func (b *ONNXBackend) Ops() OpSet { return nil }

func (b *ONNXBackend) Allocate(art *model.Artifact, arena *Arena, input, output []float32) error {
	return ErrBackendUnavailable
}

func (b *ONNXBackend) Invoke() error { return ErrBackendUnavailable }

func (b *ONNXBackend) Close() error { return nil }

var _ Backend = (*ONNXBackend)(nil)
