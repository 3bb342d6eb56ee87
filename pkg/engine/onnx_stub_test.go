//go:build !onnx

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestONNXBackendUnavailableWithoutTag(t *testing.T) {
	b, err := NewONNXBackend("")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Nil(t, b)
}
