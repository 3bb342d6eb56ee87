package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtime-ai/footstep/pkg/frame"
	"github.com/realtime-ai/footstep/pkg/model"
)

func TestOpenEmbeddedModel(t *testing.T) {
	adapter, err := Open(model.Embedded(), NewMicroBackend(), Config{})
	require.NoError(t, err)
	defer adapter.Close()

	assert.Equal(t, "micro", adapter.BackendName())
	assert.Equal(t, model.SchemaVersion, adapter.Artifact().SchemaVersion())

	used, size := adapter.ArenaUsage()
	assert.Equal(t, DefaultArenaSize, size)
	assert.Equal(t, (frame.Size+1+frame.Size+3)*4, used)
}

func TestOpenSchemaMismatch(t *testing.T) {
	data := model.FootstepGraph(frame.Size).SetSchemaVersion(model.SchemaVersion - 1).Bytes()

	backend := NewMockBackend()
	_, err := Open(data, backend, Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.False(t, backend.AllocateCalled, "no allocation after a schema mismatch")
}

func TestOpenSchemaOverride(t *testing.T) {
	data := model.FootstepGraph(frame.Size).SetSchemaVersion(7).Bytes()

	adapter, err := Open(data, NewMicroBackend(), Config{SchemaVersion: 7})
	require.NoError(t, err)
	adapter.Close()
}

func TestOpenInvalidArtifact(t *testing.T) {
	_, err := Open([]byte("not a model"), NewMockBackend(), Config{})
	assert.ErrorIs(t, err, model.ErrInvalidModel)
}

func TestOpenUnsupportedOperator(t *testing.T) {
	backend := NewMockBackend()
	backend.Supported = NewOpSet("Abs", "ReduceMean")

	_, err := Open(model.Embedded(), backend, Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
	assert.Contains(t, err.Error(), "[Add Mul Sigmoid]")
	assert.False(t, backend.AllocateCalled)
}

func TestOpenSignatureMismatch(t *testing.T) {
	tests := []struct {
		name  string
		build *model.Builder
	}{
		{
			name:  "wrong frame size",
			build: model.FootstepGraph(320),
		},
		{
			name: "wide output",
			build: model.NewBuilder("wide").
				AddInput("x", model.DataTypeFloat, 1, frame.Size).
				AddOutput("y", model.DataTypeFloat, 1, frame.Size).
				AddNode("Relu", []string{"x"}, []string{"y"}),
		},
		{
			name: "integer input",
			build: model.NewBuilder("int").
				AddInput("x", model.DataTypeInt16, 1, frame.Size).
				AddOutput("y", model.DataTypeFloat, 1, 1).
				AddNode("ReduceMean", []string{"x"}, []string{"y"}),
		},
		{
			name: "two outputs",
			build: model.NewBuilder("two").
				AddInput("x", model.DataTypeFloat, 1, frame.Size).
				AddOutput("y", model.DataTypeFloat, 1, 1).
				AddOutput("z", model.DataTypeFloat, 1, 1).
				AddNode("ReduceMean", []string{"x"}, []string{"y"}).
				AddNode("Identity", []string{"y"}, []string{"z"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.build.Bytes(), NewMockBackend(), Config{})
			assert.ErrorIs(t, err, ErrShapeMismatch)
		})
	}
}

func TestOpenArenaTooSmall(t *testing.T) {
	t.Run("input tensor", func(t *testing.T) {
		_, err := Open(model.Embedded(), NewMicroBackend(), Config{ArenaSize: 100})
		assert.ErrorIs(t, err, ErrArenaExhausted)
	})

	t.Run("intermediate tensors", func(t *testing.T) {
		_, err := Open(model.Embedded(), NewMicroBackend(), Config{ArenaSize: 700})
		assert.ErrorIs(t, err, ErrArenaExhausted)
	})
}

func TestOpenBackendAllocateError(t *testing.T) {
	backend := NewMockBackend()
	backend.AllocateErr = errors.New("device lost")

	_, err := Open(model.Embedded(), backend, Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device lost")
}

func TestAdapterInputIsBackendInput(t *testing.T) {
	backend := NewMockBackendWithOutput(0.25)
	adapter, err := Open(model.Embedded(), backend, Config{})
	require.NoError(t, err)

	in := adapter.Input()
	assert.Same(t, in, adapter.Input(), "input pointer must be stable")

	in[0] = 0.5
	in[frame.Size-1] = -0.5
	require.NoError(t, adapter.Invoke())
	assert.Equal(t, float32(0.25), adapter.Output())

	require.Len(t, backend.InvokeCalls, 1)
	assert.Equal(t, float32(0.5), backend.InvokeCalls[0][0])
	assert.Equal(t, float32(-0.5), backend.InvokeCalls[0][frame.Size-1])
}

func TestAdapterInvokeFailureIsRecoverable(t *testing.T) {
	backend := NewMockBackendWithSequence([]MockStep{
		{Output: 0.9},
		{Err: errors.New("transient")},
		{Output: 0.1},
	})
	adapter, err := Open(model.Embedded(), backend, Config{})
	require.NoError(t, err)

	require.NoError(t, adapter.Invoke())
	assert.Equal(t, float32(0.9), adapter.Output())

	err = adapter.Invoke()
	var ierr *InferenceError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "mock", ierr.Backend)
	assert.Contains(t, err.Error(), "transient")

	require.NoError(t, adapter.Invoke())
	assert.Equal(t, float32(0.1), adapter.Output())
}

func TestAdapterNonFiniteOutput(t *testing.T) {
	for _, v := range []float32{float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1))} {
		adapter, err := Open(model.Embedded(), NewMockBackendWithOutput(v), Config{})
		require.NoError(t, err)

		err = adapter.Invoke()
		assert.ErrorIs(t, err, ErrNonFinite)
		var ierr *InferenceError
		assert.ErrorAs(t, err, &ierr)
	}
}

func TestAdapterClose(t *testing.T) {
	backend := NewMockBackend()
	adapter, err := Open(model.Embedded(), backend, Config{})
	require.NoError(t, err)

	require.NoError(t, adapter.Close())
	assert.True(t, backend.CloseCalled)
}
