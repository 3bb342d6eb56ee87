package preprocess

import (
	"testing"

	"github.com/realtime-ai/footstep/pkg/frame"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeReferencePoints(t *testing.T) {
	tests := []struct {
		name string
		raw  int16
		want float32
	}{
		{name: "positive full scale", raw: 2048, want: 1.0},
		{name: "negative full scale", raw: -2048, want: -1.0},
		{name: "zero", raw: 0, want: 0.0},
		{name: "half scale", raw: 1024, want: 0.5},
		{name: "largest 12-bit value", raw: 2047, want: 2047.0 / 2048.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw frame.Raw
			for i := range raw {
				raw[i] = tt.raw
			}

			out := NormalizeFrame(raw)
			for i := range out {
				assert.InDelta(t, tt.want, out[i], 1e-6)
			}
		})
	}
}

func TestNormalizeZeroIsExact(t *testing.T) {
	var raw frame.Raw
	out := NormalizeFrame(raw)
	for _, v := range out {
		assert.Equal(t, float32(0), v)
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	var raw frame.Raw
	for i := range raw {
		raw[i] = int16(i*37%4096 - 2048)
	}

	first := NormalizeFrame(raw)
	second := NormalizeFrame(raw)
	assert.Equal(t, first, second)
}

func TestNormalizePreservesSampleOrder(t *testing.T) {
	var raw frame.Raw
	for i := range raw {
		raw[i] = int16(i)
	}

	out := NormalizeFrame(raw)
	for i := range out {
		assert.InDelta(t, float32(i)/Scale, out[i], 1e-7)
	}
}

func TestNormalizeDoesNotClamp(t *testing.T) {
	var raw frame.Raw
	raw[0] = 4096
	raw[1] = -6144
	raw[2] = 32767

	out := NormalizeFrame(raw)
	assert.InDelta(t, 2.0, out[0], 1e-6)
	assert.InDelta(t, -3.0, out[1], 1e-6)
	assert.Greater(t, out[2], float32(15))
}

func TestNormalizeWritesInPlace(t *testing.T) {
	var raw frame.Raw
	var dst frame.Normalized
	for i := range dst {
		dst[i] = 99
	}
	raw[5] = -512

	Normalize(&raw, &dst)

	assert.Equal(t, float32(0), dst[0])
	assert.InDelta(t, -0.25, dst[5], 1e-7)
}
