// Package preprocess converts raw sensor frames into model input values.
package preprocess

import "github.com/realtime-ai/footstep/pkg/frame"

// Scale is half the raw sample range of a 12-bit-centered signed sample.
const Scale float32 = 2048

// Normalize writes raw[i] / Scale into dst for every sample.
//
// dst is normally the model's input tensor. Values are not clamped: a raw
// sample outside [-2048, 2048] produces a value outside [-1, 1].
func Normalize(raw *frame.Raw, dst *frame.Normalized) {
	for i, s := range raw {
		dst[i] = float32(s) / Scale
	}
}

// NormalizeFrame is the value-returning form of Normalize.
func NormalizeFrame(raw frame.Raw) frame.Normalized {
	var out frame.Normalized
	Normalize(&raw, &out)
	return out
}
