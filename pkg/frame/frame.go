// Package frame defines the fixed audio frame shared by every stage of the
// detection loop.
//
// The frame length is a compile-time constant and both frame types are arrays,
// so a frame of the wrong length cannot reach the preprocessor or the model
// input tensor.
package frame

import "time"

const (
	// Size is the number of samples consumed by one inference pass.
	Size = 160
	// SampleRate is the nominal sensor sample rate in Hz.
	SampleRate = 16000
	// Duration is the span of audio covered by one frame (10ms at 16kHz).
	Duration = time.Duration(Size) * time.Second / SampleRate
)

// Raw holds one frame of 12-bit-centered signed sensor samples.
type Raw [Size]int16

// Normalized holds one frame of model input values, nominally in [-1, 1].
type Normalized [Size]float32
