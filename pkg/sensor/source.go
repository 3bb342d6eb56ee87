// Package sensor provides the frame source: the audio channel the detector
// samples, and the implementations behind it.
//
// A Channel yields one signed sample per Read, centered on zero with a 12-bit
// range of [-2048, 2047]. FrameSource.Fill reads exactly frame.Size samples
// per call. Reads are total: a channel that has nothing better to return
// returns silence.
//
// Channels:
//   - SyntheticChannel: deterministic noise floor with periodic footstep
//     impulses, for demos and soak tests.
//   - PCMChannel: looped replay of a recorded s16le or μ-law file.
//   - RingChannel: live samples pushed by a capture callback (see sensor/mic).
package sensor

import (
	"sync/atomic"

	"github.com/realtime-ai/footstep/pkg/frame"
)

// Sample range of a 12-bit channel.
const (
	MinSample int16 = -2048
	MaxSample int16 = 2047
)

// Channel is one analog input channel.
type Channel interface {
	// Read returns the next sample. It never fails.
	Read() int16
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func() int16

// Read implements Channel.
func (f ChannelFunc) Read() int16 { return f() }

// FrameSource fills raw frames from a channel.
type FrameSource struct {
	ch      Channel
	samples atomic.Uint64
}

// NewFrameSource returns a source reading from ch.
func NewFrameSource(ch Channel) *FrameSource {
	return &FrameSource{ch: ch}
}

// Fill overwrites every element of buf with one channel read, in order.
func (s *FrameSource) Fill(buf *frame.Raw) {
	for i := range buf {
		buf[i] = s.ch.Read()
	}
	s.samples.Add(frame.Size)
}

// Samples returns the number of samples read so far.
func (s *FrameSource) Samples() uint64 {
	return s.samples.Load()
}

// To12Bit converts a 16-bit PCM sample to the 12-bit channel range.
func To12Bit(s int16) int16 {
	return s >> 4
}

func clamp(v int) int16 {
	switch {
	case v < int(MinSample):
		return MinSample
	case v > int(MaxSample):
		return MaxSample
	}
	return int16(v)
}
