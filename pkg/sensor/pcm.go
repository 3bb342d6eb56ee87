package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// Encoding is the sample format of a recorded file.
type Encoding string

const (
	// EncodingS16LE is 16-bit signed little-endian PCM.
	EncodingS16LE Encoding = "s16le"
	// EncodingMuLaw is 8-bit G.711 μ-law.
	EncodingMuLaw Encoding = "mulaw"
)

// ErrEmptyRecording is returned for a recording with no samples.
var ErrEmptyRecording = errors.New("recording has no samples")

// PCMChannel replays a mono 16 kHz recording in a loop, scaled to the 12-bit
// channel range.
type PCMChannel struct {
	samples []int16
	pos     int
	loops   int
}

// DecodePCM converts raw recording bytes into channel samples.
func DecodePCM(data []byte, enc Encoding) ([]int16, error) {
	var samples []int16
	switch enc {
	case EncodingS16LE, "":
		samples = make([]int16, len(data)/2)
		for i := range samples {
			samples[i] = To12Bit(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}
	case EncodingMuLaw:
		samples = make([]int16, len(data))
		for i, b := range data {
			samples[i] = To12Bit(MuLawDecode(b))
		}
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
	if len(samples) == 0 {
		return nil, ErrEmptyRecording
	}
	return samples, nil
}

// NewPCMChannel creates a channel replaying data.
func NewPCMChannel(data []byte, enc Encoding) (*PCMChannel, error) {
	samples, err := DecodePCM(data, enc)
	if err != nil {
		return nil, err
	}
	return &PCMChannel{samples: samples}, nil
}

// OpenPCMChannel reads a recording from path.
func OpenPCMChannel(path string, enc Encoding) (*PCMChannel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	ch, err := NewPCMChannel(data, enc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ch, nil
}

// Read implements Channel.
func (c *PCMChannel) Read() int16 {
	s := c.samples[c.pos]
	c.pos++
	if c.pos == len(c.samples) {
		c.pos = 0
		c.loops++
	}
	return s
}

// Len returns the recording length in samples.
func (c *PCMChannel) Len() int { return len(c.samples) }

// Loops returns how many times the recording has wrapped.
func (c *PCMChannel) Loops() int { return c.loops }
