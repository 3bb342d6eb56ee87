package sensor

import (
	"encoding/binary"
	"sync"
	"time"
)

// DefaultReadTimeout bounds how long RingChannel.Read waits for a sample.
const DefaultReadTimeout = 50 * time.Millisecond

// RingChannel is a fixed-capacity FIFO of samples fed by a capture callback
// and drained by the detection loop.
//
// When full, writes overwrite the oldest samples. When empty, Read waits up to
// the read timeout for a writer and then returns silence. After a timeout the
// ring is stalled: empty reads return silence at once until the next Write,
// so a dead device costs one timeout per stall rather than one per sample.
type RingChannel struct {
	data     []int16
	capacity int
	readPos  int
	size     int
	timeout  time.Duration
	notify   chan struct{}

	stalled   bool
	overflows uint64
	underruns uint64
	mu        sync.Mutex
}

// NewRingChannel creates a ring holding durationMs of samples at sampleRate.
func NewRingChannel(sampleRate, durationMs int) *RingChannel {
	capacity := sampleRate * durationMs / 1000
	if capacity < 1 {
		capacity = 1
	}
	return &RingChannel{
		data:     make([]int16, capacity),
		capacity: capacity,
		timeout:  DefaultReadTimeout,
		notify:   make(chan struct{}, 1),
	}
}

// SetReadTimeout changes how long Read waits on an empty ring.
func (rb *RingChannel) SetReadTimeout(d time.Duration) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.timeout = d
}

// Write appends samples. If the ring is full, the oldest samples are dropped.
func (rb *RingChannel) Write(samples []int16) {
	if len(samples) == 0 {
		return
	}

	rb.mu.Lock()
	for _, s := range samples {
		writePos := (rb.readPos + rb.size) % rb.capacity
		rb.data[writePos] = s
		if rb.size == rb.capacity {
			rb.readPos = (rb.readPos + 1) % rb.capacity
			rb.overflows++
		} else {
			rb.size++
		}
	}
	rb.stalled = false
	rb.mu.Unlock()

	select {
	case rb.notify <- struct{}{}:
	default:
	}
}

// WritePCM16 appends s16le PCM bytes, converting them to the 12-bit range.
// A trailing odd byte is ignored.
func (rb *RingChannel) WritePCM16(pcm []byte) {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = To12Bit(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	rb.Write(samples)
}

// Read implements Channel.
func (rb *RingChannel) Read() int16 {
	if s, ok := rb.pop(); ok {
		return s
	}

	rb.mu.Lock()
	if rb.stalled {
		rb.underruns++
		rb.mu.Unlock()
		return 0
	}
	timeout := rb.timeout
	rb.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-rb.notify:
			if s, ok := rb.pop(); ok {
				return s
			}
		case <-timer.C:
			if s, ok := rb.pop(); ok {
				return s
			}
			rb.mu.Lock()
			rb.stalled = true
			rb.underruns++
			rb.mu.Unlock()
			return 0
		}
	}
}

func (rb *RingChannel) pop() (int16, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.size == 0 {
		return 0, false
	}
	s := rb.data[rb.readPos]
	rb.readPos = (rb.readPos + 1) % rb.capacity
	rb.size--
	return s, true
}

// Size returns the number of buffered samples.
func (rb *RingChannel) Size() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Capacity returns the ring capacity in samples.
func (rb *RingChannel) Capacity() int {
	return rb.capacity
}

// Overflows returns the number of samples dropped because the ring was full.
func (rb *RingChannel) Overflows() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.overflows
}

// Stalled reports whether the last empty read timed out with no write since.
func (rb *RingChannel) Stalled() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.stalled
}

// Underruns returns the number of reads that returned silence.
func (rb *RingChannel) Underruns() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.underruns
}
