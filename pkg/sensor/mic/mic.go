// Package mic captures the default input device into a sensor.RingChannel.
package mic

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/realtime-ai/footstep/pkg/frame"
	"github.com/realtime-ai/footstep/pkg/sensor"
)

const (
	CaptureChannels = 1
	// PeriodMilliseconds is the device callback period.
	PeriodMilliseconds = 10
	// BufferMilliseconds is how much audio the ring holds before dropping.
	BufferMilliseconds = 200
)

// device is the part of *malgo.Device that Close needs.
type device interface {
	Stop() error
	Uninit()
}

// audioContext is the part of *malgo.AllocatedContext that Close needs.
type audioContext interface {
	Uninit() error
	Free()
}

// Capture is a running capture device.
type Capture struct {
	audioContext  audioContext
	captureDevice device
	ring          *sensor.RingChannel

	closeOnce sync.Once
	closeErr  error
}

// Open starts capturing mono 16-bit audio at the frame sample rate. The
// device delivers samples straight into the returned capture's channel.
func Open() (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	c := &Capture{
		audioContext: ctx,
		ring:         sensor.NewRingChannel(frame.SampleRate, BufferMilliseconds),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.PeriodSizeInMilliseconds = PeriodMilliseconds
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = CaptureChannels
	deviceConfig.SampleRate = frame.SampleRate
	deviceConfig.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(outputSamples, inputSamples []byte, framecount uint32) {
			c.ring.WritePCM16(inputSamples)
		},
	})
	if err != nil {
		c.freeContext()
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := dev.Start(); err != nil {
		dev.Uninit()
		c.freeContext()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}
	c.captureDevice = dev

	log.Printf("[Mic] Capture started: %d Hz, %d channel, %d ms period", frame.SampleRate, CaptureChannels, PeriodMilliseconds)
	return c, nil
}

// Channel returns the sensor channel fed by the device.
func (c *Capture) Channel() *sensor.RingChannel {
	return c.ring
}

// Close stops the device and releases the audio context. Later calls
// return the first call's error.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		var stopErr error
		if c.captureDevice != nil {
			if err := c.captureDevice.Stop(); err != nil {
				stopErr = fmt.Errorf("failed to stop capture device: %w", err)
			}
			c.captureDevice.Uninit()
		}
		c.closeErr = errors.Join(stopErr, c.freeContext())
		log.Printf("[Mic] Capture stopped: overflows=%d underruns=%d", c.ring.Overflows(), c.ring.Underruns())
	})
	return c.closeErr
}

func (c *Capture) freeContext() error {
	defer c.audioContext.Free()
	if err := c.audioContext.Uninit(); err != nil {
		return fmt.Errorf("failed to uninitialize audio context: %w", err)
	}
	return nil
}
