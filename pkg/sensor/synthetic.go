package sensor

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/realtime-ai/footstep/pkg/frame"
)

// SyntheticConfig shapes a SyntheticChannel.
type SyntheticConfig struct {
	// Seed makes the noise reproducible.
	Seed uint64 `mapstructure:"seed"`
	// NoiseAmplitude is the peak of the uniform noise floor.
	NoiseAmplitude int `mapstructure:"noise_amplitude"`
	// StepInterval is the time between footstep onsets. Zero disables steps.
	StepInterval time.Duration `mapstructure:"step_interval"`
	// StepAmplitude is the peak of a footstep impulse.
	StepAmplitude int `mapstructure:"step_amplitude"`
	// StepDecay is the time constant of the impulse envelope.
	StepDecay time.Duration `mapstructure:"step_decay"`
	// StepFrequency is the carrier of the impulse in Hz.
	StepFrequency float64 `mapstructure:"step_frequency"`
}

// DefaultSyntheticConfig returns a walking pace of two steps per second over
// a quiet floor.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Seed:           1,
		NoiseAmplitude: 20,
		StepInterval:   500 * time.Millisecond,
		StepAmplitude:  1800,
		StepDecay:      20 * time.Millisecond,
		StepFrequency:  180,
	}
}

// SyntheticChannel generates a noise floor with decaying footstep impulses
// at a fixed interval. The first impulse starts at sample zero.
type SyntheticChannel struct {
	cfg      SyntheticConfig
	rng      *rand.Rand
	n        int
	interval int
	decay    float64
	omega    float64
}

// NewSyntheticChannel creates a channel from cfg.
func NewSyntheticChannel(cfg SyntheticConfig) *SyntheticChannel {
	c := &SyntheticChannel{
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		interval: int(cfg.StepInterval * frame.SampleRate / time.Second),
		decay:    cfg.StepDecay.Seconds() * frame.SampleRate,
		omega:    2 * math.Pi * cfg.StepFrequency / frame.SampleRate,
	}
	return c
}

// Read implements Channel.
func (c *SyntheticChannel) Read() int16 {
	v := 0.0
	if c.cfg.NoiseAmplitude > 0 {
		v = float64(c.rng.IntN(2*c.cfg.NoiseAmplitude+1) - c.cfg.NoiseAmplitude)
	}
	if c.interval > 0 && c.decay > 0 {
		phase := float64(c.n % c.interval)
		v += float64(c.cfg.StepAmplitude) * math.Exp(-phase/c.decay) * math.Sin(c.omega*phase+math.Pi/2)
	}
	c.n++
	return clamp(int(math.Round(v)))
}
