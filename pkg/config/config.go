// Package config loads the host runner configuration.
//
// Values come from defaults, an optional YAML file and FOOTSTEP_-prefixed
// environment variables, in increasing order of precedence. Nested keys map
// to environment names by replacing dots with underscores, so
// sensor.pcm_path is FOOTSTEP_SENSOR_PCM_PATH.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/realtime-ai/footstep/pkg/detector"
	"github.com/realtime-ai/footstep/pkg/engine"
	"github.com/realtime-ai/footstep/pkg/model"
	"github.com/realtime-ai/footstep/pkg/sensor"
	"github.com/realtime-ai/footstep/pkg/trace"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FOOTSTEP"

// EnvConfigFile names the variable holding the config file path.
const EnvConfigFile = "FOOTSTEP_CONFIG"

// Backend names.
const (
	BackendMicro = "micro"
	BackendONNX  = "onnx"
)

// Sensor source names.
const (
	SourceSynthetic = "synthetic"
	SourcePCM       = "pcm"
	SourceMic       = "mic"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the footstepd configuration.
type Config struct {
	Model    ModelConfig    `mapstructure:"model"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Sensor   SensorConfig   `mapstructure:"sensor"`
	Detector DetectorConfig `mapstructure:"detector"`
	Events   EventsConfig   `mapstructure:"events"`
	Trace    trace.Config   `mapstructure:"trace"`
	Banner   bool           `mapstructure:"banner"`
}

// ModelConfig selects the model artifact.
type ModelConfig struct {
	// Path overrides the embedded model. Empty uses the embedded one.
	Path string `mapstructure:"path"`
}

// EngineConfig selects the inference backend.
type EngineConfig struct {
	Backend     string `mapstructure:"backend"`
	ONNXLibrary string `mapstructure:"onnx_library"`
	ArenaSize   int    `mapstructure:"arena_size"`
}

// SensorConfig selects the frame source.
type SensorConfig struct {
	Source      string                 `mapstructure:"source"`
	PCMPath     string                 `mapstructure:"pcm_path"`
	PCMEncoding string                 `mapstructure:"pcm_encoding"`
	Synthetic   sensor.SyntheticConfig `mapstructure:"synthetic"`
}

// DetectorConfig sets the loop cadence.
type DetectorConfig struct {
	// Delay is the pause after each cycle. Zero picks it from the source:
	// none for mic, whose reads already pace the loop, and
	// detector.DefaultDelay otherwise. Negative disables it.
	Delay time.Duration `mapstructure:"delay"`
	// Budget is the per-cycle processing time before an overrun is
	// counted. Zero uses frame.Duration.
	Budget time.Duration `mapstructure:"budget"`
}

// EventsConfig configures the event server.
type EventsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ListenAddr   string        `mapstructure:"listen_addr"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	ClientBuffer int           `mapstructure:"client_buffer"`
}

func setDefaults(v *viper.Viper) {
	syn := sensor.DefaultSyntheticConfig()
	tr := trace.DefaultConfig()

	v.SetDefault("model.path", "")
	v.SetDefault("engine.backend", BackendMicro)
	v.SetDefault("engine.onnx_library", "")
	v.SetDefault("engine.arena_size", engine.DefaultArenaSize)
	v.SetDefault("sensor.source", SourceSynthetic)
	v.SetDefault("sensor.pcm_path", "")
	v.SetDefault("sensor.pcm_encoding", string(sensor.EncodingS16LE))
	v.SetDefault("sensor.synthetic.seed", syn.Seed)
	v.SetDefault("sensor.synthetic.noise_amplitude", syn.NoiseAmplitude)
	v.SetDefault("sensor.synthetic.step_interval", syn.StepInterval)
	v.SetDefault("sensor.synthetic.step_amplitude", syn.StepAmplitude)
	v.SetDefault("sensor.synthetic.step_decay", syn.StepDecay)
	v.SetDefault("sensor.synthetic.step_frequency", syn.StepFrequency)
	v.SetDefault("detector.delay", time.Duration(0))
	v.SetDefault("detector.budget", time.Duration(0))
	v.SetDefault("events.enabled", true)
	v.SetDefault("events.listen_addr", ":8090")
	v.SetDefault("events.write_timeout", 2*time.Second)
	v.SetDefault("events.client_buffer", 64)
	v.SetDefault("trace.service_name", tr.ServiceName)
	v.SetDefault("trace.service_version", tr.ServiceVersion)
	v.SetDefault("trace.environment", tr.Environment)
	v.SetDefault("trace.exporter", tr.ExporterType)
	v.SetDefault("trace.otlp_endpoint", tr.OTLPEndpoint)
	v.SetDefault("trace.insecure", tr.Insecure)
	v.SetDefault("trace.sampling_rate", tr.SamplingRate)
	v.SetDefault("banner", true)
}

// Load reads the configuration. An empty path falls back to $FOOTSTEP_CONFIG;
// with neither set, only defaults and environment variables apply.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the combination of settings.
func (c Config) Validate() error {
	switch c.Engine.Backend {
	case BackendMicro, BackendONNX:
	default:
		return fmt.Errorf("%w: engine.backend %q (want %s or %s)", ErrInvalidConfig, c.Engine.Backend, BackendMicro, BackendONNX)
	}
	if c.Engine.ArenaSize <= 0 {
		return fmt.Errorf("%w: engine.arena_size must be positive, got %d", ErrInvalidConfig, c.Engine.ArenaSize)
	}

	switch c.Sensor.Source {
	case SourceSynthetic, SourceMic:
	case SourcePCM:
		if c.Sensor.PCMPath == "" {
			return fmt.Errorf("%w: sensor.pcm_path is required for the pcm source", ErrInvalidConfig)
		}
		switch sensor.Encoding(c.Sensor.PCMEncoding) {
		case sensor.EncodingS16LE, sensor.EncodingMuLaw:
		default:
			return fmt.Errorf("%w: sensor.pcm_encoding %q", ErrInvalidConfig, c.Sensor.PCMEncoding)
		}
	default:
		return fmt.Errorf("%w: sensor.source %q", ErrInvalidConfig, c.Sensor.Source)
	}

	if c.Detector.Budget < 0 {
		return fmt.Errorf("%w: detector.budget must not be negative", ErrInvalidConfig)
	}

	if c.Events.Enabled {
		if c.Events.ListenAddr == "" {
			return fmt.Errorf("%w: events.listen_addr is required when events are enabled", ErrInvalidConfig)
		}
		if c.Events.WriteTimeout <= 0 {
			return fmt.Errorf("%w: events.write_timeout must be positive", ErrInvalidConfig)
		}
	}

	switch c.Trace.ExporterType {
	case trace.ExporterNone, trace.ExporterStdout, trace.ExporterOTLP:
	default:
		return fmt.Errorf("%w: trace.exporter %q", ErrInvalidConfig, c.Trace.ExporterType)
	}
	if c.Trace.SamplingRate < 0 || c.Trace.SamplingRate > 1 {
		return fmt.Errorf("%w: trace.sampling_rate %v out of [0, 1]", ErrInvalidConfig, c.Trace.SamplingRate)
	}
	return nil
}

// CycleDelay returns the post-cycle delay to hand to the detector, where a
// negative value disables it.
func (c Config) CycleDelay() time.Duration {
	if c.Detector.Delay != 0 {
		return c.Detector.Delay
	}
	if c.Sensor.Source == SourceMic {
		return -1
	}
	return detector.DefaultDelay
}

// LoadModel returns the configured model bytes: the file at Path, or the
// embedded default.
func (m ModelConfig) LoadModel() ([]byte, error) {
	if m.Path == "" {
		return model.Embedded(), nil
	}
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return data, nil
}
