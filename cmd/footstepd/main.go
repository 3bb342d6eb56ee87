// Command footstepd runs the footstep detector on a host.
//
// Configuration is read from the file named by -config or $FOOTSTEP_CONFIG
// and from FOOTSTEP_* environment variables (see pkg/config). A .env file in
// the working directory is loaded first.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dimiro1/banner"
	"github.com/joho/godotenv"

	"github.com/realtime-ai/footstep/pkg/config"
	"github.com/realtime-ai/footstep/pkg/detector"
	"github.com/realtime-ai/footstep/pkg/engine"
	"github.com/realtime-ai/footstep/pkg/events"
	"github.com/realtime-ai/footstep/pkg/model"
	"github.com/realtime-ai/footstep/pkg/sensor"
	"github.com/realtime-ai/footstep/pkg/sensor/mic"
	"github.com/realtime-ai/footstep/pkg/server"
	"github.com/realtime-ai/footstep/pkg/trace"
)

const bannerTemplate = `{{ .Title "footstepd" "" 0 }}
{{ .AnsiColor.BrightCyan }}model schema {{ .AnsiColor.Default }}` + "%d" + `
{{ .AnsiColor.BrightCyan }}go           {{ .AnsiColor.Default }}{{ .GoVersion }} {{ .GOOS }}/{{ .GOARCH }}
`

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Banner {
		printBanner()
	}

	os.Exit(run(cfg))
}

func printBanner() {
	tpl := fmt.Sprintf(bannerTemplate, model.SchemaVersion)
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

func run(cfg config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceCfg := cfg.Trace
	if err := trace.Initialize(ctx, &traceCfg); err != nil {
		log.Printf("Failed to initialize tracing: %v", err)
		return 1
	}
	defer func() {
		if err := trace.Shutdown(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracing: %v", err)
		}
	}()

	modelData, err := cfg.Model.LoadModel()
	if err != nil {
		log.Printf("Failed to load model: %v", err)
		return 1
	}

	backend, err := newBackend(cfg.Engine)
	if err != nil {
		log.Printf("Failed to create backend: %v", err)
		return 1
	}

	ch, closeSource, err := newChannel(cfg.Sensor)
	if err != nil {
		log.Printf("Failed to open sensor: %v", err)
		return 1
	}
	defer closeSource()

	bus := events.NewBus()
	det := detector.New(detectorOptions(cfg, modelData, backend, sensor.NewFrameSource(ch), bus))
	defer det.Close()

	if cfg.Events.Enabled {
		srv := server.NewEventServer(server.EventServerConfig{
			Address:      cfg.Events.ListenAddr,
			WriteTimeout: cfg.Events.WriteTimeout,
			ClientBuffer: cfg.Events.ClientBuffer,
		}, bus, det)
		if err := srv.Start(); err != nil {
			log.Printf("Failed to start event server: %v", err)
			return 1
		}
		defer srv.Stop()
	}

	log.Printf("[footstepd] Run %s: backend=%s source=%s delay=%v", det.RunID(), backend.Name(), cfg.Sensor.Source, cfg.CycleDelay())

	err = det.Run(ctx)

	var fatal *detector.FatalError
	if errors.As(err, &fatal) {
		// A halted detector stays halted; the process only leaves on a signal.
		log.Printf("[footstepd] Halted, waiting for termination")
		<-ctx.Done()
		return 1
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[footstepd] Detector stopped: %v", err)
		return 1
	}

	log.Printf("[footstepd] %s", summary(det.Stats()))
	return 0
}

func detectorOptions(cfg config.Config, modelData []byte, backend engine.Backend, source *sensor.FrameSource, bus *events.Bus) detector.Options {
	return detector.Options{
		Model:     modelData,
		Backend:   backend,
		Source:    source,
		Sink:      events.LogSink{},
		Bus:       bus,
		Delay:     cfg.CycleDelay(),
		Budget:    cfg.Detector.Budget,
		ArenaSize: cfg.Engine.ArenaSize,
		OnHalt: func(err *detector.FatalError) {
			log.Printf("[footstepd] Detector halted: %v", err)
		},
	}
}

func summary(stats detector.Stats) string {
	return fmt.Sprintf("Stopped after %d cycles, %d events, %d inference failures, %d overruns",
		stats.Cycles, stats.Events, stats.InferenceFailures, stats.Overruns)
}

func newBackend(cfg config.EngineConfig) (engine.Backend, error) {
	switch cfg.Backend {
	case config.BackendONNX:
		return engine.NewONNXBackend(cfg.ONNXLibrary)
	default:
		return engine.NewMicroBackend(), nil
	}
}

func newChannel(cfg config.SensorConfig) (sensor.Channel, func(), error) {
	switch cfg.Source {
	case config.SourcePCM:
		ch, err := sensor.OpenPCMChannel(cfg.PCMPath, sensor.Encoding(cfg.PCMEncoding))
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[footstepd] Replaying %s (%d samples)", cfg.PCMPath, ch.Len())
		return ch, func() {}, nil
	case config.SourceMic:
		capture, err := mic.Open()
		if err != nil {
			return nil, nil, err
		}
		return capture.Channel(), closer(capture), nil
	default:
		return sensor.NewSyntheticChannel(cfg.Synthetic), func() {}, nil
	}
}

func closer(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Printf("[footstepd] Close failed: %v", err)
		}
	}
}
