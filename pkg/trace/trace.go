// Package trace wires OpenTelemetry tracing for the detector.
//
// Initialize installs a global tracer provider with a stdout, OTLP/gRPC or
// no-op exporter. Until it is called, GetTracer returns the global no-op
// tracer, so instrumented code runs unchanged in tests.
package trace

import (
	"context"
	"fmt"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

const (
	// TracerName is the name of the tracer used by the detector.
	TracerName = "github.com/realtime-ai/footstep"
)

// Exporter types.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterNone   = "none"
)

var (
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	mu             sync.RWMutex
)

// Config holds the configuration for tracing.
type Config struct {
	// ServiceName is the name of the service.
	ServiceName string `mapstructure:"service_name"`
	// ServiceVersion is the version of the service.
	ServiceVersion string `mapstructure:"service_version"`
	// Environment is the deployment environment (dev, staging, prod).
	Environment string `mapstructure:"environment"`
	// ExporterType defines which exporter to use: "stdout", "otlp", or "none".
	ExporterType string `mapstructure:"exporter"`
	// OTLPEndpoint is the collector address for the OTLP exporter.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	// Insecure disables TLS towards the collector.
	Insecure bool `mapstructure:"insecure"`
	// SamplingRate is the fraction of root spans sampled (0.0 to 1.0).
	// Cycle spans are emitted every 10ms, so production setups sample.
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// DefaultConfig returns a configuration with tracing disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "footstepd",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		ExporterType:   ExporterNone,
		OTLPEndpoint:   "localhost:4317",
		Insecure:       true,
		SamplingRate:   0.01,
	}
}

func newExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exporter, nil
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName + "/" + cfg.ServiceVersion)),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exporter, nil
	case ExporterNone, "":
		return &noopExporter{}, nil
	}
	return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
}

// newResource describes the service on top of the SDK defaults. The semconv
// package must match the schema of resource.Default or Merge fails.
func newResource(cfg *Config) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// Initialize sets up the global tracer provider.
func Initialize(ctx context.Context, cfg *Config) error {
	mu.Lock()
	defer mu.Unlock()

	if tracerProvider != nil {
		return fmt.Errorf("tracer provider already initialized")
	}
	if cfg.SamplingRate < 0 || cfg.SamplingRate > 1 {
		return fmt.Errorf("sampling rate %v out of range [0, 1]", cfg.SamplingRate)
	}

	res, err := newResource(cfg)
	if err != nil {
		return err
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return err
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	tracer = tracerProvider.Tracer(TracerName)

	log.Printf("[Trace] Tracing initialized: exporter=%s sampling=%.3f", cfg.ExporterType, cfg.SamplingRate)
	return nil
}

// Shutdown flushes pending spans and shuts down the tracer provider.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()

	if tracerProvider == nil {
		return nil
	}

	if err := tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	tracerProvider = nil
	tracer = nil
	return nil
}

// GetTracer returns the global tracer.
func GetTracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()

	if tracer == nil {
		return otel.Tracer(TracerName)
	}
	return tracer
}

// StartSpan starts a span with the global tracer.
func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, spanName, opts...)
}

// noopExporter drops every span.
type noopExporter struct{}

func (e *noopExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (e *noopExporter) Shutdown(ctx context.Context) error {
	return nil
}
