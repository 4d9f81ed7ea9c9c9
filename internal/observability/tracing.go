package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/geofence/internal/logging"
)

const tracerName = "github.com/signalsfoundry/geofence"

// Exporter names accepted in TracingConfig.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const defaultOTLPEndpoint = "localhost:4317"

// TracingConfig governs how tracing is initialised.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string
	// Endpoint is the OTLP/gRPC collector address.
	Endpoint    string
	SampleRatio float64
	// Output receives stdout-exporter spans; defaults to os.Stdout.
	Output io.Writer
}

// TracingConfigFromEnv reads GEOFENCE_TRACING_* and GEOFENCE_OTLP_ENDPOINT.
// Tracing is off unless GEOFENCE_TRACING_ENABLED is "true"; an unparsable or
// out-of-range sample ratio falls back to 1.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("GEOFENCE_TRACING_ENABLED"), "true"),
		ServiceName: "geofenced",
		Exporter:    ExporterStdout,
		Endpoint:    os.Getenv("GEOFENCE_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if v := os.Getenv("GEOFENCE_TRACING_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("GEOFENCE_TRACING_EXPORTER"); v != "" {
		cfg.Exporter = strings.ToLower(v)
	}
	if v := os.Getenv("GEOFENCE_TRACING_SAMPLE_RATIO"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	return cfg
}

// InitTracing installs the global tracer provider and propagators. With
// tracing disabled a noop provider is installed. The returned function
// flushes and stops the provider.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNoop(log)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "geofence"),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(newSampler(cfg.SampleRatio)),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

// newSampler respects the parent decision and samples root spans by ratio.
func newSampler(ratio float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case ratio >= 1:
		root = sdktrace.AlwaysSample()
	case ratio <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(ratio)
	}
	return sdktrace.ParentBased(root)
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case ExporterStdout, "":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	case ExporterOTLP, "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("tracing: unsupported exporter %q", cfg.Exporter)
	}
}

// StartSpan starts a span on the service tracer tagged with the entity it
// acts on. Empty entity fields are omitted.
func StartSpan(ctx context.Context, name, entityType, entityID string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(extra)+2)
	if entityType != "" {
		attrs = append(attrs, attribute.String("entity_type", entityType))
	}
	if entityID != "" {
		attrs = append(attrs, attribute.String("entity_id", entityID))
	}
	attrs = append(attrs, extra...)
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// ShutdownWithTimeout calls shutdown with a five second bound and logs any
// failure instead of returning it.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logging.OrNoop(log).Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
