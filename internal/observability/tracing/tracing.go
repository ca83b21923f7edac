// Package tracing bootstraps the engine's OpenTelemetry tracer provider
// with an OTLP-over-HTTP exporter and owns the "ragengine/<component>"
// tracer-naming convention used across the pipeline and query paths.
package tracing

import (
	"context"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/semaj90/ragengine/internal/models"
)

const defaultSampleRatio = 0.1

// Tracer returns a tracer scoped to one engine component, e.g.
// Tracer("pipeline") names spans under "ragengine/pipeline".
func Tracer(component string) oteltrace.Tracer {
	return otel.Tracer("ragengine/" + component)
}

// sampleRatio reads TRACE_SAMPLE_RATIO, defaulting to sampling 10% of
// root traces; ingestion fans out into many embedding spans per document,
// so full sampling floods the collector under bulk uploads.
func sampleRatio() float64 {
	v := os.Getenv("TRACE_SAMPLE_RATIO")
	if v == "" {
		return defaultSampleRatio
	}
	r, err := strconv.ParseFloat(v, 64)
	if err != nil || r < 0 || r > 1 {
		return defaultSampleRatio
	}
	return r
}

// Init configures the global TracerProvider with an OTLP HTTP exporter and
// returns its shutdown function.
func Init(ctx context.Context, serviceName string, log *zap.Logger) (func(context.Context) error, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4318"
	}

	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint+"/v1/traces"))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(os.Getenv("BUILD_VERSION")),
			attribute.String("deployment.environment", os.Getenv("DEPLOY_ENV")),
			attribute.Int("ragengine.embedding.dim", models.EmbeddingDim),
		),
	)
	if err != nil {
		return nil, err
	}

	ratio := sampleRatio()
	tp := trace.NewTracerProvider(
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(ratio))),
		trace.WithBatcher(exp, trace.WithBatchTimeout(5*time.Second)),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if log != nil {
		log.Info("tracing initialized",
			zap.String("service", serviceName),
			zap.String("exporter", endpoint),
			zap.Float64("sampleRatio", ratio))
	}
	return tp.Shutdown, nil
}
