package tracing

import (
	"context"
	"fmt"
	"time"

	"wamux/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "wamux"
	shutdownTimeout = 5 * time.Second

	// SessionKey tags spans with the wamux session they act on.
	SessionKey = attribute.Key("wamux.session")
)

// TracingManager owns the process-wide tracer provider. HTTP requests,
// webhook deliveries and outbound sends each open spans on it.
type TracingManager struct {
	config         models.TracingConfig
	logger         *logrus.Logger
	tracerProvider *trace.TracerProvider
}

func NewTracingManager(config models.TracingConfig, logger *logrus.Logger) *TracingManager {
	return &TracingManager{
		config: config,
		logger: logger,
	}
}

// Initialize installs the global provider. With tracing disabled the otel
// no-op provider stays in place and every span helper is free.
func (tm *TracingManager) Initialize(ctx context.Context) error {
	if !tm.config.Enabled {
		tm.logger.Info("Tracing disabled")
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tm.config.ServiceName),
			semconv.ServiceVersionKey.String(tm.config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(tm.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to build trace resource: %w", err)
	}

	exporter, err := tm.newExporter(ctx)
	if err != nil {
		return err
	}

	// Sessions started from an inbound traced request keep the caller's decision.
	tm.tracerProvider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(tm.config.SampleRate))),
	)
	otel.SetTracerProvider(tm.tracerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tm.logger.WithFields(logrus.Fields{
		"service":     tm.config.ServiceName,
		"sample_rate": tm.config.SampleRate,
	}).Info("Tracing initialized")
	return nil
}

func (tm *TracingManager) newExporter(ctx context.Context) (trace.SpanExporter, error) {
	if tm.config.UseStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		tm.logger.Info("Exporting traces to stdout")
		return exporter, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(tm.config.OTLPEndpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	tm.logger.WithField("endpoint", tm.config.OTLPEndpoint).Info("Exporting traces over OTLP HTTP")
	return exporter, nil
}

// Shutdown flushes pending spans. Safe to call when tracing never started.
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	if tm.tracerProvider == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := tm.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to flush traces: %w", err)
	}
	tm.logger.Info("Tracing stopped")
	return nil
}

func StartSpan(ctx context.Context, spanName string, attributes ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, oteltrace.WithAttributes(attributes...))
}

// StartSessionSpan opens a span for an operation on one session.
func StartSessionSpan(ctx context.Context, spanName, sessionID string, attributes ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return StartSpan(ctx, spanName, append([]attribute.KeyValue{SessionKey.String(sessionID)}, attributes...)...)
}

func AddSpanAttributes(ctx context.Context, attributes ...attribute.KeyValue) {
	if span := oteltrace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attributes...)
	}
}

func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	if span := oteltrace.SpanFromContext(ctx); span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error, attributes ...attribute.KeyValue) {
	if span := oteltrace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err, oteltrace.WithAttributes(attributes...))
		span.SetStatus(codes.Error, err.Error())
	}
}

// GetOtelTraceID returns the otel trace id in ctx, or "".
func GetOtelTraceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// WithOtelTracing starts a span and copies its ids into the request info
// keys, so access logs and error bodies carry the exported trace id.
func WithOtelTracing(ctx context.Context, spanName string, attributes ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	ctx, span := StartSpan(ctx, spanName, attributes...)

	sc := span.SpanContext()
	if sc.HasTraceID() {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}
	if sc.HasSpanID() {
		ctx = WithSpanID(ctx, sc.SpanID().String())
	}
	return ctx, span
}
