package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"phone-gateway/internal/config"
	"phone-gateway/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "phone-gateway"

// Manager owns the tracer provider lifecycle.
type Manager struct {
	cfg      config.TracingConfig
	env      string
	log      *slog.Logger
	provider *sdktrace.TracerProvider
}

func NewManager(cfg config.TracingConfig, env string, log *slog.Logger) *Manager {
	return &Manager{cfg: cfg, env: env, log: logger.Component(log, "tracing")}
}

// Initialize installs the global tracer provider. It is a no-op when tracing is disabled,
// in which case otel's default no-op provider stays in place.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.log.Info("tracing disabled")
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", instrumentationName),
			attribute.String("deployment.environment", m.env),
		),
	)
	if err != nil {
		return fmt.Errorf("tracing resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch m.cfg.Exporter {
	case "otlp":
		opts := []otlptracehttp.Option{}
		if m.cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(m.cfg.Endpoint))
		}
		if m.env == "local" || m.env == "dev" {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		exporter, err = stdouttrace.New()
	}
	if err != nil {
		return fmt.Errorf("tracing exporter %s: %w", m.cfg.Exporter, err)
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.cfg.SampleRate))),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	m.log.Info("tracing initialized", "exporter", m.cfg.Exporter, "sample_rate", m.cfg.SampleRate)
	return nil
}

func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracing shutdown: %w", err)
	}
	return nil
}

// StartSpan starts a span on the gateway tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	span := oteltrace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
