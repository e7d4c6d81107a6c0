package observability

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"example.com/fitsync/internal/platform/logger"
)

// TracingConfig describes the process installing the tracer provider.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Version     string
}

var (
	tracingOnce     sync.Once
	tracingShutdown = func(context.Context) error { return nil }
)

// InitTracing installs an SDK tracer provider exporting to stdout. When tracing is disabled the
// global no-op provider stays in place. The returned function flushes and stops the provider.
func InitTracing(ctx context.Context, log *logger.Logger, cfg TracingConfig) func(context.Context) error {
	tracingOnce.Do(func() {
		if !cfg.Enabled {
			return
		}
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = "fitsync"
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", strings.TrimSpace(cfg.Version)),
		))
		if err != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		exporter, err := stdouttrace.New()
		if err != nil {
			log.Warn("otel exporter init failed, tracing disabled", "error", err)
			return
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		tracingShutdown = tp.Shutdown
		log.Info("otel tracing initialized", "service", serviceName)
	})
	return tracingShutdown
}
