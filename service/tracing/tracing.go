package tracing

import (
	"context"
	"io"
	"path/filepath"

	"github.com/khaledhikmat/vs-classifier/service/config"
	"github.com/natefinch/lumberjack"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/xerrors"
)

const (
	serviceName = "vs-classifier"
	tracesFile  = "traces.log"
)

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(ctx context.Context) error

// Configure installs the global tracer provider for the configured exporter.
// With "none" every tracer is a no-op.
func Configure(cfgSvc config.IService) (ShutdownFunc, error) {
	switch exporter := cfgSvc.GetTracingExporter(); exporter {
	case config.TracingExporterNone, "":
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil

	case config.TracingExporterStdout:
		// Spans are written to a rotating file under the logs folder, never to stdout
		w := &lumberjack.Logger{
			Filename:   filepath.Join(cfgSvc.GetLogsFolder(), tracesFile),
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		}

		provider, err := newProvider(w)
		if err != nil {
			w.Close()
			return nil, err
		}
		otel.SetTracerProvider(provider)

		return func(ctx context.Context) error {
			err := provider.Shutdown(ctx)
			if cerr := w.Close(); err == nil {
				err = cerr
			}
			return err
		}, nil

	default:
		return nil, xerrors.Errorf("unknown tracing exporter %q", exporter)
	}
}

func newProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, xerrors.Errorf("create trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	), nil
}
