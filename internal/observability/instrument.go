// Package observability sets up logging, log export and metrics for the process.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ServiceName identifies the process in exported telemetry.
const ServiceName = "ccbridge"

// Exporter names for logs and metrics.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// Options configure Instrument.
type Options struct {
	Level  slog.Level
	Format string // text|json

	// File enables a rotating log file in addition to stdout.
	File           string
	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int

	// LogExporter ships logs through OpenTelemetry (none|stdout|otlp-http|otlp-grpc).
	LogExporter string
	// MetricsExporter ships metrics (none|stdout|otlp-http).
	MetricsExporter string
}

// ShutdownFunc flushes and releases telemetry pipelines.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger and the global OpenTelemetry providers.
// The returned function must be called on exit to flush exporters.
func Instrument(ctx context.Context, opts Options) (ShutdownFunc, error) {
	var shutdowns []ShutdownFunc
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return errors.Join(errs...)
	}

	stdout, err := newStdoutHandler(os.Stdout, opts.Level, opts.Format)
	if err != nil {
		return nil, err
	}
	handlers := []slog.Handler{stdout}

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.FileMaxSizeMB,
			MaxBackups: opts.FileMaxBackups,
			MaxAge:     opts.FileMaxAgeDays,
			Compress:   true,
		}
		shutdowns = append(shutdowns, func(context.Context) error { return rotator.Close() })

		// Files are read by machines; always JSON.
		handlers = append(handlers, slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: opts.Level}))
	}

	if exporter := strings.ToLower(opts.LogExporter); exporter != "" && exporter != ExporterNone {
		provider, err := newLoggerProvider(ctx, exporter, opts.Level)
		if err != nil {
			return nil, errors.Join(err, shutdown(ctx))
		}
		shutdowns = append(shutdowns, provider.Shutdown)
		handlers = append(handlers, otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(provider)))
	}

	meterShutdown, err := setupMetrics(ctx, opts.MetricsExporter)
	if err != nil {
		return nil, errors.Join(err, shutdown(ctx))
	}
	shutdowns = append(shutdowns, meterShutdown)

	// W3C trace context is accepted on inbound requests and forwarded upstream.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	var handler slog.Handler = handlers[0]
	if len(handlers) > 1 {
		handler = newFanoutHandler(handlers...)
	}
	slog.SetDefault(slog.New(newCorrelationHandler(handler)))

	return shutdown, nil
}

// newStdoutHandler creates a handler for human-readable logs.
func newStdoutHandler(w io.Writer, level slog.Level, logFormat string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected: json, text)", logFormat)
	}

	return handler, nil
}

// newLoggerProvider builds an OpenTelemetry log pipeline. Records below level are
// dropped before export.
func newLoggerProvider(ctx context.Context, exporter string, level slog.Level) (*sdklog.LoggerProvider, error) {
	var (
		exp sdklog.Exporter
		err error
	)
	switch exporter {
	case ExporterStdout:
		exp, err = stdoutlog.New()
	case ExporterOTLPHTTP:
		exp, err = otlploghttp.New(ctx)
	case ExporterOTLPGRPC:
		exp, err = otlploggrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported log exporter %q (expected: none, stdout, otlp-http, otlp-grpc)", exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s log exporter: %w", exporter, err)
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exp), severityFor(level))
	return sdklog.NewLoggerProvider(sdklog.WithProcessor(processor)), nil
}

// severityFor maps slog levels to OpenTelemetry severities.
func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
