package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const metricsExportInterval = 30 * time.Second

// setupMetrics installs the global meter provider. Without an exporter the
// global no-op provider stays in place.
func setupMetrics(ctx context.Context, exporter string) (ShutdownFunc, error) {
	var (
		exp sdkmetric.Exporter
		err error
	)
	switch strings.ToLower(exporter) {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
		exp, err = stdoutmetric.New()
	case ExporterOTLPHTTP:
		exp, err = otlpmetrichttp.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter %q (expected: none, stdout, otlp-http)", exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s metrics exporter: %w", exporter, err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(metricsExportInterval))),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}

// Metrics records gateway counters. A nil *Metrics records nothing.
type Metrics struct {
	requests       metric.Int64Counter
	retries        metric.Int64Counter
	streamOutcomes metric.Int64Counter
	tokens         metric.Int64Counter
}

// NewMetrics creates the gateway instruments on the global meter provider.
func NewMetrics() *Metrics {
	meter := otel.Meter(ServiceName)
	m := &Metrics{}

	var err error
	if m.requests, err = meter.Int64Counter("ccbridge.requests",
		metric.WithDescription("Chat completion requests by route, mode and status class"),
		metric.WithUnit("{request}"),
	); err != nil {
		slog.Warn("failed to create metric", "metric", "ccbridge.requests", "error", err)
	}
	if m.retries, err = meter.Int64Counter("ccbridge.upstream.retries",
		metric.WithDescription("Upstream retries after rate limiting or overload"),
		metric.WithUnit("{retry}"),
	); err != nil {
		slog.Warn("failed to create metric", "metric", "ccbridge.upstream.retries", "error", err)
	}
	if m.streamOutcomes, err = meter.Int64Counter("ccbridge.stream.outcomes",
		metric.WithDescription("Streamed connections by how they ended"),
		metric.WithUnit("{stream}"),
	); err != nil {
		slog.Warn("failed to create metric", "metric", "ccbridge.stream.outcomes", "error", err)
	}
	if m.tokens, err = meter.Int64Counter("ccbridge.tokens",
		metric.WithDescription("Tokens reported by the upstream, by type"),
		metric.WithUnit("{token}"),
	); err != nil {
		slog.Warn("failed to create metric", "metric", "ccbridge.tokens", "error", err)
	}
	return m
}

// RecordRequest counts a finished request.
func (m *Metrics) RecordRequest(ctx context.Context, route string, stream bool, status int) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.Bool("stream", stream),
		attribute.String("status_class", fmt.Sprintf("%dxx", status/100)),
	))
}

// RecordRetry counts an upstream retry.
func (m *Metrics) RecordRetry(ctx context.Context, status int) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", status)))
}

// RecordStreamOutcome counts how a streamed connection ended.
func (m *Metrics) RecordStreamOutcome(ctx context.Context, outcome string) {
	if m == nil || m.streamOutcomes == nil {
		return
	}
	m.streamOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTokens counts prompt and completion tokens of a response.
func (m *Metrics) RecordTokens(ctx context.Context, deployment string, prompt, completion int) {
	if m == nil || m.tokens == nil {
		return
	}
	m.tokens.Add(ctx, int64(prompt), metric.WithAttributes(
		attribute.String("deployment", deployment),
		attribute.String("type", "prompt"),
	))
	m.tokens.Add(ctx, int64(completion), metric.WithAttributes(
		attribute.String("deployment", deployment),
		attribute.String("type", "completion"),
	))
}
