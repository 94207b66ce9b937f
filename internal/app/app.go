package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ccbridge/ccbridge/internal/observability"
	"github.com/ccbridge/ccbridge/internal/openaiadapter/anthropicclaude"
	"github.com/ccbridge/ccbridge/internal/proxy"
	"github.com/ccbridge/ccbridge/internal/relay"
	"github.com/ccbridge/ccbridge/internal/tokensource"
	"github.com/ccbridge/ccbridge/internal/upstream"
)

// App orchestrates the lifecycle of the proxy server and related services.
type App struct {
	cfg      Config
	proxy    *proxy.Proxy
	health   *Health
	upstream *upstream.Client
	catalog  *anthropicclaude.Catalog
}

// New wires the upstream client, the adapter and the HTTP layer from cfg.
// Missing upstream endpoint or credentials are logged, not fatal.
func New(ctx context.Context, cfg Config, version string) (*App, error) {
	metrics := observability.NewMetrics()

	client, err := NewUpstreamClient(ctx, cfg.Upstream, metrics)
	if err != nil {
		return nil, err
	}

	adapter := anthropicclaude.NewCreateChatCompletionAdapter(anthropicclaude.Options{
		Catalog:        cfg.Models.CatalogConfig(),
		DedupThreshold: cfg.Stream.DedupThreshold,
	})

	health := NewHealth()

	proxyServer, err := proxy.New(client, adapter, health,
		proxy.WithServiceAPIKey(cfg.Server.ServiceAPIKey),
		proxy.WithRelay(relay.New(relay.Config{
			HeartbeatInterval: cfg.Stream.HeartbeatInterval,
			IdleTimeout:       cfg.Stream.IdleTimeout,
			MaxDuration:       cfg.Stream.MaxDuration,
		})),
		proxy.WithMetrics(metrics),
		proxy.WithRateLimit(proxy.RateLimitConfig{
			Enabled:           cfg.RateLimit.Enabled,
			Scope:             cfg.RateLimit.Scope,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}),
		proxy.WithMaxRequestBytes(cfg.Server.MaxRequestBytes),
		proxy.WithValidationPing(cfg.Server.ValidationPing),
		proxy.WithPreStreamHeartbeat(cfg.Server.PreStreamHeartbeat),
		proxy.WithServerTimeout(cfg.Server.Timeout),
		proxy.WithInfo(proxy.Info{Name: observability.ServiceName, Version: version}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:      cfg,
		proxy:    proxyServer,
		health:   health,
		upstream: client,
		catalog:  adapter.Catalog(),
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	a.logStartup(gCtx)

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting proxy server")
	proxyErrCh, err := a.proxy.Start(gCtx, a.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	a.health.SetReady(true)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	runtimeErr := g.Wait()

	// Fail readiness first so load balancers stop routing while requests drain.
	a.health.SetReady(false)
	slog.InfoContext(gCtx, "shutting down services", "timeout", a.cfg.Server.ShutdownTimeout)

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

func (a *App) logStartup(ctx context.Context) {
	configured := "configured"
	if err := a.upstream.Configured(); err != nil {
		configured = err.Error()
	}
	serviceKey := "configured"
	if a.cfg.Server.ServiceAPIKey == "" {
		serviceKey = "missing, all API requests will be rejected"
	}

	slog.InfoContext(ctx, "gateway configuration",
		"addr", a.cfg.Server.Addr(),
		"endpoint", a.upstream.Endpoint(),
		"upstream", configured,
		"service_api_key", serviceKey,
		"default_deployment", a.cfg.Models.DefaultDeployment,
		"deployments", a.catalog.Deployments(),
		"thinking_budget_tokens", a.cfg.Models.ThinkingBudgetTokens,
		"min_output_tokens", a.cfg.Models.MinOutputTokens,
	)
	if a.upstream.Configured() != nil {
		slog.WarnContext(ctx, "upstream is not configured; chat requests will fail until it is")
	}
}

// NewUpstreamClient builds the retrying upstream client described by cfg.
// metrics may be nil.
func NewUpstreamClient(ctx context.Context, cfg UpstreamConfig, metrics *observability.Metrics) (*upstream.Client, error) {
	auth, err := upstreamAuth(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up upstream credentials: %w", err)
	}

	return upstream.New(upstream.Config{
		Endpoint:         cfg.Endpoint,
		AnthropicVersion: cfg.AnthropicVersion,
		Auth:             auth,
		Base:             &observability.TracePropagationTransport{Base: upstream.NewTransport()},
		Retry: upstream.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BackoffStep: cfg.Retry.BackoffStep,
			OnRetry: func(ctx context.Context, attempt, status int, delay time.Duration) {
				slog.WarnContext(ctx, "upstream busy, retrying",
					"status", status,
					"attempt", attempt,
					"max_attempts", cfg.Retry.MaxAttempts,
					"delay", delay,
				)
				metrics.RecordRetry(ctx, status)
			},
		},
		Breaker: breakerConfig(cfg.Breaker),
	}), nil
}

// upstreamAuth selects the upstream credential scheme. Entra ID wins over an API key.
// A nil result means no credentials are available.
func upstreamAuth(ctx context.Context, cfg UpstreamConfig) (func(http.RoundTripper) http.RoundTripper, error) {
	if cfg.Entra.Enabled() {
		authorizer := cfg.Entra.Authorizer()
		slog.DebugContext(ctx, "using Entra ID credentials for upstream", "tenant_id", cfg.Entra.TenantID)
		return func(base http.RoundTripper) http.RoundTripper {
			return authorizer.Transport(ctx, base)
		}, nil
	}

	key := cfg.APIKey
	if key == "" {
		store, err := tokensource.NewKeyStore(tokensource.StorageType(cfg.KeyStorage), cfg.KeyLocation)
		if err != nil {
			return nil, err
		}
		key, err = store.Read(ctx)
		if err != nil {
			// An unreachable keyring must not keep the gateway from starting.
			slog.WarnContext(ctx, "failed to read upstream API key", "storage", cfg.KeyStorage, "error", err)
			key = ""
		}
	}
	if key == "" {
		return nil, nil
	}

	return func(base http.RoundTripper) http.RoundTripper {
		return tokensource.NewAPIKeyTransport(key, base)
	}, nil
}

func breakerConfig(cfg BreakerConfig) upstream.BreakerConfig {
	out := upstream.DefaultBreakerConfig()
	out.Enabled = cfg.Enabled
	if cfg.FailureThreshold > 0 {
		out.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.Timeout > 0 {
		out.Timeout = cfg.Timeout
	}
	if cfg.Interval > 0 {
		out.Interval = cfg.Interval
	}
	if cfg.MaxRequests > 0 {
		out.MaxRequests = cfg.MaxRequests
	}
	return out
}
