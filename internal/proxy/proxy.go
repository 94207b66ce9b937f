// Package proxy serves the OpenAI-compatible HTTP surface of the gateway.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/ccbridge/ccbridge/internal/observability"
	"github.com/ccbridge/ccbridge/internal/observability/middleware"
	"github.com/ccbridge/ccbridge/internal/openaiadapter/anthropicclaude"
	"github.com/ccbridge/ccbridge/internal/relay"
)

// Server defaults.
const (
	DefaultMaxRequestBytes    int64 = 250 << 20
	DefaultPreStreamHeartbeat       = 3 * time.Second
	DefaultServerTimeout            = 300 * time.Second
)

// ReadinessChecker reports whether the application can serve traffic.
type ReadinessChecker interface {
	IsReady() bool
}

// Upstream dispatches encoded requests to the Anthropic Messages endpoint.
type Upstream interface {
	Send(ctx context.Context, body []byte) (*http.Response, error)
	Forward(ctx context.Context, body []byte, header http.Header) (*http.Response, error)
	Configured() error
}

// Info describes the service on the status document.
type Info struct {
	Name    string
	Version string
}

type options struct {
	serviceAPIKey      string
	relay              *relay.Relay
	metrics            *observability.Metrics
	logger             *slog.Logger
	rateLimit          RateLimitConfig
	maxRequestBytes    int64
	validationPing     bool
	preStreamHeartbeat time.Duration
	serverTimeout      time.Duration
	info               Info
	now                func() time.Time
}

// Option configures a Proxy.
type Option func(*options)

// WithServiceAPIKey sets the shared secret clients must present.
func WithServiceAPIKey(key string) Option {
	return func(o *options) {
		o.serviceAPIKey = key
	}
}

// WithRelay sets the stream lifecycle manager.
func WithRelay(r *relay.Relay) Option {
	return func(o *options) {
		o.relay = r
	}
}

// WithMetrics sets the request and stream counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLogger sets the access logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRateLimit enables inbound rate limiting.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(o *options) {
		o.rateLimit = cfg
	}
}

// WithMaxRequestBytes bounds request bodies.
func WithMaxRequestBytes(n int64) Option {
	return func(o *options) {
		o.maxRequestBytes = n
	}
}

// WithValidationPing answers model-validation pings locally.
func WithValidationPing(enabled bool) Option {
	return func(o *options) {
		o.validationPing = enabled
	}
}

// WithPreStreamHeartbeat sets the keep-alive interval used while waiting for the upstream.
func WithPreStreamHeartbeat(d time.Duration) Option {
	return func(o *options) {
		o.preStreamHeartbeat = d
	}
}

// WithServerTimeout sets the read and idle timeouts of the HTTP server.
func WithServerTimeout(d time.Duration) Option {
	return func(o *options) {
		o.serverTimeout = d
	}
}

// WithInfo sets the name and version reported on the status document.
func WithInfo(info Info) Option {
	return func(o *options) {
		o.info = info
	}
}

// WithClock overrides time.Now for generated ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Proxy is the HTTP front of the gateway.
type Proxy struct {
	handler       http.Handler
	server        *http.Server
	serverTimeout time.Duration
}

// Compile-time check that Proxy implements http.Handler.
var _ http.Handler = (*Proxy)(nil)

// New wires routes and middlewares around the upstream client and the adapter.
func New(
	upstream Upstream,
	adapter *anthropicclaude.CreateChatCompletionAdapter,
	health ReadinessChecker,
	opts ...Option,
) (*Proxy, error) {
	if upstream == nil {
		return nil, errors.New("upstream client is required")
	}
	if adapter == nil {
		return nil, errors.New("adapter is required")
	}
	if health == nil {
		return nil, errors.New("readiness checker is required")
	}

	o := options{
		maxRequestBytes:    DefaultMaxRequestBytes,
		preStreamHeartbeat: DefaultPreStreamHeartbeat,
		serverTimeout:      DefaultServerTimeout,
		info:               Info{Name: observability.ServiceName, Version: "dev"},
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.relay == nil {
		o.relay = relay.New(relay.Config{})
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	chat := &CreateChatCompletionsHandler{
		Adapter:            adapter,
		Upstream:           upstream,
		Relay:              o.relay,
		Metrics:            o.metrics,
		Validate:           validator.New(validator.WithRequiredStructEnabled()),
		ValidationPing:     o.validationPing,
		PreStreamHeartbeat: o.preStreamHeartbeat,
		Now:                o.now,
	}
	messages := &MessagesHandler{
		Upstream:           upstream,
		Metrics:            o.metrics,
		PreStreamHeartbeat: o.preStreamHeartbeat,
	}
	models := modelsHandler(adapter.Catalog())

	r := chi.NewRouter()

	r.Get("/", statusHandler(o.info, upstream))
	r.Get("/health", healthHandler(upstream, o.now))
	r.Get("/livez", livenessHandler())
	r.Get("/readyz", readinessHandler(health))

	r.Get("/v1/models", models)
	r.Get("/models", models)

	r.Method(http.MethodPost, "/v1/chat/completions", chat)
	r.Method(http.MethodPost, "/chat/completions", chat)
	r.Method(http.MethodPost, "/v1/messages", messages)

	r.NotFound(notFoundHandler)
	r.MethodNotAllowed(notFoundHandler)

	handler := applyMiddlewares(r,
		Recovery,
		chimiddleware.RealIP,
		middleware.RequestIDGeneration,
		middleware.Logging(o.logger),
		middleware.TraceContextExtraction,
		middleware.RequestIDPropagation,
		CORS,
		SharedSecretAuth(o.serviceAPIKey),
		RateLimit(NewRateLimiter(o.rateLimit)),
		RequestSizeLimit(o.maxRequestBytes),
	)

	return &Proxy{
		handler:       handler,
		serverTimeout: o.serverTimeout,
	}, nil
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Start listens on addr and serves in the background.
// Listen errors are returned directly; later serve errors arrive on the channel.
func (p *Proxy) Start(ctx context.Context, addr string) (<-chan error, error) {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	// No WriteTimeout: stream duration is bounded by the relay.
	p.server = &http.Server{
		Handler:           p,
		ReadTimeout:       p.serverTimeout,
		ReadHeaderTimeout: p.serverTimeout + 5*time.Second,
		IdleTimeout:       p.serverTimeout,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		slog.InfoContext(ctx, "proxy listening", "addr", ln.Addr().String())
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return errCh, nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	if err := p.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("proxy shutdown: %w", err)
	}
	return nil
}
