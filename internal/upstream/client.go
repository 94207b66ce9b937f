// Package upstream dispatches requests to the Anthropic Messages endpoint.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
)

// DefaultAnthropicVersion is the Messages API version sent upstream.
const DefaultAnthropicVersion = "2023-06-01"

// ErrNotConfigured reports missing endpoint or credentials. It is a per-request
// failure; the gateway starts without upstream configuration.
var ErrNotConfigured = errors.New("upstream not configured")

// ConfigError names the missing piece of upstream configuration. It matches
// ErrNotConfigured with errors.Is.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return e.Reason
}

func (e *ConfigError) Unwrap() error {
	return ErrNotConfigured
}

var (
	errNoEndpoint    = &ConfigError{Reason: "Azure endpoint not configured"}
	errNoCredentials = &ConfigError{Reason: "Azure API key not configured"}
)

// Config configures a Client.
type Config struct {
	// Endpoint is the full Messages URL, e.g. https://<resource>.services.ai.azure.com/anthropic/v1/messages.
	Endpoint         string
	AnthropicVersion string

	// Auth layers credentials over the base transport. Nil means no credentials are configured.
	Auth func(base http.RoundTripper) http.RoundTripper
	// Base defaults to NewTransport().
	Base http.RoundTripper

	Retry   Policy
	Breaker BreakerConfig
}

// Client sends Messages requests with retries.
type Client struct {
	endpoint   string
	httpClient *http.Client
	policy     Policy
	breaker    *Breaker
	configErr  error
}

// New creates a Client. Missing endpoint or credentials do not fail construction;
// they are reported by every Send.
func New(cfg Config) *Client {
	if cfg.AnthropicVersion == "" {
		cfg.AnthropicVersion = DefaultAnthropicVersion
	}

	var base http.RoundTripper = &HeaderTransport{
		Header: http.Header{
			"Content-Type":      {"application/json"},
			"Anthropic-Version": {cfg.AnthropicVersion},
		},
		Base: cfg.Base,
	}
	if cfg.Base == nil {
		base.(*HeaderTransport).Base = NewTransport()
	}

	c := &Client{
		endpoint: cfg.Endpoint,
		policy:   cfg.Retry,
	}

	switch {
	case cfg.Endpoint == "":
		c.configErr = errNoEndpoint
	case cfg.Auth == nil:
		c.configErr = errNoCredentials
	default:
		base = cfg.Auth(base)
	}

	// Client.Timeout = 0 allows long-running SSE streams; the relay bounds them.
	c.httpClient = &http.Client{Transport: base}

	if cfg.Breaker.Enabled {
		c.breaker = NewBreaker("upstream", cfg.Breaker)
	}
	return c
}

// Configured reports the configuration error, if any.
func (c *Client) Configured() error {
	return c.configErr
}

// Transport returns the authenticated transport.
func (c *Client) Transport() http.RoundTripper {
	return c.httpClient.Transport
}

// Endpoint returns the configured Messages URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Send posts body to the endpoint, retrying on rate limiting and overload.
// Any response is returned, including error statuses; the caller owns its body.
// Errors are transport failures, ErrNotConfigured, ErrCircuitOpen or ctx errors.
func (c *Client) Send(ctx context.Context, body []byte) (*http.Response, error) {
	return c.send(ctx, body, nil)
}

// Forward is Send with extra request headers, used for native passthrough.
func (c *Client) Forward(ctx context.Context, body []byte, header http.Header) (*http.Response, error) {
	return c.send(ctx, body, header)
}

func (c *Client) send(ctx context.Context, body []byte, header http.Header) (*http.Response, error) {
	if c.configErr != nil {
		return nil, c.configErr
	}

	return c.policy.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		attempt := func() (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
			if err != nil {
				return nil, fmt.Errorf("create upstream request: %w", err)
			}
			for k, v := range header {
				req.Header[k] = v
			}
			return c.httpClient.Do(req)
		}

		if c.breaker != nil {
			return c.breaker.Do(attempt)
		}
		return attempt()
	})
}
