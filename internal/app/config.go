package app

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ccbridge/ccbridge/internal/observability"
	"github.com/ccbridge/ccbridge/internal/openaiadapter/anthropicclaude"
	"github.com/ccbridge/ccbridge/internal/proxy"
	"github.com/ccbridge/ccbridge/internal/relay"
	"github.com/ccbridge/ccbridge/internal/tokensource"
	"github.com/ccbridge/ccbridge/internal/upstream"
)

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Models    ModelsConfig    `koanf:"models"`
	Stream    StreamConfig    `koanf:"stream"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// ServerConfig configures the inbound HTTP server.
type ServerConfig struct {
	Host               string        `koanf:"host" validate:"required"`
	Port               int           `koanf:"port" validate:"min=1,max=65535"`
	ServiceAPIKey      string        `koanf:"service_api_key"`
	MaxRequestBytes    int64         `koanf:"max_request_bytes" validate:"min=1"`
	Timeout            time.Duration `koanf:"timeout" validate:"gt=0"`
	ShutdownTimeout    time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	PreStreamHeartbeat time.Duration `koanf:"pre_stream_heartbeat" validate:"gte=0"`
	ValidationPing     bool          `koanf:"validation_ping"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UpstreamConfig configures the Anthropic Messages deployment and its credentials.
// Endpoint and credentials may be empty; requests then fail with a configuration error.
type UpstreamConfig struct {
	Endpoint         string        `koanf:"endpoint" validate:"omitempty,url"`
	AnthropicVersion string        `koanf:"anthropic_version" validate:"required"`
	APIKey           string        `koanf:"api_key"`
	KeyStorage       string        `koanf:"key_storage" validate:"oneof=env file keyring"`
	KeyLocation      string        `koanf:"key_location"`
	Entra            EntraConfig   `koanf:"entra"`
	Retry            RetryConfig   `koanf:"retry"`
	Breaker          BreakerConfig `koanf:"breaker"`
}

// EntraConfig enables Microsoft Entra ID client credentials instead of an API key.
type EntraConfig struct {
	TenantID     string `koanf:"tenant_id" validate:"required_with=ClientID"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret" validate:"required_with=ClientID"`
	Scope        string `koanf:"scope"`
	TokenURL     string `koanf:"token_url" validate:"omitempty,url"`
}

// Enabled reports whether Entra credentials are configured.
func (c EntraConfig) Enabled() bool {
	return c.ClientID != ""
}

// Authorizer builds the client credentials authorizer.
func (c EntraConfig) Authorizer() *tokensource.Authorizer {
	var opts []tokensource.Option
	if c.Scope != "" {
		opts = append(opts, tokensource.WithScopes(c.Scope))
	}
	if c.TokenURL != "" {
		opts = append(opts, tokensource.WithTokenURL(c.TokenURL))
	}
	return tokensource.NewAuthorizer(c.TenantID, c.ClientID, c.ClientSecret, opts...)
}

// RetryConfig configures retries on rate limiting and overload.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts" validate:"min=1,max=10"`
	BackoffStep time.Duration `koanf:"backoff_step" validate:"gte=0"`
}

// BreakerConfig configures the optional upstream circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	Interval         time.Duration `koanf:"interval" validate:"gte=0"`
	MaxRequests      uint32        `koanf:"max_requests" validate:"min=1"`
}

// TierConfig is one entry of the model alias table.
type TierConfig struct {
	Keyword         string `koanf:"keyword" validate:"required"`
	Deployment      string `koanf:"deployment" validate:"required"`
	MaxOutputTokens int64  `koanf:"max_output_tokens" validate:"gte=0"`
	DisableThinking bool   `koanf:"disable_thinking"`
}

// ModelsConfig configures model routing and token policy.
type ModelsConfig struct {
	Tiers                   []TierConfig `koanf:"tiers" validate:"dive"`
	DefaultDeployment       string       `koanf:"default_deployment" validate:"required"`
	VendorKeyword           string       `koanf:"vendor_keyword"`
	DefaultMaxOutputTokens  int64        `koanf:"default_max_output_tokens" validate:"gt=0"`
	MinOutputTokens         int64        `koanf:"min_output_tokens" validate:"gt=0"`
	ThinkingMaxOutputTokens int64        `koanf:"thinking_max_output_tokens" validate:"gt=0"`
	ThinkingBudgetTokens    int64        `koanf:"thinking_budget_tokens" validate:"gt=0"`
	ThinkingKeywords        []string     `koanf:"thinking_keywords"`
}

// StreamConfig configures the stream lifecycle.
type StreamConfig struct {
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval" validate:"gt=0"`
	IdleTimeout       time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	MaxDuration       time.Duration `koanf:"max_duration" validate:"gt=0"`
	// DedupThreshold is the run of identical text deltas after which repeats are dropped.
	// A negative value disables de-duplication.
	DedupThreshold int `koanf:"dedup_threshold"`
}

// RateLimitConfig configures inbound rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `koanf:"enabled"`
	Scope             string  `koanf:"scope" validate:"oneof=global ip api_key"`
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`
	Burst             int     `koanf:"burst" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level          string `koanf:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format         string `koanf:"format" validate:"oneof=text json"`
	File           string `koanf:"file"`
	FileMaxSizeMB  int    `koanf:"file_max_size_mb" validate:"gte=0"`
	FileMaxBackups int    `koanf:"file_max_backups" validate:"gte=0"`
	FileMaxAgeDays int    `koanf:"file_max_age_days" validate:"gte=0"`
	Exporter       string `koanf:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Exporter string `koanf:"exporter" validate:"oneof=none stdout otlp-http"`
}

// Defaults returns the default configuration as a flat koanf map.
func Defaults() map[string]any {
	catalog := anthropicclaude.DefaultCatalogConfig()
	tiers := make([]map[string]any, 0, len(catalog.Tiers))
	for _, t := range catalog.Tiers {
		tiers = append(tiers, map[string]any{
			"keyword":           t.Keyword,
			"deployment":        t.Deployment,
			"max_output_tokens": t.MaxOutputTokens,
			"disable_thinking":  t.DisableThinking,
		})
	}
	breaker := upstream.DefaultBreakerConfig()

	return map[string]any{
		"server.host":                 "0.0.0.0",
		"server.port":                 8080,
		"server.max_request_bytes":    proxy.DefaultMaxRequestBytes,
		"server.timeout":              proxy.DefaultServerTimeout.String(),
		"server.shutdown_timeout":     "30s",
		"server.pre_stream_heartbeat": proxy.DefaultPreStreamHeartbeat.String(),
		"server.validation_ping":      false,

		"upstream.anthropic_version":         upstream.DefaultAnthropicVersion,
		"upstream.key_storage":               string(tokensource.StorageEnv),
		"upstream.retry.max_attempts":        upstream.DefaultMaxAttempts,
		"upstream.retry.backoff_step":        upstream.DefaultBackoffStep.String(),
		"upstream.breaker.enabled":           false,
		"upstream.breaker.failure_threshold": breaker.FailureThreshold,
		"upstream.breaker.timeout":           breaker.Timeout.String(),
		"upstream.breaker.interval":          breaker.Interval.String(),
		"upstream.breaker.max_requests":      breaker.MaxRequests,

		"models.tiers":                      tiers,
		"models.default_deployment":         catalog.DefaultDeployment,
		"models.vendor_keyword":             catalog.VendorKeyword,
		"models.default_max_output_tokens":  catalog.DefaultMaxOutputTokens,
		"models.min_output_tokens":          catalog.MinOutputTokens,
		"models.thinking_max_output_tokens": catalog.ThinkingMaxOutputTokens,
		"models.thinking_budget_tokens":     catalog.ThinkingBudgetTokens,
		"models.thinking_keywords":          catalog.ThinkingKeywords,

		"stream.heartbeat_interval": relay.DefaultHeartbeatInterval.String(),
		"stream.idle_timeout":       relay.DefaultIdleTimeout.String(),
		"stream.max_duration":       relay.DefaultMaxDuration.String(),
		"stream.dedup_threshold":    anthropicclaude.DefaultDedupThreshold,

		"rate_limit.enabled":             false,
		"rate_limit.scope":               proxy.RateLimitGlobal,
		"rate_limit.requests_per_second": 10.0,
		"rate_limit.burst":               20,

		"log.level":             "info",
		"log.format":            "text",
		"log.file_max_size_mb":  100,
		"log.file_max_backups":  3,
		"log.file_max_age_days": 28,
		"log.exporter":          observability.ExporterNone,

		"metrics.exporter": observability.ExporterNone,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Models.ThinkingBudgetTokens >= c.Models.ThinkingMaxOutputTokens {
		return fmt.Errorf("invalid configuration: models.thinking_budget_tokens (%d) must be below models.thinking_max_output_tokens (%d)",
			c.Models.ThinkingBudgetTokens, c.Models.ThinkingMaxOutputTokens)
	}
	return nil
}

// CatalogConfig converts the models section.
func (c ModelsConfig) CatalogConfig() anthropicclaude.CatalogConfig {
	tiers := make([]anthropicclaude.Tier, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		tiers = append(tiers, anthropicclaude.Tier{
			Keyword:         t.Keyword,
			Deployment:      t.Deployment,
			MaxOutputTokens: t.MaxOutputTokens,
			DisableThinking: t.DisableThinking,
		})
	}
	return anthropicclaude.CatalogConfig{
		Tiers:                   tiers,
		VendorKeyword:           c.VendorKeyword,
		DefaultDeployment:       c.DefaultDeployment,
		DefaultMaxOutputTokens:  c.DefaultMaxOutputTokens,
		MinOutputTokens:         c.MinOutputTokens,
		ThinkingMaxOutputTokens: c.ThinkingMaxOutputTokens,
		ThinkingBudgetTokens:    c.ThinkingBudgetTokens,
		ThinkingKeywords:        c.ThinkingKeywords,
	}
}
