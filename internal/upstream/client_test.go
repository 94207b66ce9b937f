package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyAuth(key string) func(http.RoundTripper) http.RoundTripper {
	return func(base http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			r := req.Clone(req.Context())
			r.Header.Set("x-api-key", key)
			return base.RoundTrip(r)
		})
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestClientSend(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1"}`))
	}))
	defer srv.Close()

	client := New(Config{
		Endpoint: srv.URL + "/anthropic/v1/messages",
		Auth:     keyAuth("secret"),
	})
	require.NoError(t, client.Configured())

	resp, err := client.Send(context.Background(), []byte(`{"model":"m"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/anthropic/v1/messages", got.URL.Path)
	assert.Equal(t, "secret", got.Header.Get("x-api-key"))
	assert.Equal(t, DefaultAnthropicVersion, got.Header.Get("anthropic-version"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, `{"model":"m"}`, string(gotBody))
}

func TestClientForwardKeepsClientVersion(t *testing.T) {
	var version, beta string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version = r.Header.Get("anthropic-version")
		beta = r.Header.Get("anthropic-beta")
	}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Auth: keyAuth("k"), AnthropicVersion: "2023-06-01"})

	resp, err := client.Forward(context.Background(), []byte(`{}`), http.Header{
		"Anthropic-Version": {"2024-01-01"},
		"Anthropic-Beta":    {"tools-2024"},
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "2024-01-01", version)
	assert.Equal(t, "tools-2024", beta)
}

func TestClientRetriesOverload(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(StatusOverloaded)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := New(Config{
		Endpoint: srv.URL,
		Auth:     keyAuth("k"),
		Retry:    Policy{MaxAttempts: 3, BackoffStep: time.Millisecond},
	})

	resp, err := client.Send(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClientNotConfigured(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		reason string
	}{
		{"no endpoint", Config{Auth: keyAuth("k")}, "Azure endpoint not configured"},
		{"no credentials", Config{Endpoint: "https://example.invalid/v1/messages"}, "Azure API key not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.cfg)

			assert.ErrorIs(t, client.Configured(), ErrNotConfigured)

			_, err := client.Send(context.Background(), []byte(`{}`))
			require.ErrorIs(t, err, ErrNotConfigured)
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.reason, cfgErr.Reason)
		})
	}
}

func TestClientCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Auth: keyAuth("k")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Send(ctx, []byte(`{}`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHeaderTransportDoesNotOverride(t *testing.T) {
	var seen http.Header
	base := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		seen = req.Header
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})
	tr := &HeaderTransport{
		Header: http.Header{"Anthropic-Version": {"default"}, "Content-Type": {"application/json"}},
		Base:   base,
	}

	req := httptest.NewRequest(http.MethodPost, "https://example.invalid", nil)
	req.Header.Set("Anthropic-Version", "client")
	_, err := tr.RoundTrip(req)
	require.NoError(t, err)

	assert.Equal(t, "client", seen.Get("Anthropic-Version"))
	assert.Equal(t, "application/json", seen.Get("Content-Type"))
	assert.Empty(t, req.Header.Get("Content-Type"), "the caller's request is not modified")
}
