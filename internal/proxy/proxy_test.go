package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ccbridge/ccbridge/internal/openaiadapter"
	"github.com/ccbridge/ccbridge/internal/openaiadapter/anthropicclaude"
	"github.com/ccbridge/ccbridge/internal/upstream"
)

const testServiceKey = "gateway-secret"

var testNow = func() time.Time { return time.Unix(1700000000, 0) }

// mockUpstream answers every call with a canned response and records what it was sent.
type mockUpstream struct {
	status      int
	body        string
	contentType string
	err         error
	configErr   error

	mu      sync.Mutex
	bodies  [][]byte
	headers []http.Header
}

func (m *mockUpstream) Send(ctx context.Context, body []byte) (*http.Response, error) {
	return m.Forward(ctx, body, nil)
}

func (m *mockUpstream) Forward(ctx context.Context, body []byte, header http.Header) (*http.Response, error) {
	m.mu.Lock()
	m.bodies = append(m.bodies, body)
	m.headers = append(m.headers, header)
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := m.contentType
	if contentType == "" {
		contentType = "application/json"
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {contentType}},
		Body:       io.NopCloser(strings.NewReader(m.body)),
	}, nil
}

func (m *mockUpstream) Configured() error {
	return m.configErr
}

func (m *mockUpstream) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bodies)
}

func (m *mockUpstream) lastBody() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bodies[len(m.bodies)-1]
}

func (m *mockUpstream) lastHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headers[len(m.headers)-1]
}

type readiness bool

func (r readiness) IsReady() bool { return bool(r) }

func newTestProxy(t *testing.T, up *mockUpstream, opts ...Option) *Proxy {
	t.Helper()

	adapter := anthropicclaude.NewCreateChatCompletionAdapter(anthropicclaude.Options{
		Catalog: anthropicclaude.DefaultCatalogConfig(),
		Now:     testNow,
	})
	defaults := []Option{
		WithServiceAPIKey(testServiceKey),
		WithClock(testNow),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithInfo(Info{Name: "ccbridge", Version: "1.2.3"}),
	}
	p, err := New(up, adapter, readiness(true), append(defaults, opts...)...)
	require.NoError(t, err)
	return p
}

func request(method, path, body string, header ...string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return req
}

func authed(method, path, body string, header ...string) *http.Request {
	return request(method, path, body, append([]string{"Authorization", "Bearer " + testServiceKey}, header...)...)
}

func serve(p http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	return rec
}

// sseData returns the payloads of all data frames in an SSE body.
func sseData(body string) []string {
	var out []string
	for _, frame := range strings.Split(body, "\n\n") {
		for _, line := range strings.Split(frame, "\n") {
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				out = append(out, data)
			}
		}
	}
	return out
}

const (
	simpleChat = `{"model":"gpt-4","messages":[{"role":"user","content":"Say hello"}]}`
	streamChat = `{"model":"gpt-4","stream":true,"messages":[{"role":"user","content":"Say hello"}]}`

	anthropicMessage = `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-6",
		"content": [{"type": "text", "text": "Hello!"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 9, "output_tokens": 3}
	}`

	anthropicStream = "event: message_start\n" +
		`data: {"type":"message_start","message":{"id":"msg_01","type":"message","role":"assistant","model":"claude-sonnet-4-6","content":[],"stop_reason":null,"usage":{"input_tokens":9,"output_tokens":1}}}` + "\n\n" +
		"event: content_block_start\n" +
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}` + "\n\n" +
		"event: ping\n" +
		`data: {"type":"ping"}` + "\n\n" +
		"event: content_block_delta\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello!"}}` + "\n\n" +
		"event: content_block_stop\n" +
		`data: {"type":"content_block_stop","index":0}` + "\n\n" +
		"event: message_delta\n" +
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}` + "\n\n" +
		"event: message_stop\n" +
		`data: {"type":"message_stop"}` + "\n\n"
)

func TestNewRequiresDependencies(t *testing.T) {
	adapter := anthropicclaude.NewCreateChatCompletionAdapter(anthropicclaude.Options{})

	_, err := New(nil, adapter, readiness(true))
	assert.Error(t, err)
	_, err = New(&mockUpstream{}, nil, readiness(true))
	assert.Error(t, err)
	_, err = New(&mockUpstream{}, adapter, nil)
	assert.Error(t, err)
}

func TestSharedSecretAuth(t *testing.T) {
	tests := []struct {
		name     string
		header   []string
		wantCode int
	}{
		{"bearer token", []string{"Authorization", "Bearer " + testServiceKey}, http.StatusOK},
		{"raw authorization", []string{"Authorization", testServiceKey}, http.StatusOK},
		{"x-api-key", []string{"x-api-key", testServiceKey}, http.StatusOK},
		{"missing", nil, http.StatusUnauthorized},
		{"wrong key", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProxy(t, &mockUpstream{body: anthropicMessage})

			rec := serve(p, request(http.MethodPost, "/v1/chat/completions", simpleChat, tt.header...))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusUnauthorized {
				assert.Equal(t, openaiadapter.ErrorTypeAuthentication, gjson.Get(rec.Body.String(), "error.type").String())
			}
		})
	}
}

func TestSharedSecretAuthWithoutConfiguredKey(t *testing.T) {
	up := &mockUpstream{body: anthropicMessage}
	p := newTestProxy(t, up, WithServiceAPIKey(""))

	rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", simpleChat))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, openaiadapter.ErrorTypeConfiguration, gjson.Get(rec.Body.String(), "error.type").String())
	assert.Zero(t, up.calls())

	rec = serve(p, request(http.MethodGet, "/health", ""))
	assert.Equal(t, http.StatusOK, rec.Code, "public routes stay reachable")
}

func TestCORSPreflight(t *testing.T) {
	p := newTestProxy(t, &mockUpstream{})

	rec := serve(p, request(http.MethodOptions, "/v1/chat/completions", ""))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestRequestIDEchoed(t *testing.T) {
	p := newTestProxy(t, &mockUpstream{})

	rec := serve(p, request(http.MethodGet, "/livez", "", "X-Request-ID", "req-42"))
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = serve(p, request(http.MethodGet, "/livez", "", "X-Request-ID", "bad id\n"))
	assert.NotEqual(t, "bad id\n", rec.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestNotFound(t *testing.T) {
	p := newTestProxy(t, &mockUpstream{})

	rec := serve(p, authed(http.MethodGet, "/v1/embeddings", ""))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, openaiadapter.ErrorTypeNotFound, gjson.Get(body, "error.type").String())
	assert.Contains(t, gjson.Get(body, "error.message").String(), "/v1/chat/completions")
}

func TestListModels(t *testing.T) {
	p := newTestProxy(t, &mockUpstream{})
	want := anthropicclaude.NewCatalog(anthropicclaude.DefaultCatalogConfig()).Deployments()

	for _, path := range []string{"/v1/models", "/models"} {
		rec := serve(p, authed(http.MethodGet, path, ""))

		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Equal(t, "list", gjson.Get(body, "object").String())

		var ids []string
		for _, id := range gjson.Get(body, "data.#.id").Array() {
			ids = append(ids, id.String())
		}
		assert.Equal(t, want, ids)
		assert.Equal(t, "azure-anthropic", gjson.Get(body, "data.0.owned_by").String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	up := &mockUpstream{configErr: upstream.ErrNotConfigured}
	p := newTestProxy(t, up)

	rec := serve(p, request(http.MethodGet, "/health", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
	assert.Equal(t, "2023-11-14T22:13:20Z", gjson.Get(rec.Body.String(), "timestamp").String())
	assert.False(t, gjson.Get(rec.Body.String(), "apiKeyConfigured").Bool())

	rec = serve(p, request(http.MethodGet, "/", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", gjson.Get(rec.Body.String(), "status").String())
	assert.Equal(t, "1.2.3", gjson.Get(rec.Body.String(), "version").String())
	assert.False(t, gjson.Get(rec.Body.String(), "configured").Bool())

	assert.Equal(t, http.StatusOK, serve(p, request(http.MethodGet, "/livez", "")).Code)
	assert.Equal(t, http.StatusOK, serve(p, request(http.MethodGet, "/readyz", "")).Code)
}

func TestReadinessNotReady(t *testing.T) {
	adapter := anthropicclaude.NewCreateChatCompletionAdapter(anthropicclaude.Options{})
	p, err := New(&mockUpstream{}, adapter, readiness(false))
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, serve(p, request(http.MethodGet, "/readyz", "")).Code)
}

func TestChatCompletion(t *testing.T) {
	up := &mockUpstream{body: anthropicMessage}
	p := newTestProxy(t, up)

	rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", simpleChat))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Equal(t, "chat.completion", gjson.Get(body, "object").String())
	assert.Equal(t, "gpt-4", gjson.Get(body, "model").String())
	assert.Equal(t, "Hello!", gjson.Get(body, "choices.0.message.content").String())
	assert.Equal(t, "stop", gjson.Get(body, "choices.0.finish_reason").String())
	assert.EqualValues(t, 12, gjson.Get(body, "usage.total_tokens").Int())

	sent := up.lastBody()
	assert.Equal(t, "user", gjson.GetBytes(sent, "messages.0.role").String())
	assert.Equal(t, "Say hello", gjson.GetBytes(sent, "messages.0.content.0.text").String())
	assert.False(t, gjson.GetBytes(sent, "stream").Bool())
}

func TestChatCompletionWithoutVersionPrefix(t *testing.T) {
	up := &mockUpstream{body: anthropicMessage}
	p := newTestProxy(t, up)

	rec := serve(p, authed(http.MethodPost, "/chat/completions", simpleChat))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, up.calls())
}

func TestChatCompletionUpstreamError(t *testing.T) {
	up := &mockUpstream{
		status: http.StatusTooManyRequests,
		body:   `{"type":"error","error":{"type":"rate_limit_error","message":"Slow down"}}`,
	}
	p := newTestProxy(t, up)

	rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", simpleChat))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, openaiadapter.ErrorTypeRateLimit, gjson.Get(rec.Body.String(), "error.type").String())
	assert.Equal(t, "Slow down", gjson.Get(rec.Body.String(), "error.message").String())
}

func TestChatCompletionDispatchErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantType string
		wantMsg  string
	}{
		{
			name:     "not configured",
			err:      &upstream.ConfigError{Reason: "Azure endpoint not configured"},
			wantCode: http.StatusInternalServerError,
			wantType: openaiadapter.ErrorTypeConfiguration,
			wantMsg:  "Azure endpoint not configured",
		},
		{
			name:     "circuit open",
			err:      upstream.ErrCircuitOpen,
			wantCode: http.StatusServiceUnavailable,
			wantType: openaiadapter.ErrorTypeConnection,
			wantMsg:  "Upstream temporarily unavailable, circuit breaker open",
		},
		{
			name:     "transport",
			err:      errors.New("dial tcp: connection refused"),
			wantCode: http.StatusServiceUnavailable,
			wantType: openaiadapter.ErrorTypeConnection,
			wantMsg:  "Unable to reach Azure API: dial tcp: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProxy(t, &mockUpstream{err: tt.err})

			rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", simpleChat))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantType, gjson.Get(rec.Body.String(), "error.type").String())
			assert.Equal(t, tt.wantMsg, gjson.Get(rec.Body.String(), "error.message").String())
		})
	}
}

func TestChatCompletionInvalidRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"invalid json", `{"model":`, "Invalid JSON body"},
		{"missing messages", `{"model":"gpt-4"}`, "Invalid request: missing messages"},
		{"empty messages", `{"model":"gpt-4","messages":[]}`, "Invalid request: missing messages"},
		{"unknown role", `{"model":"gpt-4","messages":[{"role":"robot","content":"x"}]}`, "Invalid request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &mockUpstream{body: anthropicMessage}
			p := newTestProxy(t, up)

			rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", tt.body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, openaiadapter.ErrorTypeInvalidRequest, gjson.Get(rec.Body.String(), "error.type").String())
			assert.Contains(t, gjson.Get(rec.Body.String(), "error.message").String(), tt.wantMsg)
			assert.Zero(t, up.calls())
		})
	}
}

func TestStreamingValidationFailsBeforePreRoll(t *testing.T) {
	p := newTestProxy(t, &mockUpstream{})

	rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4","stream":true,"messages":[]}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRequestTooLarge(t *testing.T) {
	up := &mockUpstream{body: anthropicMessage}
	p := newTestProxy(t, up, WithMaxRequestBytes(32))

	rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", simpleChat))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, openaiadapter.ErrorTypeInvalidRequest, gjson.Get(rec.Body.String(), "error.type").String())
	assert.Zero(t, up.calls())
}

func TestValidationPing(t *testing.T) {
	ping := `{"model":"claude-sonnet","max_tokens":5,"messages":[{"role":"user","content":"test"}]}`

	t.Run("enabled", func(t *testing.T) {
		up := &mockUpstream{body: anthropicMessage}
		p := newTestProxy(t, up, WithValidationPing(true))

		rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", ping))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, pingReply, gjson.Get(rec.Body.String(), "choices.0.message.content").String())
		assert.Equal(t, "claude-sonnet", gjson.Get(rec.Body.String(), "model").String())
		assert.Zero(t, up.calls())
	})

	t.Run("disabled", func(t *testing.T) {
		up := &mockUpstream{body: anthropicMessage}
		p := newTestProxy(t, up)

		rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", ping))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, up.calls())
	})

	t.Run("regular request is not a ping", func(t *testing.T) {
		up := &mockUpstream{body: anthropicMessage}
		p := newTestProxy(t, up, WithValidationPing(true))

		rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", simpleChat))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, up.calls())
	})
}

func TestStreamingChatCompletion(t *testing.T) {
	up := &mockUpstream{body: anthropicStream, contentType: "text/event-stream"}
	p := newTestProxy(t, up)

	rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", streamChat))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), ": stream connected\n\n"))
	assert.True(t, gjson.GetBytes(up.lastBody(), "stream").Bool())

	frames := sseData(rec.Body.String())
	require.NotEmpty(t, frames)
	assert.Equal(t, "[DONE]", frames[len(frames)-1])

	var text strings.Builder
	finishes := 0
	for _, f := range frames[:len(frames)-1] {
		assert.Equal(t, "chat.completion.chunk", gjson.Get(f, "object").String())
		assert.Equal(t, "chatcmpl-msg_01", gjson.Get(f, "id").String())
		text.WriteString(gjson.Get(f, "choices.0.delta.content").String())
		if reason := gjson.Get(f, "choices.0.finish_reason"); reason.Exists() && reason.Type != gjson.Null {
			assert.Equal(t, "stop", reason.String())
			finishes++
		}
	}
	assert.Equal(t, "Hello!", text.String())
	assert.Equal(t, 1, finishes, "exactly one terminal chunk")
}

func TestStreamingUpstreamErrorStatus(t *testing.T) {
	up := &mockUpstream{
		status: http.StatusUnauthorized,
		body:   `{"error":{"code":"401","message":"Access denied due to invalid subscription key"}}`,
	}
	p := newTestProxy(t, up)

	rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", streamChat))

	require.Equal(t, http.StatusOK, rec.Code, "headers were already sent")
	frames := sseData(rec.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "[Error: Access denied due to invalid subscription key]",
		gjson.Get(frames[0], "choices.0.delta.content").String())
	assert.Equal(t, "stop", gjson.Get(frames[0], "choices.0.finish_reason").String())
	assert.Equal(t, "[DONE]", frames[1])
}

func TestStreamingDispatchError(t *testing.T) {
	p := newTestProxy(t, &mockUpstream{err: errors.New("connection reset")})

	rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", streamChat))

	require.Equal(t, http.StatusOK, rec.Code)
	frames := sseData(rec.Body.String())
	require.Len(t, frames, 2)
	assert.Contains(t, gjson.Get(frames[0], "choices.0.delta.content").String(), "Unable to reach Azure API")
	assert.Equal(t, "[DONE]", frames[1])
}

func TestRateLimit(t *testing.T) {
	up := &mockUpstream{body: anthropicMessage}
	p := newTestProxy(t, up, WithRateLimit(RateLimitConfig{Enabled: true, RequestsPerSecond: 0.5, Burst: 1}))

	rec := serve(p, authed(http.MethodPost, "/v1/chat/completions", simpleChat))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(p, authed(http.MethodPost, "/v1/chat/completions", simpleChat))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, openaiadapter.ErrorTypeRateLimit, gjson.Get(rec.Body.String(), "error.type").String())
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, up.calls())

	assert.Equal(t, http.StatusOK, serve(p, request(http.MethodGet, "/health", "")).Code, "probes are never limited")
}

func TestMessagesPassthrough(t *testing.T) {
	native := `{"model":"claude-sonnet-4-6","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`
	up := &mockUpstream{body: anthropicMessage}
	p := newTestProxy(t, up)

	rec := serve(p, authed(http.MethodPost, "/v1/messages", native,
		"anthropic-version", "2024-01-01",
		"anthropic-beta", "prompt-caching",
	))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, anthropicMessage, rec.Body.String(), "the response is relayed verbatim")
	assert.Equal(t, native, string(up.lastBody()), "the request is forwarded unchanged")

	header := up.lastHeader()
	assert.Equal(t, "2024-01-01", header.Get("Anthropic-Version"))
	assert.Equal(t, "prompt-caching", header.Get("Anthropic-Beta"))
	assert.Empty(t, header.Get("Authorization"), "client credentials are not forwarded")
}

func TestMessagesPassthroughErrorStatus(t *testing.T) {
	errBody := `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens: required"}}`
	p := newTestProxy(t, &mockUpstream{status: http.StatusBadRequest, body: errBody})

	rec := serve(p, authed(http.MethodPost, "/v1/messages", `{"model":"claude-sonnet-4-6"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errBody, rec.Body.String())
}

func TestMessagesPassthroughStream(t *testing.T) {
	up := &mockUpstream{body: anthropicStream, contentType: "text/event-stream"}
	p := newTestProxy(t, up)

	rec := serve(p, authed(http.MethodPost, "/v1/messages", `{"model":"claude-sonnet-4-6","stream":true}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, ": stream connected\n\n"+anthropicStream, rec.Body.String())
}

func TestMessagesPassthroughStreamError(t *testing.T) {
	up := &mockUpstream{
		status: http.StatusTooManyRequests,
		body:   `{"type":"error","error":{"type":"rate_limit_error","message":"Slow down"}}`,
	}
	p := newTestProxy(t, up)

	rec := serve(p, authed(http.MethodPost, "/v1/messages", `{"model":"claude-sonnet-4-6","stream":true}`))

	require.Equal(t, http.StatusOK, rec.Code)
	frames := sseData(rec.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "error", gjson.Get(frames[0], "type").String())
	assert.Equal(t, "Slow down", gjson.Get(frames[0], "error.message").String())
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := serve(h, request(http.MethodGet, "/", ""))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, openaiadapter.ErrorTypeProxy, gjson.Get(rec.Body.String(), "error.type").String())
}

func TestApplyMiddlewaresOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := applyMiddlewares(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mw("outer"), mw("inner"))

	serve(h, request(http.MethodGet, "/", ""))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
