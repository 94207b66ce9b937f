package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ccbridge/ccbridge/internal/openaiadapter/anthropicclaude"
)

const toolUseStream = "event: message_start\n" +
	`data: {"type":"message_start","message":{"id":"msg_02","type":"message","role":"assistant","model":"claude-sonnet-4-6","content":[],"usage":{"input_tokens":120,"output_tokens":1}}}` + "\n\n" +
	"event: content_block_start\n" +
	`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}` + "\n\n" +
	"event: content_block_delta\n" +
	`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Checking the weather."}}` + "\n\n" +
	"event: content_block_stop\n" +
	`data: {"type":"content_block_stop","index":0}` + "\n\n" +
	"event: content_block_start\n" +
	`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_01","name":"get_weather","input":{}}}` + "\n\n" +
	"event: content_block_delta\n" +
	`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}` + "\n\n" +
	"event: content_block_delta\n" +
	`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Berlin\"}"}}` + "\n\n" +
	"event: content_block_stop\n" +
	`data: {"type":"content_block_stop","index":1}` + "\n\n" +
	"event: message_delta\n" +
	`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":40}}` + "\n\n" +
	"event: message_stop\n" +
	`data: {"type":"message_stop"}` + "\n\n"

const toolUseChat = `{
	"model": "gpt-4o",
	"stream": true,
	"messages": [
		{"role": "system", "content": "You are a weather bot."},
		{"role": "user", "content": "Weather in Berlin?"}
	],
	"tools": [{
		"type": "function",
		"function": {
			"name": "get_weather",
			"parameters": {"type": "object", "properties": {"city": {"type": "string"}}}
		}
	}]
}`

// benchProxy serves the full middleware stack against a canned upstream.
// Logging is discarded to keep I/O out of the measurements.
func benchProxy(b *testing.B, up *mockUpstream) *httptest.Server {
	b.Helper()

	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	adapter := anthropicclaude.NewCreateChatCompletionAdapter(anthropicclaude.Options{
		Catalog: anthropicclaude.DefaultCatalogConfig(),
	})
	p, err := New(up, adapter, readiness(true),
		WithServiceAPIKey(testServiceKey),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		b.Fatalf("Failed to create proxy: %v", err)
	}

	server := httptest.NewServer(p)
	b.Cleanup(server.Close)
	return server
}

func post(b *testing.B, url, body string) *http.Response {
	req, err := http.NewRequest(http.MethodPost, url+"/v1/chat/completions", strings.NewReader(body))
	if err != nil {
		b.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testServiceKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		b.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		b.Fatalf("Unexpected status code: %d", resp.StatusCode)
	}
	return resp
}

// BenchmarkProxyStreaming measures end-to-end streaming latency through the
// translation layer: routing, middleware, handler, adapter and SSE encoding.
// Network latency to the upstream is excluded.
func BenchmarkProxyStreaming(b *testing.B) {
	scenarios := []struct {
		name     string
		request  string
		upstream string
	}{
		{"text", streamChat, anthropicStream},
		{"tool_use", toolUseChat, toolUseStream},
	}

	for _, s := range scenarios {
		b.Run(s.name, func(b *testing.B) {
			server := benchProxy(b, &mockUpstream{body: s.upstream, contentType: "text/event-stream"})

			b.ReportAllocs()
			b.ResetTimer()

			for b.Loop() {
				resp := post(b, server.URL, s.request)
				if _, err := io.Copy(io.Discard, resp.Body); err != nil {
					b.Fatalf("Stream read error: %v", err)
				}
				_ = resp.Body.Close()
			}
		})
	}
}

// BenchmarkProxyNonStreaming is the buffered baseline for BenchmarkProxyStreaming.
func BenchmarkProxyNonStreaming(b *testing.B) {
	server := benchProxy(b, &mockUpstream{body: anthropicMessage})

	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		resp := post(b, server.URL, simpleChat)
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			b.Fatalf("Failed to read response: %v", err)
		}
		_ = resp.Body.Close()
	}
}

// BenchmarkProxyStreaming_TTFB measures time to the first streamed byte, which is
// the stream connected comment written before the upstream answers.
func BenchmarkProxyStreaming_TTFB(b *testing.B) {
	server := benchProxy(b, &mockUpstream{body: anthropicStream, contentType: "text/event-stream"})

	b.ReportAllocs()
	b.ResetTimer()

	var totalTTFB time.Duration
	var iterations int
	buf := make([]byte, 1)

	for b.Loop() {
		start := time.Now()
		resp := post(b, server.URL, streamChat)

		if _, err := resp.Body.Read(buf); err != nil {
			b.Fatalf("Failed to read first byte: %v", err)
		}
		totalTTFB += time.Since(start)
		iterations++

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	b.ReportMetric(float64((totalTTFB / time.Duration(iterations)).Microseconds()), "µs/ttfb")
}

// BenchmarkProxyConcurrentThroughput_Streaming measures streaming throughput under
// concurrent load.
func BenchmarkProxyConcurrentThroughput_Streaming(b *testing.B) {
	server := benchProxy(b, &mockUpstream{body: anthropicStream, contentType: "text/event-stream"})

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp := post(b, server.URL, streamChat)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	})
}
