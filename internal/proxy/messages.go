package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ccbridge/ccbridge/internal/observability"
	"github.com/ccbridge/ccbridge/internal/observability/middleware"
	"github.com/ccbridge/ccbridge/internal/openaiadapter"
)

// forwardedHeaders are the client headers passed through to the upstream.
// Credentials are never forwarded; the upstream transport adds its own.
var forwardedHeaders = []string{"Anthropic-Version", "Anthropic-Beta"}

// MessagesHandler forwards Anthropic-native requests unchanged and relays the
// upstream response verbatim.
type MessagesHandler struct {
	Upstream           Upstream
	Metrics            *observability.Metrics
	PreStreamHeartbeat time.Duration
}

// Compile-time check to ensure MessagesHandler implements http.Handler
var _ http.Handler = (*MessagesHandler)(nil)

// passthroughError is the Anthropic stream error event written when forwarding fails.
type passthroughError struct {
	Type  string               `json:"type"`
	Error passthroughErrorBody `json:"error"`
}

type passthroughErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServeHTTP implements http.Handler.
func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		status := http.StatusBadRequest
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
		}
		status = writeJSONOpenAIError(ctx, w, openaiadapter.NewError(status, openaiadapter.ErrorTypeInvalidRequest, http.StatusText(status)))
		h.Metrics.RecordRequest(ctx, "messages", false, status)
		return
	}

	stream := gjson.GetBytes(body, "stream").Bool()
	middleware.SetLogAttrs(ctx,
		slog.String("model", gjson.GetBytes(body, "model").String()),
		slog.Bool("stream", stream),
		slog.Bool("passthrough", true),
	)

	header := make(http.Header)
	for _, name := range forwardedHeaders {
		if v := r.Header.Values(name); len(v) > 0 {
			header[name] = v
		}
	}

	var status int
	if stream {
		status = h.stream(ctx, w, body, header)
	} else {
		status = h.forward(ctx, w, body, header)
	}
	h.Metrics.RecordRequest(ctx, "messages", stream, status)
}

func (h *MessagesHandler) forward(ctx context.Context, w http.ResponseWriter, body []byte, header http.Header) int {
	resp, err := h.Upstream.Forward(ctx, body, header)
	if err != nil {
		errResp := dispatchError(ctx, err)
		if errResp == nil {
			return statusClientClosedRequest
		}
		return writeJSONOpenAIError(ctx, w, errResp)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.DebugContext(ctx, "failed to copy upstream response", "error", err)
	}
	return resp.StatusCode
}

func (h *MessagesHandler) stream(ctx context.Context, w http.ResponseWriter, body []byte, header http.Header) int {
	sse, err := NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		return writeJSONOpenAIError(ctx, w, openaiadapter.ProxyError(http.StatusText(http.StatusInternalServerError)))
	}

	if err := sse.WriteComment("stream connected"); err != nil {
		return statusClientClosedRequest
	}
	stop := keepAlive(ctx, sse, h.PreStreamHeartbeat)
	resp, err := h.Upstream.Forward(ctx, body, header)
	stop()

	if err != nil {
		if errResp := dispatchError(ctx, err); errResp != nil {
			writePassthroughError(ctx, sse, errResp.Err.Message)
		}
		return http.StatusOK
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		errBody, _ := io.ReadAll(resp.Body)
		message := gjson.GetBytes(errBody, "error.message").String()
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		slog.ErrorContext(ctx, "upstream returned error", "status", resp.StatusCode, "message", message)
		writePassthroughError(ctx, sse, message)
		return http.StatusOK
	}

	// Client disconnect cancels ctx, which aborts the upstream read below.
	if _, err := io.Copy(sse, resp.Body); err != nil && ctx.Err() == nil {
		slog.ErrorContext(ctx, "passthrough stream failed", "error", err)
	}
	return http.StatusOK
}

func writePassthroughError(ctx context.Context, sse *SSEWriter, message string) {
	err := sse.WriteData(passthroughError{
		Type:  "error",
		Error: passthroughErrorBody{Type: openaiadapter.ErrorTypeProxy, Message: message},
	})
	if err != nil {
		slog.DebugContext(ctx, "failed to write passthrough error", "error", err)
	}
}
