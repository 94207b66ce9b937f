package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/ccbridge/ccbridge/internal/observability"
	"github.com/ccbridge/ccbridge/internal/observability/middleware"
	"github.com/ccbridge/ccbridge/internal/openaiadapter"
	"github.com/ccbridge/ccbridge/internal/openaiadapter/types"
	"github.com/ccbridge/ccbridge/internal/relay"
	"github.com/ccbridge/ccbridge/internal/upstream"
)

// Validation pings are tiny non-streaming probes some editors send before using a model.
const (
	pingMaxContentChars = 50
	pingMaxTokens       = 10
	pingReply           = "Hello! I'm ready."
)

// CreateChatCompletionsHandler handles OpenAI-compatible chat completion requests.
type CreateChatCompletionsHandler struct {
	Adapter  openaiadapter.CreateChatCompletionAdapter
	Upstream Upstream
	Relay    *relay.Relay
	Metrics  *observability.Metrics
	Validate *validator.Validate

	// ValidationPing answers validation pings without calling the upstream.
	ValidationPing bool
	// PreStreamHeartbeat is the keep-alive interval while the upstream has not answered yet.
	PreStreamHeartbeat time.Duration

	Now func() time.Time
}

// Compile-time check to ensure CreateChatCompletionsHandler implements http.Handler
var _ http.Handler = (*CreateChatCompletionsHandler)(nil)

// ServeHTTP implements http.Handler interface for streaming or non-streaming requests.
func (h *CreateChatCompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req openaiadapter.CreateChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			slog.WarnContext(ctx, "request exceeds size limit", "limit_bytes", maxBytesErr.Limit)
			status := writeJSONOpenAIError(ctx, w, openaiadapter.NewError(http.StatusRequestEntityTooLarge,
				openaiadapter.ErrorTypeInvalidRequest, http.StatusText(http.StatusRequestEntityTooLarge)))
			h.Metrics.RecordRequest(ctx, "chat_completions", false, status)
			return
		}
		slog.WarnContext(ctx, "failed to decode request", "error", err)
		status := writeJSONOpenAIError(ctx, w, openaiadapter.InvalidRequest("Invalid JSON body: "+err.Error()))
		h.Metrics.RecordRequest(ctx, "chat_completions", false, status)
		return
	}

	stream := req.IsStreaming()
	middleware.SetLogAttrs(ctx,
		slog.String("model", req.Model),
		slog.Bool("stream", stream),
	)

	var status int
	switch {
	case h.ValidationPing && isValidationPing(&req):
		status = h.writePing(ctx, w, &req)
	default:
		if err := h.validate(ctx, &req); err != nil {
			status = writeJSONOpenAIError(ctx, w, err)
		} else if stream {
			status = h.streamResponse(ctx, w, &req)
		} else {
			status = h.writeResponse(ctx, w, &req)
		}
	}

	h.Metrics.RecordRequest(ctx, "chat_completions", stream, status)
}

func (h *CreateChatCompletionsHandler) validate(ctx context.Context, req *openaiadapter.CreateChatCompletionRequest) *openaiadapter.ErrorResponse {
	err := h.Validate.StructCtx(ctx, req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return openaiadapter.InvalidRequest("Invalid request: " + err.Error())
	}
	fe := verrs[0]
	if fe.Field() == "Messages" {
		return openaiadapter.InvalidRequest("Invalid request: missing messages")
	}
	return openaiadapter.InvalidRequest(fmt.Sprintf("Invalid request: %s is invalid (%s)", fe.Namespace(), fe.Tag()))
}

// isValidationPing recognizes the model validation probe: one short string message,
// no tools, a tiny token budget and no streaming.
func isValidationPing(req *openaiadapter.CreateChatCompletionRequest) bool {
	if req.IsStreaming() || len(req.Tools) > 0 || len(req.ToolChoice) > 0 {
		return false
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != types.RoleUser {
		return false
	}
	if (req.MaxTokens == nil && req.MaxCompletionTokens == nil) || req.RequestedMaxTokens() > pingMaxTokens {
		return false
	}
	content, ok := req.Messages[0].ContentString()
	return ok && utf8.RuneCountInString(content) <= pingMaxContentChars
}

func (h *CreateChatCompletionsHandler) writePing(ctx context.Context, w http.ResponseWriter, req *openaiadapter.CreateChatCompletionRequest) int {
	slog.InfoContext(ctx, "answering model validation ping locally", "model", req.Model)

	now := h.Now()
	content := pingReply
	writeJSON(ctx, w, &openaiadapter.CreateChatCompletionResponse{
		ID:      fmt.Sprintf("chatcmpl-ping-%d", now.UnixMilli()),
		Object:  types.ObjectChatCompletion,
		Created: now.Unix(),
		Model:   req.Model,
		Choices: []types.ChatCompletionChoice{{
			Index:        0,
			Message:      types.ChatCompletionResponseMessage{Role: types.RoleAssistant, Content: &content},
			FinishReason: types.FinishReasonStop,
		}},
		Usage: &types.CompletionUsage{PromptTokens: 1, CompletionTokens: 3, TotalTokens: 4},
	}, http.StatusOK)
	return http.StatusOK
}

// writeResponse handles non-streaming chat completion requests.
func (h *CreateChatCompletionsHandler) writeResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req *openaiadapter.CreateChatCompletionRequest,
) int {
	call, err := h.Adapter.EncodeRequest(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode upstream request", "error", err)
		return writeJSONOpenAIError(ctx, w, openaiadapter.ProxyError(err.Error()))
	}
	middleware.SetLogAttrs(ctx, call.LogAttrs...)

	resp, err := h.Upstream.Send(ctx, call.Body)
	if err != nil {
		errResp := dispatchError(ctx, err)
		if errResp == nil {
			return statusClientClosedRequest
		}
		return writeJSONOpenAIError(ctx, w, errResp)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "client disconnected while reading upstream response")
			return statusClientClosedRequest
		}
		slog.ErrorContext(ctx, "failed to read upstream response", "error", err)
		return writeJSONOpenAIError(ctx, w, openaiadapter.ConnectionError("Unable to reach Azure API: "+err.Error()))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		errResp := h.Adapter.DecodeError(resp.StatusCode, body)
		slog.ErrorContext(ctx, "upstream returned error",
			"status", resp.StatusCode,
			"type", errResp.Err.Type,
			"message", errResp.Err.Message,
		)
		return writeJSONOpenAIError(ctx, w, errResp)
	}

	response, err := h.Adapter.DecodeResponse(ctx, body, req)
	if err != nil {
		slog.ErrorContext(ctx, "failed to decode upstream response", "error", err)
		return writeJSONOpenAIError(ctx, w, openaiadapter.NewError(http.StatusBadGateway, openaiadapter.ErrorTypeAPI,
			"Invalid response from upstream: "+err.Error()))
	}

	if len(response.Choices) > 0 && response.Choices[0].FinishReason == types.FinishReasonLength {
		slog.WarnContext(ctx, "output truncated at max_tokens", "deployment", call.Deployment)
	}
	if response.Usage != nil {
		h.Metrics.RecordTokens(ctx, call.Deployment, response.Usage.PromptTokens, response.Usage.CompletionTokens)
	}

	writeJSON(ctx, w, response, http.StatusOK)
	return http.StatusOK
}

// streamResponse streams chat completion chunks using SSE.
//
// Headers go out before the upstream call so slow deployments do not trip client
// timeouts; from then on every failure is reported in-band as an error chunk.
func (h *CreateChatCompletionsHandler) streamResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req *openaiadapter.CreateChatCompletionRequest,
) int {
	call, err := h.Adapter.EncodeRequest(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode upstream request", "error", err)
		return writeJSONOpenAIError(ctx, w, openaiadapter.ProxyError(err.Error()))
	}
	middleware.SetLogAttrs(ctx, call.LogAttrs...)

	sse, err := NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		return writeJSONOpenAIError(ctx, w, openaiadapter.ProxyError(http.StatusText(http.StatusInternalServerError)))
	}

	session := h.Adapter.NewStream(req)

	resp, cancel, err := h.dispatchWithKeepAlive(ctx, sse, call.Body)
	if err != nil {
		errResp := dispatchError(ctx, err)
		if errResp == nil {
			return statusClientClosedRequest
		}
		writeStreamFailure(ctx, sse, session, errResp.Err.Message)
		h.Metrics.RecordStreamOutcome(ctx, string(relay.OutcomeUpstreamError))
		return http.StatusOK
	}

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		cancel()

		errResp := h.Adapter.DecodeError(resp.StatusCode, body)
		slog.ErrorContext(ctx, "upstream returned error",
			"status", resp.StatusCode,
			"type", errResp.Err.Type,
			"message", errResp.Err.Message,
		)
		writeStreamFailure(ctx, sse, session, errResp.Err.Message)
		h.Metrics.RecordStreamOutcome(ctx, string(relay.OutcomeUpstreamError))
		return http.StatusOK
	}

	outcome := h.Relay.Run(ctx, relay.Call{
		Body:    resp.Body,
		Session: session,
		Sink:    sse,
		Cancel:  cancel,
		Model:   req.Model,
	})
	middleware.SetLogAttrs(ctx, slog.String("stream_outcome", string(outcome)))
	h.Metrics.RecordStreamOutcome(ctx, string(outcome))
	h.recordStreamTokens(ctx, session, call.Deployment)

	return http.StatusOK
}

// dispatchWithKeepAlive announces the stream and sends keep-alive comments until the
// upstream answers. On success the returned cancel aborts the upstream request.
func (h *CreateChatCompletionsHandler) dispatchWithKeepAlive(
	ctx context.Context,
	sse *SSEWriter,
	body []byte,
) (*http.Response, context.CancelFunc, error) {
	if err := sse.WriteComment("stream connected"); err != nil {
		return nil, nil, fmt.Errorf("write stream preamble: %w", err)
	}

	stop := keepAlive(ctx, sse, h.PreStreamHeartbeat)
	upstreamCtx, cancel := context.WithCancel(ctx)
	resp, err := h.Upstream.Send(upstreamCtx, body)
	stop()

	if err != nil {
		cancel()
		return nil, nil, err
	}
	return resp, cancel, nil
}

// keepAlive writes heartbeat comments every interval until the returned stop is called.
// stop waits for the writer goroutine, so no heartbeat races later frames.
func keepAlive(ctx context.Context, sse *SSEWriter, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sse.WriteComment("heartbeat"); err != nil {
					slog.DebugContext(ctx, "failed to write pre-stream heartbeat", "error", err)
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func (h *CreateChatCompletionsHandler) recordStreamTokens(ctx context.Context, session relay.Session, deployment string) {
	usageReporter, ok := session.(interface {
		Usage() *types.CompletionUsage
	})
	if !ok {
		return
	}
	if usage := usageReporter.Usage(); usage != nil {
		h.Metrics.RecordTokens(ctx, deployment, usage.PromptTokens, usage.CompletionTokens)
	}
}

// writeStreamFailure ends an SSE response with an error chunk and the end marker.
func writeStreamFailure(ctx context.Context, sse *SSEWriter, session relay.Session, message string) {
	if err := sse.WriteData(session.Failure(message)); err != nil {
		slog.DebugContext(ctx, "failed to write error chunk", "error", err)
		return
	}
	if err := sse.WriteDone(); err != nil {
		slog.DebugContext(ctx, "failed to write stream termination marker", "error", err)
	}
}

// statusClientClosedRequest records requests abandoned by the client. Nothing is written.
const statusClientClosedRequest = 499

// dispatchError maps an upstream dispatch failure to a client error.
// It returns nil when the client went away, in which case nothing should be written.
func dispatchError(ctx context.Context, err error) *openaiadapter.ErrorResponse {
	if ctx.Err() != nil {
		slog.DebugContext(ctx, "request aborted, client disconnected", "error", err)
		return nil
	}

	var cfgErr *upstream.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		slog.ErrorContext(ctx, "upstream not configured", "reason", cfgErr.Reason)
		return openaiadapter.ConfigurationError(cfgErr.Reason)
	case errors.Is(err, upstream.ErrCircuitOpen):
		slog.WarnContext(ctx, "upstream circuit open, failing fast")
		return openaiadapter.ConnectionError("Upstream temporarily unavailable, circuit breaker open")
	default:
		slog.ErrorContext(ctx, "upstream request failed", "error", err)
		return openaiadapter.ConnectionError("Unable to reach Azure API: " + err.Error())
	}
}
