package openaiadapter

import (
	"context"
	"log/slog"

	"github.com/ccbridge/ccbridge/internal/openaiadapter/types"
	"github.com/ccbridge/ccbridge/internal/relay"
)

// Adapter defines the contract for transforming client requests to provider API calls.
//
// Adapters never perform I/O. They encode the provider request body, decode buffered
// provider responses and errors, and hand out per-connection stream sessions that the
// relay drives. Dispatch, retries and connection lifecycle belong to the caller.
//
// Type parameters:
//   - TRequest:  Client-specific request structure
//   - TResponse: Client-specific response structure
type Adapter[TRequest, TResponse any] interface {
	// EncodeRequest translates the client request into a provider call.
	// Malformed sub-fields degrade to safe defaults; only structurally impossible
	// requests return an error.
	EncodeRequest(ctx context.Context, clientReq *TRequest) (*ProviderCall, error)

	// DecodeResponse translates a complete provider response body.
	DecodeResponse(ctx context.Context, body []byte, clientReq *TRequest) (*TResponse, error)

	// DecodeError translates a provider error status and body into a client error.
	DecodeError(status int, body []byte) *ErrorResponse

	// NewStream returns fresh, unshared stream state for one connection.
	NewStream(clientReq *TRequest) relay.Session
}

// ProviderCall is an encoded provider request ready for dispatch.
type ProviderCall struct {
	Body       []byte
	Deployment string
	Stream     bool

	// LogAttrs summarize the translated request for access logs.
	LogAttrs []slog.Attr
}

// Type aliases for OpenAI-compatible chat completion operations.
// CreateChatCompletionAdapter is the concrete adapter interface for this operation.
type (
	CreateChatCompletionRequest  = types.CreateChatCompletionRequest
	CreateChatCompletionResponse = types.CreateChatCompletionResponse
	CreateChatCompletionChunk    = types.CreateChatCompletionStreamResponse

	CreateChatCompletionAdapter = Adapter[
		CreateChatCompletionRequest,
		CreateChatCompletionResponse,
	]
)

// Type aliases for OpenAI-compatible error responses.
type (
	Error         = types.Error
	ErrorResponse = types.ErrorResponse
)
