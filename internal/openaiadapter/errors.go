package openaiadapter

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ccbridge/ccbridge/internal/openaiadapter/types"
)

// OpenAI-compatible error types. The last three are gateway specific.
const (
	ErrorTypeInvalidRequest    = "invalid_request_error"
	ErrorTypeAuthentication    = "authentication_error"
	ErrorTypePermissionDenied  = "permission_denied"
	ErrorTypeNotFound          = "not_found_error"
	ErrorTypeRateLimit         = "rate_limit_error"
	ErrorTypeInsufficientQuota = "insufficient_quota"
	ErrorTypeServer            = "server_error"
	ErrorTypeAPI               = "api_error"
	ErrorTypeConfiguration     = "configuration_error"
	ErrorTypeConnection        = "connection_error"
	ErrorTypeProxy             = "proxy_error"
)

// NewError builds an error response. A zero status defers to StatusFor.
func NewError(status int, errType, message string) *ErrorResponse {
	return &ErrorResponse{
		Err: Error{
			Message: message,
			Type:    errType,
		},
		Status: status,
	}
}

// InvalidRequest reports malformed or missing client input.
func InvalidRequest(message string) *ErrorResponse {
	return NewError(http.StatusBadRequest, ErrorTypeInvalidRequest, message)
}

// ConfigurationError reports missing gateway configuration such as upstream credentials.
func ConfigurationError(message string) *ErrorResponse {
	return NewError(http.StatusInternalServerError, ErrorTypeConfiguration, message)
}

// ConnectionError reports a transport-level failure reaching the upstream.
func ConnectionError(message string) *ErrorResponse {
	return NewError(http.StatusServiceUnavailable, ErrorTypeConnection, message)
}

// ProxyError reports an unexpected gateway failure.
func ProxyError(message string) *ErrorResponse {
	return NewError(http.StatusInternalServerError, ErrorTypeProxy, message)
}

// StatusFor returns the HTTP status of an error response.
// An explicit Status wins; otherwise the status follows OpenAI API conventions for the type.
func StatusFor(errResp *ErrorResponse) int {
	if errResp.Status >= 400 {
		return errResp.Status
	}

	switch errResp.Err.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermissionDenied:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit, ErrorTypeInsufficientQuota:
		return http.StatusTooManyRequests
	case ErrorTypeConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorChunk builds the stream chunk that reports a terminal failure to a client
// that already received SSE headers. It is always followed by the [DONE] marker.
func NewErrorChunk(message string, now time.Time) *CreateChatCompletionChunk {
	content := fmt.Sprintf("[Error: %s]", message)
	finish := types.FinishReasonStop
	return &CreateChatCompletionChunk{
		ID:      fmt.Sprintf("chatcmpl-error-%d", now.Unix()),
		Object:  types.ObjectChatCompletionChunk,
		Created: now.Unix(),
		Model:   "error",
		Choices: []types.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        types.ChatCompletionStreamDelta{Content: &content},
			FinishReason: &finish,
		}},
	}
}
