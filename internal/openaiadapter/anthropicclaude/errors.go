package anthropicclaude

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ccbridge/ccbridge/internal/openaiadapter"
)

// DecodeError converts an upstream error response into the OpenAI error envelope.
// The upstream status is preserved. Bodies that are not Anthropic error JSON are
// passed on as the message.
func (a *CreateChatCompletionAdapter) DecodeError(status int, body []byte) *openaiadapter.ErrorResponse {
	return toChatCompletionError(status, body)
}

func toChatCompletionError(status int, body []byte) *openaiadapter.ErrorResponse {
	// Note: Anthropic error responses don't include 'code' or 'param' fields,
	// so these are always empty in the OpenAI-compatible response.
	message, anthropicType := parseUpstreamError(body)
	if message == "" {
		message = fmt.Sprintf("upstream returned %d %s", status, http.StatusText(status))
	}

	errType := mapAnthropicErrorType(anthropicType)
	if anthropicType == "" {
		errType = errorTypeForStatus(status)
	}

	return openaiadapter.NewError(status, errType, message)
}

// parseUpstreamError extracts message and type from an upstream error body.
// Anthropic uses {"type":"error","error":{"type":...,"message":...}}; some gateways
// in front of it answer {"message":...} or plain text instead.
func parseUpstreamError(body []byte) (message, errType string) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", ""
	}
	if !gjson.Valid(trimmed) {
		return trimmed, ""
	}

	parsed := gjson.Parse(trimmed)
	if msg := parsed.Get("error.message"); msg.Exists() {
		return msg.String(), parsed.Get("error.type").String()
	}
	if msg := parsed.Get("message"); msg.Exists() {
		return msg.String(), ""
	}
	if e := parsed.Get("error"); e.Type == gjson.String {
		return e.String(), ""
	}
	return trimmed, ""
}

// mapAnthropicErrorType translates Anthropic error taxonomy to OpenAI-compatible error types.
func mapAnthropicErrorType(anthropicType string) string {
	switch anthropicType {
	case "overloaded_error":
		return openaiadapter.ErrorTypeServer
	case "rate_limit_error":
		return openaiadapter.ErrorTypeRateLimit
	case "invalid_request_error":
		return openaiadapter.ErrorTypeInvalidRequest
	case "authentication_error":
		return openaiadapter.ErrorTypeAuthentication
	case "permission_error":
		return openaiadapter.ErrorTypePermissionDenied
	case "not_found_error":
		return openaiadapter.ErrorTypeNotFound
	case "timeout_error":
		return openaiadapter.ErrorTypeServer
	case "api_error":
		return openaiadapter.ErrorTypeAPI
	case "billing_error":
		return openaiadapter.ErrorTypeInsufficientQuota
	default:
		// Unknown error types default to api_error for safe handling
		return openaiadapter.ErrorTypeAPI
	}
}

// errorTypeForStatus classifies untyped upstream errors by status code.
func errorTypeForStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return openaiadapter.ErrorTypeRateLimit
	case status == http.StatusUnauthorized:
		return openaiadapter.ErrorTypeAuthentication
	case status == http.StatusForbidden:
		return openaiadapter.ErrorTypePermissionDenied
	case status == http.StatusNotFound:
		return openaiadapter.ErrorTypeNotFound
	case status >= 500:
		return openaiadapter.ErrorTypeServer
	case status >= 400:
		return openaiadapter.ErrorTypeInvalidRequest
	default:
		return openaiadapter.ErrorTypeAPI
	}
}
