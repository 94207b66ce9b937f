package types

import (
	"bytes"
	"encoding/json"
)

// Message roles accepted on the chat completions endpoint.
const (
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// CreateChatCompletionRequest is the body of POST /v1/chat/completions.
type CreateChatCompletionRequest struct {
	Model               string                         `json:"model"`
	Messages            []ChatCompletionRequestMessage `json:"messages" validate:"required,min=1,dive"`
	MaxTokens           *int                           `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int                           `json:"max_completion_tokens,omitempty"`
	Stream              *bool                          `json:"stream,omitempty"`
	Temperature         *float64                       `json:"temperature,omitempty"`
	TopP                *float64                       `json:"top_p,omitempty"`
	Stop                json.RawMessage                `json:"stop,omitempty"`
	Tools               []ChatCompletionTool           `json:"tools,omitempty"`
	ToolChoice          json.RawMessage                `json:"tool_choice,omitempty"`
	ReasoningEffort     *string                        `json:"reasoning_effort,omitempty"`
	User                *string                        `json:"user,omitempty"`
}

// IsStreaming reports whether the client asked for an SSE response.
func (r *CreateChatCompletionRequest) IsStreaming() bool {
	return r.Stream != nil && *r.Stream
}

// RequestedMaxTokens returns max_completion_tokens, falling back to the legacy max_tokens.
func (r *CreateChatCompletionRequest) RequestedMaxTokens() int {
	if r.MaxCompletionTokens != nil {
		return *r.MaxCompletionTokens
	}
	if r.MaxTokens != nil {
		return *r.MaxTokens
	}
	return 0
}

// ChatCompletionRequestMessage is one conversation turn as sent by the client.
// Content is either a string, an array of content parts, or null.
type ChatCompletionRequestMessage struct {
	Role       string                          `json:"role" validate:"required,oneof=system developer user assistant tool"`
	Content    json.RawMessage                 `json:"content,omitempty"`
	Name       string                          `json:"name,omitempty"`
	ToolCalls  []ChatCompletionMessageToolCall `json:"tool_calls,omitempty"`
	ToolCallID string                          `json:"tool_call_id,omitempty"`
}

// ContentString returns the content when it is a JSON string.
func (m *ChatCompletionRequestMessage) ContentString() (string, bool) {
	var s string
	if len(m.Content) == 0 || m.Content[0] != '"' {
		return "", false
	}
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// ContentParts returns the content when it is a JSON array of parts.
func (m *ChatCompletionRequestMessage) ContentParts() ([]ChatCompletionContentPart, bool) {
	trimmed := bytes.TrimSpace(m.Content)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var parts []ChatCompletionContentPart
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return nil, false
	}
	return parts, true
}

// IsNullContent reports whether content was omitted or explicitly null.
func (m *ChatCompletionRequestMessage) IsNullContent() bool {
	trimmed := bytes.TrimSpace(m.Content)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// ChatCompletionContentPart is one element of an array-valued message content.
// Raw keeps the original JSON so unknown part shapes can be forwarded as text.
type ChatCompletionContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *ImageURL       `json:"image_url,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes a content part and retains its raw bytes.
func (p *ChatCompletionContentPart) UnmarshalJSON(data []byte) error {
	type plain ChatCompletionContentPart
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		// Non-object parts (bare strings, numbers) are kept verbatim.
		*p = ChatCompletionContentPart{Raw: append(json.RawMessage(nil), data...)}
		return nil
	}
	*p = ChatCompletionContentPart(decoded)
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ImageURL is the image_url payload of an image content part.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ChatCompletionMessageToolCall is a tool invocation in an assistant message or response.
type ChatCompletionMessageToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletionTool is a tool definition offered to the model.
type ChatCompletionTool struct {
	Type     string              `json:"type"`
	Function *FunctionDefinition `json:"function,omitempty"`
}

// FunctionDefinition describes a callable function and its JSON Schema parameters.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}
