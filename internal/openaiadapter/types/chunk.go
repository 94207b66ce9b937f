package types

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// CreateChatCompletionStreamResponse is one SSE chunk of a streamed completion.
type CreateChatCompletionStreamResponse struct {
	ID      string                       `json:"id"`
	Object  string                       `json:"object"`
	Created int64                        `json:"created"`
	Model   string                       `json:"model"`
	Choices []ChatCompletionStreamChoice `json:"choices"`
	Usage   *CompletionUsage             `json:"usage,omitempty"`
}

// ChatCompletionStreamChoice carries the partial delta of a chunk.
// FinishReason is null on every chunk except the terminal one.
type ChatCompletionStreamChoice struct {
	Index        int                       `json:"index"`
	Delta        ChatCompletionStreamDelta `json:"delta"`
	FinishReason *string                   `json:"finish_reason"`
}

// ChatCompletionStreamDelta is the incremental message content of a chunk.
type ChatCompletionStreamDelta struct {
	Role             string                    `json:"role,omitempty"`
	Content          *string                   `json:"content,omitempty"`
	ReasoningContent *string                   `json:"reasoning_content,omitempty"`
	ToolCalls        []ChatCompletionChunkTool `json:"tool_calls,omitempty"`

	// NullContent forces "content": null, which some clients expect on the role chunk.
	NullContent bool `json:"-"`
}

// MarshalJSON encodes the delta, emitting an explicit null content when requested.
func (d ChatCompletionStreamDelta) MarshalJSON() ([]byte, error) {
	type plain ChatCompletionStreamDelta
	data, err := json.Marshal(plain(d))
	if err != nil {
		return nil, err
	}
	if !d.NullContent || d.Content != nil {
		return data, nil
	}
	data, err = sjson.SetRawBytes(data, "content", []byte("null"))
	if err != nil {
		return nil, fmt.Errorf("set null content: %w", err)
	}
	return data, nil
}

// ChatCompletionChunkTool is a tool call fragment inside a streamed delta.
// The first fragment for an index carries ID, Type and Name; later ones only arguments.
type ChatCompletionChunkTool struct {
	Index    int                   `json:"index"`
	ID       string                `json:"id,omitempty"`
	Type     string                `json:"type,omitempty"`
	Function ChatCompletionChunkFn `json:"function"`
}

// ChatCompletionChunkFn is the function part of a streamed tool call fragment.
type ChatCompletionChunkFn struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}
