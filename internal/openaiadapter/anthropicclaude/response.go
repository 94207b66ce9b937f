package anthropicclaude

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ccbridge/ccbridge/internal/openaiadapter"
	"github.com/ccbridge/ccbridge/internal/openaiadapter/types"
)

// DecodeResponse translates a unary Anthropic message into an OpenAI chat completion.
// The response model is the name the client asked for, not the deployment.
func (a *CreateChatCompletionAdapter) DecodeResponse(
	ctx context.Context,
	body []byte,
	clientReq *openaiadapter.CreateChatCompletionRequest,
) (*openaiadapter.CreateChatCompletionResponse, error) {
	var msg anthropic.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode upstream message: %w", err)
	}

	return toChatCompletionResponse(&msg, clientReq.Model, a.now().Unix()), nil
}

// toChatCompletionResponse converts an Anthropic message to the OpenAI response shape.
func toChatCompletionResponse(msg *anthropic.Message, model string, created int64) *types.CreateChatCompletionResponse {
	id := msg.ID
	if id == "" {
		id = newResponseID()
	}

	return &types.CreateChatCompletionResponse{
		ID:      id,
		Object:  types.ObjectChatCompletion,
		Created: created,
		Model:   model,
		Choices: []types.ChatCompletionChoice{{
			Index: 0,
			Message: types.ChatCompletionResponseMessage{
				Role:      types.RoleAssistant,
				Content:   joinTextBlocks(msg.Content),
				ToolCalls: toChatCompletionMessageToolCalls(msg.Content),
			},
			FinishReason: toFinishReason(string(msg.StopReason)),
		}},
		Usage: toCompletionUsage(msg.Usage),
	}
}

// joinTextBlocks concatenates the text blocks of a message, or returns nil when there are none.
// Thinking blocks are not part of the OpenAI message content.
func joinTextBlocks(content []anthropic.ContentBlockUnion) *string {
	var (
		b     strings.Builder
		found bool
	)
	for _, block := range content {
		if block.Type != "text" {
			continue
		}
		found = true
		b.WriteString(block.Text)
	}
	if !found {
		return nil
	}
	text := b.String()
	return &text
}

// toFinishReason maps Anthropic stop reasons to OpenAI finish reasons.
func toFinishReason(stopReason string) string {
	switch anthropic.StopReason(stopReason) {
	case anthropic.StopReasonEndTurn:
		return types.FinishReasonStop
	case anthropic.StopReasonMaxTokens:
		return types.FinishReasonLength
	case anthropic.StopReasonStopSequence:
		return types.FinishReasonStop
	case anthropic.StopReasonToolUse:
		return types.FinishReasonToolCalls
	default:
		// PauseTurn, refusal and unknown reasons have no OpenAI counterpart; "stop" is the closest.
		return types.FinishReasonStop
	}
}

// newResponseID generates an OpenAI-compatible response ID (chatcmpl-<token>).
// Used as fallback when Anthropic doesn't provide an ID in the response.
func newResponseID() string {
	b := make([]byte, 24) // 24 bytes yields 32 URL-safe base64 characters
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
	// Use RawURLEncoding to avoid '+', '/' and trailing '='
	token := base64.RawURLEncoding.EncodeToString(b)
	return "chatcmpl-" + token
}
