package anthropicclaude

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccbridge/ccbridge/internal/openaiadapter/types"
)

// sse renders (event, data) pairs in Anthropic's wire format.
func sse(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		b.WriteString("event: " + pairs[i] + "\n")
		b.WriteString("data: " + pairs[i+1] + "\n\n")
	}
	return b.String()
}

func TestStreamSessionFullStream(t *testing.T) {
	session := NewStreamSession("gpt-4", StreamOptions{Now: fixedNow})

	stream := sse(
		"message_start", `{"type":"message_start","message":{"id":"msg_1","model":"claude-haiku-3-5","usage":{"input_tokens":7}}}`,
		"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		"ping", `{"type":"ping"}`,
		"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`,
		"content_block_stop", `{"type":"content_block_stop","index":0}`,
		"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
		"message_stop", `{"type":"message_stop"}`,
	)

	// Split mid-event to exercise buffering.
	half := len(stream) / 2
	first, err := session.Feed([]byte(stream[:half]))
	require.NoError(t, err)
	second, err := session.Feed([]byte(stream[half:]))
	require.NoError(t, err)

	payloads := append(first, second...)
	require.Len(t, payloads, 3)
	assert.True(t, session.Done())
	assert.Nil(t, session.Finish(), "terminal chunk was already sent")

	usage := session.Usage()
	require.NotNil(t, usage)
	assert.Equal(t, 7, usage.PromptTokens)
	assert.Equal(t, 2, usage.CompletionTokens)
}

func TestStreamSessionErrorEvent(t *testing.T) {
	session := NewStreamSession("gpt-4", StreamOptions{Now: fixedNow})

	payloads, err := session.Feed([]byte(sse(
		"message_start", `{"type":"message_start","message":{"id":"msg_1"}}`,
		"error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
		"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
	)))

	require.Len(t, payloads, 1, "chunks before the error are kept")
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "overloaded_error", streamErr.Type)
	assert.Equal(t, "Overloaded", streamErr.Message)
	assert.False(t, session.Done())
}

func TestStreamSessionErrorEventWithoutMessage(t *testing.T) {
	session := NewStreamSession("gpt-4", StreamOptions{Now: fixedNow})

	_, err := session.Feed([]byte(sse("error", `{"type":"error"}`)))

	require.Error(t, err)
	assert.Equal(t, "Stream error from upstream", err.Error())
}

func TestStreamSessionIgnoresEventsAfterStop(t *testing.T) {
	session := NewStreamSession("gpt-4", StreamOptions{Now: fixedNow})

	payloads, err := session.Feed([]byte(sse(
		"message_stop", `{"type":"message_stop"}`,
		"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"late"}}`,
	)))

	require.NoError(t, err)
	require.Len(t, payloads, 1)
	chunk, ok := payloads[0].(*types.CreateChatCompletionStreamResponse)
	require.True(t, ok)
	assert.NotNil(t, chunk.Choices[0].FinishReason)
}

func TestStreamSessionFailure(t *testing.T) {
	session := NewStreamSession("gpt-4", StreamOptions{Now: fixedNow})

	chunk, ok := session.Failure("Upstream idle").(*types.CreateChatCompletionStreamResponse)

	require.True(t, ok)
	assert.Equal(t, "chatcmpl-error-1700000000", chunk.ID)
	assert.Equal(t, "error", chunk.Model)
	assert.Equal(t, "[Error: Upstream idle]", *chunk.Choices[0].Delta.Content)
	assert.Equal(t, types.FinishReasonStop, *chunk.Choices[0].FinishReason)
}

func TestStreamSessionUsageBeforeAnyEvent(t *testing.T) {
	session := NewStreamSession("gpt-4", StreamOptions{Now: fixedNow})

	assert.Nil(t, session.Usage())
}
