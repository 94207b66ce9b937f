package anthropicclaude

import (
	"fmt"
	"time"

	"github.com/ccbridge/ccbridge/internal/openaiadapter/types"
)

// Content block types of the Anthropic stream.
const (
	blockText             = "text"
	blockThinking         = "thinking"
	blockRedactedThinking = "redacted_thinking"
	blockToolUse          = "tool_use"
	blockServerToolUse    = "server_tool_use"
)

// Delta types of the Anthropic stream.
const (
	deltaText      = "text_delta"
	deltaThinking  = "thinking_delta"
	deltaInputJSON = "input_json_delta"
)

// DefaultDedupThreshold is how many repeats of the same text fragment pass before
// further repeats are suppressed. Guards against an upstream artifact that replays
// the last fragment.
const DefaultDedupThreshold = 3

// StreamOptions tune a StreamTranslator.
type StreamOptions struct {
	// DedupThreshold defaults to DefaultDedupThreshold. Negative disables suppression.
	DedupThreshold int
	// Now defaults to time.Now.
	Now func() time.Time
}

// StreamTranslator converts Anthropic stream events into OpenAI chunks.
// Not safe for concurrent use.
type StreamTranslator struct {
	state          *StreamState
	dedupThreshold int
	now            func() time.Time
}

// NewStreamTranslator creates a translator for one connection.
func NewStreamTranslator(model string, opts StreamOptions) *StreamTranslator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DedupThreshold == 0 {
		opts.DedupThreshold = DefaultDedupThreshold
	}
	return &StreamTranslator{
		state:          newStreamState(model, fmt.Sprintf("msg_%d", opts.Now().UnixMilli())),
		dedupThreshold: opts.DedupThreshold,
		now:            opts.Now,
	}
}

// State exposes the translation state for inspection.
func (t *StreamTranslator) State() *StreamState {
	return t.state
}

// Translate processes one event and returns the chunks it produces, possibly none.
// Error events are not translated; the caller reports them.
func (t *StreamTranslator) Translate(ev *StreamEvent) []*types.CreateChatCompletionStreamResponse {
	switch ev.Type {
	case EventMessageStart:
		return t.messageStart(ev)
	case EventContentBlockStart:
		return t.contentBlockStart(ev)
	case EventContentBlockDelta:
		return t.contentBlockDelta(ev)
	case EventContentBlockStop:
		return t.contentBlockStop(ev)
	case EventMessageDelta:
		return t.messageDelta(ev)
	case EventMessageStop:
		return t.single(t.Finish())
	default:
		// ping and unknown events keep the connection alive and carry nothing.
		return nil
	}
}

func (t *StreamTranslator) messageStart(ev *StreamEvent) []*types.CreateChatCompletionStreamResponse {
	s := t.state
	if ev.JSON.Message.Valid() {
		msg := ev.Message
		if msg.ID != "" {
			s.messageID = msg.ID
		}
		if msg.Model != "" {
			s.model = string(msg.Model)
		}
		s.usage.mergeStart(msg.Usage)
	}

	// OpenAI clients expect the first chunk to announce the role with null content.
	return t.single(t.chunk(types.ChatCompletionStreamDelta{
		Role:        types.RoleAssistant,
		NullContent: true,
	}, nil))
}

func (t *StreamTranslator) contentBlockStart(ev *StreamEvent) []*types.CreateChatCompletionStreamResponse {
	if !ev.JSON.ContentBlock.Valid() {
		return nil
	}
	block := ev.ContentBlock
	index := int(ev.Index)

	s := t.state
	s.currentBlockIndex = index
	s.currentBlockType = block.Type

	switch block.Type {
	case blockServerToolUse:
		// Server tools run upstream; their blocks cannot round-trip through OpenAI clients.
		s.serverToolBlockIndex = index
		return nil

	case blockThinking, blockRedactedThinking:
		s.inThinkingBlock = true
		return nil

	case blockToolUse:
		acc := s.openToolCall(index, block.ID, block.Name)
		return t.single(t.chunk(types.ChatCompletionStreamDelta{
			ToolCalls: []types.ChatCompletionChunkTool{{
				Index: acc.ClientIndex,
				ID:    acc.ID,
				Type:  types.ToolTypeFunction,
				Function: types.ChatCompletionChunkFn{
					Name:      acc.Name,
					Arguments: "",
				},
			}},
		}, nil))

	default:
		return nil
	}
}

func (t *StreamTranslator) contentBlockDelta(ev *StreamEvent) []*types.CreateChatCompletionStreamResponse {
	s := t.state
	index := int(ev.Index)
	if index == s.serverToolBlockIndex || !ev.JSON.Delta.Valid() {
		return nil
	}

	delta := ev.Delta
	switch delta.Type {
	case deltaText:
		if delta.Text == "" || t.suppressDuplicate(delta.Text) {
			return nil
		}
		text := delta.Text
		return t.single(t.chunk(types.ChatCompletionStreamDelta{Content: &text}, nil))

	case deltaThinking:
		if delta.Thinking == "" {
			return nil
		}
		thinking := delta.Thinking
		return t.single(t.chunk(types.ChatCompletionStreamDelta{ReasoningContent: &thinking}, nil))

	case deltaInputJSON:
		acc, ok := s.toolCalls[index]
		if !ok || delta.PartialJSON == "" {
			return nil
		}
		acc.Append(delta.PartialJSON)
		return t.single(t.argumentsChunk(acc.ClientIndex, delta.PartialJSON))

	default:
		// signature_delta and citations_delta have no OpenAI counterpart.
		return nil
	}
}

// suppressDuplicate tracks the run of identical text fragments and reports whether
// this fragment exceeds the allowed streak.
func (t *StreamTranslator) suppressDuplicate(text string) bool {
	s := t.state
	if text != s.lastEmittedText {
		s.lastEmittedText = text
		s.duplicateStreak = 0
		return false
	}
	s.duplicateStreak++
	return t.dedupThreshold > 0 && s.duplicateStreak >= t.dedupThreshold
}

func (t *StreamTranslator) contentBlockStop(ev *StreamEvent) []*types.CreateChatCompletionStreamResponse {
	s := t.state
	index := int(ev.Index)

	if index == s.serverToolBlockIndex {
		s.serverToolBlockIndex = noBlock
		s.currentBlockType = ""
		return nil
	}

	var out []*types.CreateChatCompletionStreamResponse
	// Zero-argument tools may stream no input_json_delta at all; clients need valid JSON.
	if acc, ok := s.toolCalls[index]; ok && acc.finalize() {
		out = append(out, t.argumentsChunk(acc.ClientIndex, emptyArguments))
	}

	if s.inThinkingBlock && index == s.currentBlockIndex {
		s.inThinkingBlock = false
	}
	s.currentBlockType = ""
	return out
}

func (t *StreamTranslator) messageDelta(ev *StreamEvent) []*types.CreateChatCompletionStreamResponse {
	s := t.state
	if ev.JSON.Usage.Valid() {
		s.usage.mergeDelta(ev.Usage)
	}

	if ev.Delta.StopReason == "" {
		return nil
	}

	s.finishReason = toFinishReason(string(ev.Delta.StopReason))
	// Tool-invoking turns are sometimes marked end_turn; clients only run tools on tool_calls.
	if s.finishReason == types.FinishReasonStop && s.hasToolCalls() {
		s.finishReason = types.FinishReasonToolCalls
	}

	return t.single(t.Finish())
}

// Finish returns the terminal chunk if it was not produced yet, otherwise nil.
// Without a known stop reason the finish reason follows from whether a tool call was opened.
func (t *StreamTranslator) Finish() *types.CreateChatCompletionStreamResponse {
	s := t.state
	if s.finishReasonSent {
		return nil
	}
	s.finishReasonSent = true

	reason := s.finishReason
	if reason == "" {
		reason = types.FinishReasonStop
		if s.hasToolCalls() {
			reason = types.FinishReasonToolCalls
		}
		s.finishReason = reason
	}

	chunk := t.chunk(types.ChatCompletionStreamDelta{}, &reason)
	chunk.Usage = s.usage.toCompletionUsage()
	return chunk
}

// FinishReason returns the finish reason decided so far.
func (t *StreamTranslator) FinishReason() string {
	return t.state.finishReason
}

func (t *StreamTranslator) argumentsChunk(index int, fragment string) *types.CreateChatCompletionStreamResponse {
	return t.chunk(types.ChatCompletionStreamDelta{
		ToolCalls: []types.ChatCompletionChunkTool{{
			Index:    index,
			Function: types.ChatCompletionChunkFn{Arguments: fragment},
		}},
	}, nil)
}

func (t *StreamTranslator) chunk(delta types.ChatCompletionStreamDelta, finishReason *string) *types.CreateChatCompletionStreamResponse {
	return &types.CreateChatCompletionStreamResponse{
		ID:      "chatcmpl-" + t.state.messageID,
		Object:  types.ObjectChatCompletionChunk,
		Created: t.now().Unix(),
		Model:   t.state.model,
		Choices: []types.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
}

func (t *StreamTranslator) single(chunk *types.CreateChatCompletionStreamResponse) []*types.CreateChatCompletionStreamResponse {
	if chunk == nil {
		return nil
	}
	return []*types.CreateChatCompletionStreamResponse{chunk}
}
