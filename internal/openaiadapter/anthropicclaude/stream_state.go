package anthropicclaude

import (
	"strings"
)

// noBlock marks the absence of a block index.
const noBlock = -1

// StreamState holds the per-connection translation state.
// It is owned by exactly one goroutine and never reused across connections.
type StreamState struct {
	messageID string
	model     string

	// toolCalls maps the provider block index to its accumulator.
	toolCalls     map[int]*ToolCallAccumulator
	nextToolIndex int

	finishReason     string
	finishReasonSent bool

	usage streamUsage

	currentBlockIndex    int
	currentBlockType     string
	inThinkingBlock      bool
	serverToolBlockIndex int

	lastEmittedText string
	duplicateStreak int
}

// newStreamState creates the state for one connection. model is the client-requested
// name, used until the upstream reports its own.
func newStreamState(model, messageID string) *StreamState {
	return &StreamState{
		messageID:            messageID,
		model:                model,
		toolCalls:            make(map[int]*ToolCallAccumulator),
		currentBlockIndex:    noBlock,
		serverToolBlockIndex: noBlock,
	}
}

// hasToolCalls reports whether any tool call was opened on this stream.
func (s *StreamState) hasToolCalls() bool {
	return len(s.toolCalls) > 0
}

// openToolCall registers a tool call for the block and assigns the next client-visible index.
// OpenAI numbers tool calls from zero regardless of interleaved text or thinking blocks.
func (s *StreamState) openToolCall(blockIndex int, id, name string) *ToolCallAccumulator {
	acc := &ToolCallAccumulator{
		ClientIndex: s.nextToolIndex,
		ID:          id,
		Name:        name,
	}
	s.nextToolIndex++
	s.toolCalls[blockIndex] = acc
	return acc
}

// ToolCallAccumulator collects the argument fragments of one streamed tool call.
type ToolCallAccumulator struct {
	ClientIndex int
	ID          string
	Name        string

	arguments       strings.Builder
	hasReceivedArgs bool
}

// Append adds an argument fragment.
func (a *ToolCallAccumulator) Append(fragment string) {
	a.arguments.WriteString(fragment)
	a.hasReceivedArgs = true
}

// Arguments returns the arguments received so far.
func (a *ToolCallAccumulator) Arguments() string {
	return a.arguments.String()
}

// finalize synthesizes empty-object arguments when none were streamed.
// It reports whether the synthesized arguments must still be sent to the client.
func (a *ToolCallAccumulator) finalize() bool {
	if a.hasReceivedArgs {
		return false
	}
	a.arguments.WriteString(emptyArguments)
	a.hasReceivedArgs = true
	return true
}

const emptyArguments = "{}"
