package anthropicclaude

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/respjson"

	"github.com/ccbridge/ccbridge/internal/openaiadapter/types"
)

// toCompletionUsage converts unary Anthropic usage metadata to OpenAI CompletionUsage format.
func toCompletionUsage(usage anthropic.Usage) *types.CompletionUsage {
	completionUsage := &types.CompletionUsage{
		PromptTokens:     int(usage.InputTokens),
		CompletionTokens: int(usage.OutputTokens),
		TotalTokens:      int(usage.InputTokens + usage.OutputTokens),
	}

	// Anthropic's CacheReadInputTokens maps directly to OpenAI's cached_tokens
	if usage.CacheReadInputTokens > 0 {
		completionUsage.PromptTokensDetails = &types.PromptTokensDetails{
			CachedTokens: int(usage.CacheReadInputTokens),
		}
	}

	// CompletionTokensDetails transformation: OpenAI tracks reasoning_tokens separately
	// for extended thinking. Anthropic's thinking content is included in output_tokens
	// without separate breakdown.

	return completionUsage
}

// streamUsage accumulates usage counters across stream events.
// The latest value of each counter wins; observed records whether any counter was seen.
type streamUsage struct {
	input         int64
	output        int64
	cacheRead     int64
	cacheCreation int64
	observed      bool
}

// mergeStart folds the usage of message_start into the accumulator.
func (u *streamUsage) mergeStart(usage anthropic.Usage) {
	u.set(usage.JSON.InputTokens, &u.input, usage.InputTokens)
	u.set(usage.JSON.OutputTokens, &u.output, usage.OutputTokens)
	u.set(usage.JSON.CacheReadInputTokens, &u.cacheRead, usage.CacheReadInputTokens)
	u.set(usage.JSON.CacheCreationInputTokens, &u.cacheCreation, usage.CacheCreationInputTokens)
}

// mergeDelta folds the cumulative usage of message_delta into the accumulator.
func (u *streamUsage) mergeDelta(usage anthropic.MessageDeltaUsage) {
	u.set(usage.JSON.InputTokens, &u.input, usage.InputTokens)
	u.set(usage.JSON.OutputTokens, &u.output, usage.OutputTokens)
	u.set(usage.JSON.CacheReadInputTokens, &u.cacheRead, usage.CacheReadInputTokens)
	u.set(usage.JSON.CacheCreationInputTokens, &u.cacheCreation, usage.CacheCreationInputTokens)
}

// set stores v when the field was present and not null.
func (u *streamUsage) set(field respjson.Field, dst *int64, v int64) {
	if !field.Valid() {
		return
	}
	*dst = v
	u.observed = true
}

// toCompletionUsage reports streamed usage. Prompt tokens include cache reads and
// cache writes, since Anthropic reports them separately from input_tokens.
func (u *streamUsage) toCompletionUsage() *types.CompletionUsage {
	if !u.observed {
		return nil
	}

	prompt := int(u.input + u.cacheRead + u.cacheCreation)
	completion := int(u.output)
	usage := &types.CompletionUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
	if u.cacheRead > 0 {
		usage.PromptTokensDetails = &types.PromptTokensDetails{CachedTokens: int(u.cacheRead)}
	}
	return usage
}
