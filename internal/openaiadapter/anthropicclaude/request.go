package anthropicclaude

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ccbridge/ccbridge/internal/openaiadapter"
	"github.com/ccbridge/ccbridge/internal/openaiadapter/types"
)

// placeholderUserText opens conversations that would otherwise start with an assistant turn.
const placeholderUserText = "."

// BuildRequest translates an OpenAI chat completion request into a ProviderRequest.
//
// Translation never fails: malformed sub-fields degrade (unparseable tool arguments
// become {}, unknown content parts become text, unsupported tools are dropped).
// The resulting messages start with a user turn and alternate strictly.
func (a *CreateChatCompletionAdapter) BuildRequest(
	ctx context.Context,
	clientReq *openaiadapter.CreateChatCompletionRequest,
) *ProviderRequest {
	system, messages := fromChatCompletionMessages(clientReq.Messages)

	deployment := a.catalog.ResolveDeployment(clientReq.Model)
	budget, keyword := thinkingBudget(a.catalog, clientReq, deployment)
	requested := int64(clientReq.RequestedMaxTokens())

	var maxTokens int64
	switch {
	case keyword:
		maxTokens = a.catalog.ResolveMaxTokens(requested, deployment, true)
	case budget > 0:
		maxTokens = a.catalog.ResolveReasoningMaxTokens(requested, budget, deployment)
	default:
		maxTokens = a.catalog.ResolveMaxTokens(requested, deployment, false)
	}

	if budget >= maxTokens {
		// budget_tokens must stay below max_tokens
		budget = maxTokens - 1
	}
	if !keyword && budget < MinThinkingBudget {
		budget = 0
	}
	thinking := budget > 0

	req := &ProviderRequest{
		Model:          deployment,
		Messages:       normalizeTurns(messages),
		System:         system,
		MaxTokens:      maxTokens,
		Tools:          fromChatCompletionTools(ctx, clientReq.Tools),
		ToolChoice:     parseToolChoice(ctx, clientReq.ToolChoice),
		ThinkingBudget: budget,
		StopSequences:  parseStop(clientReq.Stop),
		Stream:         clientReq.IsStreaming(),
	}

	// Anthropic rejects sampling parameters while extended thinking is enabled.
	if !thinking {
		req.Temperature = clientReq.Temperature
		req.TopP = clientReq.TopP
	}

	slog.DebugContext(ctx, "translated chat completion request",
		"model", clientReq.Model,
		"deployment", deployment,
		"max_tokens", req.MaxTokens,
		"thinking_budget", req.ThinkingBudget,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)

	return req
}

// fromChatCompletionMessages splits the conversation into the system prompt and provider turns.
// System and developer turns are hoisted out of the conversation; order of the rest is preserved.
func fromChatCompletionMessages(msgs []types.ChatCompletionRequestMessage) (string, []ChatMessage) {
	var systemParts []string
	turns := make([]ChatMessage, 0, len(msgs))

	for i := range msgs {
		msg := &msgs[i]

		switch msg.Role {
		case types.RoleSystem, types.RoleDeveloper:
			if text := textOf(msg); strings.TrimSpace(text) != "" {
				systemParts = append(systemParts, text)
			}

		case types.RoleAssistant:
			if turn, ok := fromAssistantMessage(msg); ok {
				turns = append(turns, turn)
			}

		case types.RoleTool:
			part := NewToolResultPart(msg.ToolCallID, toolResultText(msg))
			// Consecutive tool results answer the same assistant turn and share one user turn.
			if n := len(turns); n > 0 && turns[n-1].isToolResultTurn() {
				turns[n-1].Content = append(turns[n-1].Content, part)
				continue
			}
			turns = append(turns, ChatMessage{Role: RoleUser, Content: []ContentPart{part}})

		default:
			turns = append(turns, ChatMessage{Role: RoleUser, Content: fromUserContent(msg)})
		}
	}

	return strings.Join(systemParts, "\n\n"), turns
}

// fromAssistantMessage converts an assistant turn. Turns without text or tool calls are dropped.
func fromAssistantMessage(msg *types.ChatCompletionRequestMessage) (ChatMessage, bool) {
	var content []ContentPart

	if s, ok := msg.ContentString(); ok && s != "" {
		content = append(content, NewTextPart(s))
	} else if parts, ok := msg.ContentParts(); ok {
		for _, part := range parts {
			if part.Type == partTypeText {
				content = append(content, NewTextPart(part.Text))
			}
		}
	}

	for _, call := range msg.ToolCalls {
		content = append(content, NewToolUsePart(call.ID, call.Function.Name, toolUseInput(call.Function.Arguments)))
	}

	if len(content) == 0 {
		return ChatMessage{}, false
	}
	return ChatMessage{Role: RoleAssistant, Content: content}, true
}

// normalizeTurns enforces Anthropic's role alternation: consecutive same-role turns
// are merged and a placeholder user turn is prepended when the first turn is not user.
func normalizeTurns(turns []ChatMessage) []ChatMessage {
	merged := make([]ChatMessage, 0, len(turns)+1)
	for _, turn := range turns {
		if n := len(merged); n > 0 && merged[n-1].Role == turn.Role {
			merged[n-1].Content = append(merged[n-1].Content, turn.Content...)
			continue
		}
		merged = append(merged, ChatMessage{
			Role:    turn.Role,
			Content: append([]ContentPart(nil), turn.Content...),
		})
	}

	if len(merged) == 0 || merged[0].Role != RoleUser {
		merged = append([]ChatMessage{{
			Role:    RoleUser,
			Content: []ContentPart{NewTextPart(placeholderUserText)},
		}}, merged...)
	}
	return merged
}

// parseStop reads OpenAI's stop, which is either a string or an array of strings.
func parseStop(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}

	stop := gjson.ParseBytes(raw)
	switch {
	case stop.Type == gjson.String:
		if s := stop.String(); s != "" {
			return []string{s}
		}
	case stop.IsArray():
		var out []string
		for _, item := range stop.Array() {
			if item.Type == gjson.String && item.String() != "" {
				out = append(out, item.String())
			}
		}
		return out
	}
	return nil
}
