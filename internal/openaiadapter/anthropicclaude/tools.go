package anthropicclaude

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ccbridge/ccbridge/internal/openaiadapter/types"
)

// fromChatCompletionTools keeps the function tools of the request.
// Other tool types have no Anthropic equivalent and are dropped with a warning.
func fromChatCompletionTools(ctx context.Context, tools []types.ChatCompletionTool) []ToolDefinition {
	if len(tools) == 0 {
		return nil
	}

	defs := make([]ToolDefinition, 0, len(tools))
	for i, tool := range tools {
		if tool.Type != types.ToolTypeFunction || tool.Function == nil {
			slog.WarnContext(ctx, "dropping unsupported tool", "index", i, "type", tool.Type)
			continue
		}
		defs = append(defs, ToolDefinition{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}
	return defs
}

// toToolParams converts tool definitions to Anthropic tool params.
func toToolParams(defs []ToolDefinition) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}

	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		toolParam := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{},
			},
		}

		// Transform schema format: OpenAI uses flat JSON Schema object, Anthropic separates
		// properties/required into distinct fields with remaining fields in ExtraFields.
		if params := def.InputSchema; params != nil {
			if props, ok := params["properties"]; ok && props != nil {
				toolParam.InputSchema.Properties = props
			}

			if req, ok := params["required"].([]any); ok {
				var required []string
				for _, r := range req {
					if s, ok := r.(string); ok {
						required = append(required, s)
					}
				}
				toolParam.InputSchema.Required = required
			}

			// Preserve schema fields without dedicated Anthropic struct fields (e.g., additionalProperties).
			var extraFields map[string]any
			for key, value := range params {
				if key != "type" && key != "properties" && key != "required" {
					if extraFields == nil {
						extraFields = make(map[string]any)
					}
					extraFields[key] = value
				}
			}
			toolParam.InputSchema.ExtraFields = extraFields
		}

		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}

// parseToolChoice reads OpenAI's tool_choice, which is either a string or a named
// function object. Absent or unrecognized values yield nil, leaving the choice to the provider.
func parseToolChoice(ctx context.Context, raw json.RawMessage) *ToolChoice {
	if len(raw) == 0 {
		return nil
	}

	choice := gjson.ParseBytes(raw)
	switch {
	case choice.Type == gjson.String:
		switch strings.ToLower(choice.String()) {
		case "auto":
			return &ToolChoice{Kind: ToolChoiceAuto}
		case "required":
			return &ToolChoice{Kind: ToolChoiceAny}
		case "none":
			return &ToolChoice{Kind: ToolChoiceNone}
		}

	case choice.IsObject():
		// Union types require discriminator validation: a function name alone is not enough.
		name := choice.Get("function.name").String()
		if choice.Get("type").String() == types.ToolTypeFunction && name != "" {
			return &ToolChoice{Kind: ToolChoiceTool, Name: name}
		}

	case choice.Type == gjson.Null:
		return nil
	}

	slog.WarnContext(ctx, "ignoring unsupported tool_choice", "tool_choice", string(raw))
	return nil
}

// toToolChoiceParam converts a tool choice to the Anthropic union param.
func toToolChoiceParam(choice ToolChoice) anthropic.ToolChoiceUnionParam {
	switch choice.Kind {
	case ToolChoiceAny:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case ToolChoiceNone:
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	case ToolChoiceTool:
		return anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: choice.Name}}
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}

// toolUseInput parses tool call arguments of an assistant turn.
// Arguments that are not a JSON object degrade to an empty object.
func toolUseInput(arguments string) json.RawMessage {
	trimmed := strings.TrimSpace(arguments)
	if trimmed == "" || !gjson.Valid(trimmed) || !gjson.Parse(trimmed).IsObject() {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}

// toChatCompletionMessageToolCalls converts Anthropic tool use blocks to OpenAI tool calls (non-streaming).
func toChatCompletionMessageToolCalls(content []anthropic.ContentBlockUnion) []types.ChatCompletionMessageToolCall {
	var toolCalls []types.ChatCompletionMessageToolCall

	for _, block := range content {
		if block.Type != "tool_use" {
			continue
		}

		// OpenAI spec requires tool_call_id; generate fallback if missing.
		toolCallID := block.ID
		if toolCallID == "" {
			toolCallID = newToolCallID()
		}

		// OpenAI expects JSON-encoded string, not json.RawMessage.
		arguments := "{}"
		if input := strings.TrimSpace(string(block.Input)); input != "" && input != "null" {
			arguments = input
		}

		toolCalls = append(toolCalls, types.ChatCompletionMessageToolCall{
			ID:   toolCallID,
			Type: types.ToolTypeFunction,
			Function: types.FunctionCall{
				Name:      block.Name,
				Arguments: arguments,
			},
		})
	}

	return toolCalls
}

// newToolCallID generates an OpenAI-style tool call ID (format: call_<8-char-uuid>).
func newToolCallID() string {
	return fmt.Sprintf("call_%s", uuid.New().String()[:8])
}
