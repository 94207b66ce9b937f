package anthropicclaude

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/sjson"
)

// Role is the provider-side role of a conversation turn.
// System and tool turns of the client protocol are folded into these two.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind tags the variant held by a ContentPart.
type PartKind int

const (
	PartText PartKind = iota + 1
	PartImage
	PartToolUse
	PartToolResult
)

func (k PartKind) String() string {
	switch k {
	case PartText:
		return "text"
	case PartImage:
		return "image"
	case PartToolUse:
		return "tool_use"
	case PartToolResult:
		return "tool_result"
	default:
		return fmt.Sprintf("PartKind(%d)", int(k))
	}
}

// ContentPart is one element of a turn's content. Exactly one payload field is set,
// matching Kind; use the constructors rather than literals.
type ContentPart struct {
	Kind       PartKind
	Text       *TextContent
	Image      *ImageContent
	ToolUse    *ToolUseContent
	ToolResult *ToolResultContent
}

// TextContent is plain text.
type TextContent struct {
	Text string
}

// ImageContent is an inline base64 image.
type ImageContent struct {
	MediaType  string
	Base64Data string
}

// ToolUseContent is a tool invocation previously made by the assistant.
type ToolUseContent struct {
	ID        string
	Name      string
	InputJSON json.RawMessage
}

// ToolResultContent is the caller's answer to a tool invocation.
type ToolResultContent struct {
	ToolUseID string
	Content   string
}

// NewTextPart returns a text content part.
func NewTextPart(text string) ContentPart {
	return ContentPart{Kind: PartText, Text: &TextContent{Text: text}}
}

// NewImagePart returns an inline image content part.
func NewImagePart(mediaType, base64Data string) ContentPart {
	return ContentPart{Kind: PartImage, Image: &ImageContent{MediaType: mediaType, Base64Data: base64Data}}
}

// NewToolUsePart returns a tool invocation content part.
func NewToolUsePart(id, name string, input json.RawMessage) ContentPart {
	return ContentPart{Kind: PartToolUse, ToolUse: &ToolUseContent{ID: id, Name: name, InputJSON: input}}
}

// NewToolResultPart returns a tool result content part.
func NewToolResultPart(toolUseID, content string) ContentPart {
	return ContentPart{Kind: PartToolResult, ToolResult: &ToolResultContent{ToolUseID: toolUseID, Content: content}}
}

// toBlockParam converts the part into the Anthropic content block param.
func (p ContentPart) toBlockParam() (anthropic.ContentBlockParamUnion, error) {
	switch p.Kind {
	case PartText:
		return anthropic.NewTextBlock(p.Text.Text), nil
	case PartImage:
		return anthropic.NewImageBlockBase64(p.Image.MediaType, p.Image.Base64Data), nil
	case PartToolUse:
		return anthropic.NewToolUseBlock(p.ToolUse.ID, p.ToolUse.InputJSON, p.ToolUse.Name), nil
	case PartToolResult:
		return anthropic.NewToolResultBlock(p.ToolResult.ToolUseID, p.ToolResult.Content, false), nil
	default:
		return anthropic.ContentBlockParamUnion{}, fmt.Errorf("unknown content part kind %v", p.Kind)
	}
}

// ChatMessage is one provider-side turn.
type ChatMessage struct {
	Role    Role
	Content []ContentPart
}

// isToolResultTurn reports whether the turn is a user turn carrying tool results.
func (m ChatMessage) isToolResultTurn() bool {
	return m.Role == RoleUser && len(m.Content) > 0 && m.Content[0].Kind == PartToolResult
}

// ToolDefinition is a tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolChoiceKind selects how the model may use tools.
type ToolChoiceKind string

const (
	ToolChoiceAuto ToolChoiceKind = "auto"
	ToolChoiceAny  ToolChoiceKind = "any"
	ToolChoiceNone ToolChoiceKind = "none"
	ToolChoiceTool ToolChoiceKind = "tool"
)

// ToolChoice is the tool-choice directive. Name is set only for ToolChoiceTool.
type ToolChoice struct {
	Kind ToolChoiceKind
	Name string
}

// ProviderRequest is the translated request.
//
// Messages always start with a user turn and alternate strictly. ThinkingBudget is
// non-zero only in thinking mode, in which case Temperature and TopP are nil.
type ProviderRequest struct {
	Model          string
	Messages       []ChatMessage
	System         string
	MaxTokens      int64
	Tools          []ToolDefinition
	ToolChoice     *ToolChoice
	ThinkingBudget int64
	Temperature    *float64
	TopP           *float64
	StopSequences  []string
	Stream         bool
}

// Params converts the request into Anthropic SDK parameters.
func (r *ProviderRequest) Params() (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:         anthropic.Model(r.Model),
		MaxTokens:     r.MaxTokens,
		StopSequences: r.StopSequences,
	}

	if r.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: r.System}}
	}

	params.Messages = make([]anthropic.MessageParam, 0, len(r.Messages))
	for i, msg := range r.Messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, part := range msg.Content {
			block, err := part.toBlockParam()
			if err != nil {
				return anthropic.MessageNewParams{}, fmt.Errorf("message %d: %w", i, err)
			}
			blocks = append(blocks, block)
		}

		role := anthropic.MessageParamRoleUser
		if msg.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		params.Messages = append(params.Messages, anthropic.MessageParam{
			Role:    role,
			Content: blocks,
		})
	}

	if r.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(r.ThinkingBudget)
	} else {
		if r.Temperature != nil {
			params.Temperature = anthropic.Float(*r.Temperature)
		}
		if r.TopP != nil {
			params.TopP = anthropic.Float(*r.TopP)
		}
	}

	params.Tools = toToolParams(r.Tools)
	if r.ToolChoice != nil {
		params.ToolChoice = toToolChoiceParam(*r.ToolChoice)
	}

	return params, nil
}

// Body encodes the request as the upstream JSON body.
func (r *ProviderRequest) Body() ([]byte, error) {
	params, err := r.Params()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal provider request: %w", err)
	}

	// MessageNewParams has no stream field; the SDK adds it per call.
	body, err = sjson.SetBytes(body, "stream", r.Stream)
	if err != nil {
		return nil, fmt.Errorf("set stream flag: %w", err)
	}
	return body, nil
}
