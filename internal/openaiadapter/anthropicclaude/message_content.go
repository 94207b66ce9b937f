package anthropicclaude

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ccbridge/ccbridge/internal/openaiadapter/types"
)

// dataURIPattern matches inline base64 images: data:<image/mime>;base64,<payload>.
var dataURIPattern = regexp.MustCompile(`^data:(image/[^;]+);base64,(.+)$`)

// Content part types of the client protocol.
const (
	partTypeText     = "text"
	partTypeImageURL = "image_url"
)

// fromUserContent converts user message content into content parts.
// Array parts are decoded one by one; nothing is dropped, unknown shapes become text.
func fromUserContent(msg *types.ChatCompletionRequestMessage) []ContentPart {
	if s, ok := msg.ContentString(); ok {
		return []ContentPart{NewTextPart(s)}
	}

	if parts, ok := msg.ContentParts(); ok {
		out := make([]ContentPart, 0, len(parts))
		for _, part := range parts {
			out = append(out, fromUserContentPart(part))
		}
		return out
	}

	if msg.IsNullContent() {
		return []ContentPart{NewTextPart("")}
	}

	// Numbers, booleans, objects: keep their literal form.
	return []ContentPart{NewTextPart(strings.TrimSpace(string(msg.Content)))}
}

// fromUserContentPart converts a single user content part.
func fromUserContentPart(part types.ChatCompletionContentPart) ContentPart {
	switch part.Type {
	case partTypeText:
		return NewTextPart(part.Text)

	case partTypeImageURL:
		if part.ImageURL == nil {
			return NewTextPart(rawPartText(part))
		}
		// Ignore image_url.detail ("low"/"high"/"auto") because Anthropic
		// doesn't have equivalent detail level control in API
		return fromImageURL(part.ImageURL.URL)

	default:
		return NewTextPart(rawPartText(part))
	}
}

// fromImageURL decodes an inline data URI into an image part.
// Remote URLs and malformed URIs degrade to a text placeholder naming the URL.
func fromImageURL(url string) ContentPart {
	m := dataURIPattern.FindStringSubmatch(url)
	if m == nil {
		return NewTextPart(fmt.Sprintf("[Image: %s]", url))
	}
	return NewImagePart(m[1], m[2])
}

// rawPartText returns the literal JSON of a content part.
func rawPartText(part types.ChatCompletionContentPart) string {
	if len(part.Raw) > 0 {
		return string(part.Raw)
	}
	data, err := json.Marshal(part)
	if err != nil {
		return ""
	}
	return string(data)
}

// textOf flattens text-only content (system, developer, assistant) into one string.
// Array parts are joined with a newline; non-text parts contribute nothing.
func textOf(msg *types.ChatCompletionRequestMessage) string {
	if s, ok := msg.ContentString(); ok {
		return s
	}
	parts, ok := msg.ContentParts()
	if !ok {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		texts = append(texts, part.Text)
	}
	return strings.Join(texts, "\n")
}

// toolResultText returns tool message content as a string.
// Non-string content is passed on as its JSON encoding.
func toolResultText(msg *types.ChatCompletionRequestMessage) string {
	if s, ok := msg.ContentString(); ok {
		return s
	}
	if msg.IsNullContent() {
		return ""
	}
	return strings.TrimSpace(string(msg.Content))
}
