package anthropicclaude

import (
	"bytes"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"
)

// Anthropic stream event types.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// StreamEvent is one decoded Anthropic SSE event. Error events carry no SDK
// variant and only populate Error.
type StreamEvent struct {
	anthropic.MessageStreamEventUnion

	// Error is set on error events.
	Error *StreamError
}

// UnmarshalJSON decodes the SDK union and, for error events, the error object.
func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	if gjson.GetBytes(data, "type").String() == EventError {
		e.Type = EventError
		e.Error = toStreamError(gjson.GetBytes(data, "error"))
		return nil
	}
	return e.MessageStreamEventUnion.UnmarshalJSON(data)
}

var (
	eventPrefix = []byte("event:")
	dataPrefix  = []byte("data:")
	doneMarker  = []byte("[DONE]")
)

// Framer splits raw upstream bytes into stream events.
// It buffers partial lines between calls and must not be shared between connections.
type Framer struct {
	buf     []byte
	pending string
}

// Feed appends p and returns the events completed by it, in arrival order.
// Payloads that are not JSON are dropped.
func (f *Framer) Feed(p []byte) []StreamEvent {
	f.buf = append(f.buf, p...)

	var events []StreamEvent
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(f.buf[:i])
		f.buf = f.buf[i+1:]

		if ev, ok := f.line(line); ok {
			events = append(events, ev)
		}
	}

	// Reclaim the consumed prefix once nothing is pending.
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return events
}

// line processes one complete line. TrimSpace already removed the trailing \r.
func (f *Framer) line(line []byte) (StreamEvent, bool) {
	switch {
	case len(line) == 0:
		f.pending = ""
		return StreamEvent{}, false

	case bytes.HasPrefix(line, eventPrefix):
		f.pending = string(bytes.TrimSpace(line[len(eventPrefix):]))
		return StreamEvent{}, false

	case bytes.HasPrefix(line, dataPrefix):
		label := f.pending
		f.pending = ""

		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if bytes.Equal(payload, doneMarker) || !gjson.ValidBytes(payload) {
			return StreamEvent{}, false
		}

		var ev StreamEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return StreamEvent{}, false
		}
		if label == EventError && ev.Error == nil {
			ev.Error = toStreamError(gjson.GetBytes(payload, "error"))
		}
		if label != "" {
			ev.Type = label
		}
		return ev, true

	default:
		// id:, retry: and comment lines carry nothing for us.
		return StreamEvent{}, false
	}
}
