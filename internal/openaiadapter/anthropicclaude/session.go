package anthropicclaude

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/ccbridge/ccbridge/internal/openaiadapter"
	"github.com/ccbridge/ccbridge/internal/openaiadapter/types"
)

// StreamError is an error event embedded in an otherwise successful stream.
type StreamError struct {
	Type    string
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

// StreamSession connects the framer and the translator for one streamed connection.
// It satisfies relay.Session.
type StreamSession struct {
	framer     Framer
	translator *StreamTranslator
	now        func() time.Time
	done       bool
}

// NewStreamSession creates the session of one connection.
func NewStreamSession(model string, opts StreamOptions) *StreamSession {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &StreamSession{
		translator: NewStreamTranslator(model, opts),
		now:        opts.Now,
	}
}

// Feed frames p into events and translates them. An upstream error event stops
// processing; chunks produced before it are still returned.
func (s *StreamSession) Feed(p []byte) ([]any, error) {
	var out []any
	for _, ev := range s.framer.Feed(p) {
		if s.done {
			break
		}

		if ev.Type == EventError {
			if ev.Error == nil {
				return out, toStreamError(gjson.Result{})
			}
			return out, ev.Error
		}

		for _, chunk := range s.translator.Translate(&ev) {
			out = append(out, chunk)
		}

		if ev.Type == EventMessageStop {
			s.done = true
		}
	}
	return out, nil
}

// Done reports whether message_stop was seen.
func (s *StreamSession) Done() bool {
	return s.done
}

// Finish returns the synthesized terminal chunk, or nil if it was already sent.
func (s *StreamSession) Finish() any {
	if chunk := s.translator.Finish(); chunk != nil {
		return chunk
	}
	return nil
}

// Failure returns the error chunk reporting message to the client.
func (s *StreamSession) Failure(message string) any {
	return openaiadapter.NewErrorChunk(message, s.now())
}

// Usage returns the token usage reported by the upstream so far, or nil if none was seen.
func (s *StreamSession) Usage() *types.CompletionUsage {
	return s.translator.State().usage.toCompletionUsage()
}

// Translator exposes the underlying translator.
func (s *StreamSession) Translator() *StreamTranslator {
	return s.translator
}

// toStreamError reads an Anthropic error object. A missing message gets a generic one.
func toStreamError(obj gjson.Result) *StreamError {
	msg := obj.Get("message").String()
	if msg == "" {
		return &StreamError{Type: "api_error", Message: "Stream error from upstream"}
	}
	return &StreamError{Type: obj.Get("type").String(), Message: msg}
}
