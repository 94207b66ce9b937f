package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// SSEWriter writes Server-Sent Events frames and flushes after each one.
// Writes are serialized so a keep-alive goroutine can share the writer with the handler.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sends the event-stream response headers and returns the writer.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Disables response buffering in nginx-style reverse proxies.
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteData writes v as one `data:` frame.
func (s *SSEWriter) WriteData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal SSE data: %w", err)
	}
	return s.frame("data: %s\n\n", data)
}

// WriteRaw writes data verbatim as one `data:` frame.
func (s *SSEWriter) WriteRaw(data string) error {
	return s.frame("data: %s\n\n", data)
}

// WriteDone writes the OpenAI end-of-stream marker.
func (s *SSEWriter) WriteDone() error {
	return s.WriteRaw("[DONE]")
}

// WriteComment writes a comment frame. Clients ignore it; intermediaries see traffic.
func (s *SSEWriter) WriteComment(text string) error {
	return s.frame(": %s\n\n", text)
}

// WriteEvent writes an `event:` line; the next data frame belongs to it.
func (s *SSEWriter) WriteEvent(name string) error {
	return s.frame("event: %s\n", name)
}

// Write copies already-framed upstream bytes and flushes them.
func (s *SSEWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	s.flusher.Flush()
	return n, nil
}

func (s *SSEWriter) frame(format string, arg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, format, arg); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
