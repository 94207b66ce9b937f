// Package relay drives one streamed upstream response to one SSE client.
//
// A Relay owns everything that is about the connection rather than the protocol:
// keep-alive heartbeats, the idle watchdog, the hard duration cap, client disconnect,
// and the single finalize path. Protocol knowledge is injected through Session, so the
// relay never inspects the bytes it moves.
//
// All Session calls happen on the goroutine that called Run. A helper goroutine only
// copies upstream bytes into a channel, which keeps per-connection stream state confined
// without locks.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Default lifecycle intervals.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultMaxDuration       = 10 * time.Minute
)

// readBufferSize bounds a single upstream read.
const readBufferSize = 32 * 1024

// Session translates upstream bytes into client payloads for one connection.
type Session interface {
	// Feed consumes a chunk of raw upstream bytes and returns the payloads to send,
	// in order. A non-nil error reports an error embedded in the upstream stream;
	// payloads returned alongside it are still written first.
	Feed(p []byte) ([]any, error)

	// Done reports whether the upstream signalled the end of the message.
	Done() bool

	// Finish returns the terminal payload to synthesize when the upstream ends
	// without one, or nil if the terminal payload was already produced.
	Finish() any

	// Failure returns the payload reporting a terminal error to the client.
	Failure(message string) any
}

// Sink is the client-facing SSE output.
type Sink interface {
	// WriteData writes one `data: <json>` frame.
	WriteData(v any) error
	// WriteComment writes one `: <text>` keep-alive frame.
	WriteComment(text string) error
	// WriteDone writes the `data: [DONE]` end marker.
	WriteDone() error
}

// Outcome classifies how a connection ended.
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeUpstreamEnded      Outcome = "upstream_ended"
	OutcomeIdleTimeout        Outcome = "idle_timeout"
	OutcomeMaxDuration        Outcome = "max_duration"
	OutcomeUpstreamError      Outcome = "upstream_error"
	OutcomeTransportError     Outcome = "transport_error"
	OutcomeClientDisconnected Outcome = "client_disconnected"
	OutcomeWriteFailed        Outcome = "write_failed"
)

// Config holds the lifecycle intervals. Zero values fall back to the defaults.
type Config struct {
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	MaxDuration       time.Duration
}

// Call describes one upstream stream to relay.
type Call struct {
	// Body is the upstream response body. Run closes it.
	Body io.ReadCloser
	// Session is the per-connection protocol state. It must not be shared.
	Session Session
	// Sink receives all client output.
	Sink Sink
	// Cancel aborts the upstream request. Run calls it exactly once.
	Cancel context.CancelFunc
	// Model is the client-requested model, used for logging only.
	Model string
}

// Relay runs connections with a fixed lifecycle configuration.
type Relay struct {
	cfg Config
}

// New creates a Relay, filling unset intervals with defaults.
func New(cfg Config) *Relay {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	return &Relay{cfg: cfg}
}

// Config returns the effective configuration.
func (r *Relay) Config() Config {
	return r.cfg
}

type readResult struct {
	data []byte
	err  error
}

// connection is the state of one Run invocation.
type connection struct {
	call Call
	done chan struct{}
	once sync.Once
}

// Run relays the call until it ends and reports how it ended.
// ctx must be canceled when the client goes away; Run then stops writing,
// cancels the upstream and returns OutcomeClientDisconnected.
func (r *Relay) Run(ctx context.Context, call Call) Outcome {
	c := &connection{
		call: call,
		done: make(chan struct{}),
	}

	reads := make(chan readResult)
	go pump(call.Body, reads, c.done)

	heartbeat := time.NewTicker(r.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	idle := time.NewTimer(r.cfg.IdleTimeout)
	defer idle.Stop()
	deadline := time.NewTimer(r.cfg.MaxDuration)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "client disconnected during stream", "model", call.Model)
			return c.finalize(OutcomeClientDisconnected)

		case <-heartbeat.C:
			if err := call.Sink.WriteComment("heartbeat"); err != nil {
				slog.DebugContext(ctx, "failed to write heartbeat", "error", err)
				return c.finalize(OutcomeWriteFailed)
			}

		case <-idle.C:
			slog.WarnContext(ctx, "upstream idle, ending stream",
				"model", call.Model,
				"idle_timeout", r.cfg.IdleTimeout,
			)
			return c.finalize(c.endGracefully(ctx, OutcomeIdleTimeout))

		case <-deadline.C:
			slog.WarnContext(ctx, "stream exceeded maximum duration",
				"model", call.Model,
				"max_duration", r.cfg.MaxDuration,
			)
			return c.finalize(c.fail(ctx, "Stream exceeded maximum duration", OutcomeMaxDuration))

		case res := <-reads:
			if len(res.data) > 0 {
				idle.Reset(r.cfg.IdleTimeout)

				payloads, feedErr := call.Session.Feed(res.data)
				for _, p := range payloads {
					if err := call.Sink.WriteData(p); err != nil {
						slog.DebugContext(ctx, "failed to write chunk", "error", err)
						return c.finalize(OutcomeWriteFailed)
					}
				}
				if feedErr != nil {
					slog.ErrorContext(ctx, "upstream stream error", "model", call.Model, "error", feedErr)
					return c.finalize(c.fail(ctx, feedErr.Error(), OutcomeUpstreamError))
				}
				if call.Session.Done() {
					if err := call.Sink.WriteDone(); err != nil {
						slog.DebugContext(ctx, "failed to write stream termination marker", "error", err)
						return c.finalize(OutcomeWriteFailed)
					}
					return c.finalize(OutcomeCompleted)
				}
			}

			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return c.finalize(c.endGracefully(ctx, OutcomeUpstreamEnded))
				}
				if ctx.Err() != nil {
					return c.finalize(OutcomeClientDisconnected)
				}
				slog.ErrorContext(ctx, "upstream read failed", "model", call.Model, "error", res.err)
				msg := fmt.Sprintf("Upstream connection error: %v", res.err)
				return c.finalize(c.fail(ctx, msg, OutcomeTransportError))
			}
		}
	}
}

// endGracefully synthesizes a terminal payload if needed and ends the stream.
func (c *connection) endGracefully(ctx context.Context, outcome Outcome) Outcome {
	if terminal := c.call.Session.Finish(); terminal != nil {
		if err := c.call.Sink.WriteData(terminal); err != nil {
			slog.DebugContext(ctx, "failed to write terminal chunk", "error", err)
			return OutcomeWriteFailed
		}
	}
	if err := c.call.Sink.WriteDone(); err != nil {
		slog.DebugContext(ctx, "failed to write stream termination marker", "error", err)
		return OutcomeWriteFailed
	}
	return outcome
}

// fail reports a terminal error to the client and ends the stream.
func (c *connection) fail(ctx context.Context, message string, outcome Outcome) Outcome {
	if err := c.call.Sink.WriteData(c.call.Session.Failure(message)); err != nil {
		slog.DebugContext(ctx, "failed to write error chunk", "error", err)
		return OutcomeWriteFailed
	}
	if err := c.call.Sink.WriteDone(); err != nil {
		slog.DebugContext(ctx, "failed to write stream termination marker", "error", err)
		return OutcomeWriteFailed
	}
	return outcome
}

// finalize releases the upstream exactly once.
func (c *connection) finalize(outcome Outcome) Outcome {
	c.once.Do(func() {
		close(c.done)
		if c.call.Cancel != nil {
			c.call.Cancel()
		}
		if c.call.Body != nil {
			_ = c.call.Body.Close()
		}
	})
	return outcome
}

// pump copies upstream reads into out until the body fails or done is closed.
func pump(body io.Reader, out chan<- readResult, done <-chan struct{}) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		var data []byte
		if n > 0 {
			data = append([]byte(nil), buf[:n]...)
		}
		if n == 0 && err == nil {
			continue
		}
		select {
		case out <- readResult{data: data, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}
