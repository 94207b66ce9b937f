package upstream

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Default retry settings.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffStep = 2 * time.Second

	// StatusOverloaded is Anthropic's non-standard "overloaded" status.
	StatusOverloaded = 529
)

// maxDrainBytes bounds how much of a failed response body is read before it is closed.
const maxDrainBytes = 64 * 1024

// Policy decides whether and when to retry a dispatch attempt.
// Only rate limiting and overload are retried; every other status and transport
// errors propagate immediately.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BackoffStep is multiplied by the attempt number when no Retry-After is given.
	BackoffStep time.Duration
	// OnRetry is called before each wait. Optional.
	OnRetry func(ctx context.Context, attempt, status int, delay time.Duration)
	// Now is the clock used to interpret HTTP-date Retry-After values. Defaults to time.Now.
	Now func() time.Time
}

// DefaultPolicy returns the standard retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BackoffStep: DefaultBackoffStep,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BackoffStep <= 0 {
		p.BackoffStep = DefaultBackoffStep
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return p
}

// Retryable reports whether a response status warrants another attempt.
func (p Policy) Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == StatusOverloaded
}

// Delay returns the wait before the attempt following the given one (1-based).
// A Retry-After header in seconds or as an HTTP date wins over the linear fallback.
func (p Policy) Delay(attempt int, header http.Header) time.Duration {
	p = p.withDefaults()

	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := at.Sub(p.Now()); d > 0 {
				return d
			}
		}
	}

	return time.Duration(attempt) * p.BackoffStep
}

// Do runs send until it yields a non-retryable result or attempts are exhausted.
// Failed response bodies are drained and closed before the next attempt. The last
// response is returned as is, whatever its status.
func (p Policy) Do(ctx context.Context, send func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	p = p.withDefaults()

	retries := 0
	policy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			return err == nil && resp != nil && p.Retryable(resp.StatusCode)
		}).
		WithMaxAttempts(p.MaxAttempts).
		WithDelayFunc(func(exec failsafe.ExecutionAttempt[*http.Response]) time.Duration {
			return p.Delay(exec.Attempts(), headerOf(exec.LastResult()))
		}).
		OnRetry(func(e failsafe.ExecutionEvent[*http.Response]) {
			retries++
			resp := e.LastResult()
			if resp == nil {
				return
			}
			drain(resp.Body)
			if p.OnRetry != nil {
				p.OnRetry(ctx, retries, resp.StatusCode, p.Delay(retries, resp.Header))
			}
		}).
		ReturnLastFailure().
		Build()

	resp, err := failsafe.With(policy).WithContext(ctx).Get(func() (*http.Response, error) {
		return send(ctx)
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		if resp != nil {
			drain(resp.Body)
		}
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func headerOf(resp *http.Response) http.Header {
	if resp == nil {
		return nil
	}
	return resp.Header
}

// drain discards the rest of a body so the connection can be reused, then closes it.
func drain(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxDrainBytes))
	_ = body.Close()
}
