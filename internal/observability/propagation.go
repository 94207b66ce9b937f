package observability

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TracePropagationTransport forwards the request context's trace to the upstream
// as W3C traceparent/tracestate headers.
type TracePropagationTransport struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *TracePropagationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	r := req.Clone(req.Context())
	otel.GetTextMapPropagator().Inject(r.Context(), propagation.HeaderCarrier(r.Header))
	return base.RoundTrip(r)
}
