package tokensource

import (
	"net/http"
)

// APIKeyTransport sets the x-api-key header on every request.
type APIKeyTransport struct {
	Key  string
	Base http.RoundTripper
}

// NewAPIKeyTransport wraps base with API key authentication.
func NewAPIKeyTransport(key string, base http.RoundTripper) *APIKeyTransport {
	return &APIKeyTransport{Key: key, Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *APIKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// RoundTripper must not modify the caller's request.
	r := req.Clone(req.Context())
	r.Header.Set("x-api-key", t.Key)
	r.Header.Del("Authorization")
	return base.RoundTrip(r)
}
