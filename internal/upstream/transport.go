package upstream

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// TransportConfig holds HTTP transport settings for long-lived streaming calls.
var TransportConfig = struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	// HTTP/2 specific settings
	H2ReadIdleTimeout time.Duration
	H2PingTimeout     time.Duration
}{
	MaxIdleConns:        200,
	MaxIdleConnsPerHost: 50,

	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ResponseHeaderTimeout: 300 * time.Second, // large contexts can take minutes before the first byte
	DialTimeout:           30 * time.Second,
	KeepAlive:             30 * time.Second,

	H2ReadIdleTimeout: 30 * time.Second, // Ping if no data received
	H2PingTimeout:     15 * time.Second, // Wait for ping response
}

// NewTransport creates the base transport for upstream calls.
// Credentials are layered on top by the caller.
func NewTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   TransportConfig.DialTimeout,
		KeepAlive: TransportConfig.KeepAlive,
	}

	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          TransportConfig.MaxIdleConns,
		MaxIdleConnsPerHost:   TransportConfig.MaxIdleConnsPerHost,
		IdleConnTimeout:       TransportConfig.IdleConnTimeout,
		TLSHandshakeTimeout:   TransportConfig.TLSHandshakeTimeout,
		ExpectContinueTimeout: TransportConfig.ExpectContinueTimeout,
		ResponseHeaderTimeout: TransportConfig.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	configureHTTP2(t)
	return t
}

// configureHTTP2 enables HTTP/2 PING-based liveness checks, which detect dead
// connections during long silent generations faster than TCP keep-alive.
func configureHTTP2(t *http.Transport) {
	h2, err := http2.ConfigureTransports(t)
	if err != nil {
		return
	}
	h2.ReadIdleTimeout = TransportConfig.H2ReadIdleTimeout
	h2.PingTimeout = TransportConfig.H2PingTimeout
}

// HeaderTransport sets default headers on requests that do not carry them already.
type HeaderTransport struct {
	Header http.Header
	Base   http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	r := req.Clone(req.Context())
	for k, v := range t.Header {
		if r.Header.Get(k) == "" {
			r.Header[k] = v
		}
	}
	return base.RoundTrip(r)
}
