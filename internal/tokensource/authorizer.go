package tokensource

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Entra ID endpoint and the scope granting access to Azure AI services.
const (
	entraTokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	CognitiveScope      = "https://cognitiveservices.azure.com/.default"
)

// Authorizer obtains Entra ID access tokens with the client credentials grant.
type Authorizer struct {
	config    *clientcredentials.Config
	transport http.RoundTripper
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithTransport sets the transport used for token requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(a *Authorizer) {
		a.transport = rt
	}
}

// WithTokenURL overrides the token endpoint, e.g. for sovereign clouds.
func WithTokenURL(tokenURL string) Option {
	return func(a *Authorizer) {
		a.config.TokenURL = tokenURL
	}
}

// WithScopes overrides the requested scopes.
func WithScopes(scopes ...string) Option {
	return func(a *Authorizer) {
		a.config.Scopes = scopes
	}
}

// NewAuthorizer creates an Entra ID authorizer for an app registration.
func NewAuthorizer(tenantID, clientID, clientSecret string, opts ...Option) *Authorizer {
	a := &Authorizer{
		config: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     fmt.Sprintf(entraTokenURLFormat, tenantID),
			Scopes:       []string{CognitiveScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TokenSource returns a caching token source. Tokens are refreshed shortly before expiry.
func (a *Authorizer) TokenSource(ctx context.Context) oauth2.TokenSource {
	// oauth2 picks the token request client from the context.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, &http.Client{
		Transport: a.transport,
		Timeout:   30 * time.Second,
	})
	return oauth2.ReuseTokenSourceWithExpiry(nil, a.config.TokenSource(tokenCtx), time.Minute)
}

// Transport wraps base so every request carries an Entra bearer token.
func (a *Authorizer) Transport(ctx context.Context, base http.RoundTripper) http.RoundTripper {
	return &oauth2.Transport{
		Source: a.TokenSource(ctx),
		Base:   base,
	}
}
