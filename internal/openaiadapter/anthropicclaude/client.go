package anthropicclaude

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// messagesPath is the suffix the SDK appends to its base URL.
const messagesPath = "v1/messages"

// newClient creates a new Anthropic client with the provided transport.
// The transport chain needs to handle authentication.
func newClient(transport http.RoundTripper, endpoint string) (*anthropic.Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	httpClient := &http.Client{
		Transport: transport,
	}

	client := anthropic.NewClient(
		option.WithHTTPClient(httpClient),
		option.WithBaseURL(baseURL(endpoint)),
		// Retries belong to the gateway's own policy
		option.WithMaxRetries(0),
		option.WithRequestTimeout(30*time.Second),
	)

	return &client, nil
}

// baseURL derives the SDK base URL from a full messages endpoint URL.
func baseURL(endpoint string) string {
	base, _, _ := strings.Cut(endpoint, "?")
	base = strings.TrimSuffix(strings.TrimRight(base, "/"), messagesPath)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

// Probe sends a minimal unary message to a deployment to verify endpoint and credentials.
func Probe(ctx context.Context, transport http.RoundTripper, endpoint, deployment string) (*anthropic.Message, error) {
	client, err := newClient(transport, endpoint)
	if err != nil {
		return nil, err
	}

	req := &ProviderRequest{
		Model:     deployment,
		MaxTokens: 1,
		Messages: []ChatMessage{{
			Role:    RoleUser,
			Content: []ContentPart{NewTextPart("ping")},
		}},
	}
	params, err := req.Params()
	if err != nil {
		return nil, err
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", deployment, err)
	}
	return msg, nil
}
