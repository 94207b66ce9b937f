package anthropicclaude

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ccbridge/ccbridge/internal/openaiadapter"
	"github.com/ccbridge/ccbridge/internal/relay"
)

// Options configure a CreateChatCompletionAdapter.
type Options struct {
	Catalog        CatalogConfig
	DedupThreshold int

	// Now is the clock used for chunk timestamps. Defaults to time.Now.
	Now func() time.Time
}

// CreateChatCompletionAdapter translates OpenAI chat completions to Anthropic Messages.
// It holds no per-request state and is safe for concurrent use.
type CreateChatCompletionAdapter struct {
	catalog        *Catalog
	dedupThreshold int
	now            func() time.Time
}

var _ openaiadapter.CreateChatCompletionAdapter = (*CreateChatCompletionAdapter)(nil)

// NewCreateChatCompletionAdapter creates the adapter.
func NewCreateChatCompletionAdapter(opts Options) *CreateChatCompletionAdapter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CreateChatCompletionAdapter{
		catalog:        NewCatalog(opts.Catalog),
		dedupThreshold: opts.DedupThreshold,
		now:            opts.Now,
	}
}

// Catalog returns the model catalog used for routing.
func (a *CreateChatCompletionAdapter) Catalog() *Catalog {
	return a.catalog
}

// EncodeRequest translates the request and encodes the upstream body.
func (a *CreateChatCompletionAdapter) EncodeRequest(
	ctx context.Context,
	clientReq *openaiadapter.CreateChatCompletionRequest,
) (*openaiadapter.ProviderCall, error) {
	req := a.BuildRequest(ctx, clientReq)

	body, err := req.Body()
	if err != nil {
		return nil, fmt.Errorf("encode anthropic request: %w", err)
	}

	return &openaiadapter.ProviderCall{
		Body:       body,
		Deployment: req.Model,
		Stream:     req.Stream,
		LogAttrs: []slog.Attr{
			slog.String("deployment", req.Model),
			slog.Int64("max_tokens", req.MaxTokens),
			slog.Bool("thinking", req.ThinkingBudget > 0),
			slog.Int("tools", len(req.Tools)),
		},
	}, nil
}

// NewStream returns a fresh stream session for one connection.
func (a *CreateChatCompletionAdapter) NewStream(clientReq *openaiadapter.CreateChatCompletionRequest) relay.Session {
	return NewStreamSession(clientReq.Model, StreamOptions{
		DedupThreshold: a.dedupThreshold,
		Now:            a.now,
	})
}
